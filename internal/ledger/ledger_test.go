package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/tg-ingest/internal/clock/fake"
	"github.com/JakeFAU/tg-ingest/internal/ingest"
)

type key struct {
	channel int64
	message int
}

type memStore struct {
	mu   sync.Mutex
	rows map[key]time.Time
	err  error
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[key]time.Time)}
}

func (m *memStore) Exists(_ context.Context, channelID int64, messageID int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	_, ok := m.rows[key{channelID, messageID}]
	return ok, nil
}

func (m *memStore) Insert(_ context.Context, rec ingest.ProcessedRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	k := key{rec.ChannelID, rec.MessageID}
	if _, ok := m.rows[k]; !ok {
		m.rows[k] = rec.ProcessedAt
	}
	return nil
}

func (m *memStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	var n int64
	for k, at := range m.rows {
		if at.Before(cutoff) {
			delete(m.rows, k)
			n++
		}
	}
	return n, nil
}

func TestMarkThenIsProcessed(t *testing.T) {
	t.Parallel()

	l := New(newMemStore(), fake.New(time.Unix(1700000000, 0)), zap.NewNop())
	ctx := context.Background()

	require.False(t, l.IsProcessed(ctx, -1001, 7))
	require.NoError(t, l.MarkProcessed(ctx, -1001, 7))
	require.NoError(t, l.MarkProcessed(ctx, -1001, 7))
	require.True(t, l.IsProcessed(ctx, -1001, 7))
	require.False(t, l.IsProcessed(ctx, -1001, 8))
}

func TestIsProcessedFailsOpen(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	l := New(store, fake.New(time.Unix(0, 0)), zap.NewNop())
	require.NoError(t, l.MarkProcessed(context.Background(), 1, 1))

	store.err = errors.New("db down")
	require.False(t, l.IsProcessed(context.Background(), 1, 1))

	err := l.MarkProcessed(context.Background(), 1, 2)
	require.ErrorIs(t, err, ingest.ErrDatastore)
}

func TestCleanupRemovesOnlyExpiredRows(t *testing.T) {
	t.Parallel()

	clk := fake.New(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))
	store := newMemStore()
	l := New(store, clk, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, l.MarkProcessed(ctx, 1, 1))
	clk.Advance(5 * 24 * time.Hour)
	require.NoError(t, l.MarkProcessed(ctx, 1, 2))
	clk.Advance(3 * 24 * time.Hour)

	n, err := l.Cleanup(ctx, 7)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.False(t, l.IsProcessed(ctx, 1, 1))
	require.True(t, l.IsProcessed(ctx, 1, 2))

	n, err = l.Cleanup(ctx, 7)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestCleanupRejectsNonPositiveRetention(t *testing.T) {
	t.Parallel()

	l := New(newMemStore(), fake.New(time.Unix(0, 0)), zap.NewNop())
	_, err := l.Cleanup(context.Background(), 0)
	require.Error(t, err)
}
