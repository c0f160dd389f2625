package settings

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/tg-ingest/internal/clock/fake"
)

type fakeSource struct {
	mu     sync.Mutex
	values map[string]string
	err    error
	calls  int
}

func (f *fakeSource) LoadAll(context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]string, len(f.values))
	for k, v := range f.values {
		out[k] = v
	}
	return out, nil
}

func (f *fakeSource) set(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
}

func (f *fakeSource) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestManagerCachesWithinTTL(t *testing.T) {
	t.Parallel()

	src := &fakeSource{values: map[string]string{KeyScrapeLimit: "40"}}
	clk := fake.New(time.Unix(1700000000, 0))
	m := NewManager(src, clk, 30*time.Second, zap.NewNop())
	ctx := context.Background()

	require.Equal(t, 40, m.Int(ctx, KeyScrapeLimit, 0))
	src.set(KeyScrapeLimit, "50")
	clk.Advance(29 * time.Second)
	require.Equal(t, 40, m.Int(ctx, KeyScrapeLimit, 0))
	require.Equal(t, 1, src.Calls())

	clk.Advance(time.Second)
	require.Equal(t, 50, m.Int(ctx, KeyScrapeLimit, 0))
	require.Equal(t, 2, src.Calls())
}

func TestManagerForceRefreshReloadsEagerly(t *testing.T) {
	t.Parallel()

	src := &fakeSource{values: map[string]string{KeyImageFormat: "webp"}}
	m := NewManager(src, fake.New(time.Unix(0, 0)), time.Hour, zap.NewNop())
	ctx := context.Background()

	require.Equal(t, "webp", m.String(ctx, KeyImageFormat, ""))
	src.set(KeyImageFormat, "jpeg")
	require.NoError(t, m.ForceRefresh(ctx))
	require.Equal(t, 2, src.Calls())
	require.Equal(t, "jpeg", m.String(ctx, KeyImageFormat, ""))
	require.Equal(t, 2, src.Calls())
}

func TestManagerReturnsDefaultsWhenDatastoreDown(t *testing.T) {
	t.Parallel()

	src := &fakeSource{values: map[string]string{KeyRetentionDays: "3"}}
	clk := fake.New(time.Unix(0, 0))
	m := NewManager(src, clk, time.Second, zap.NewNop())
	ctx := context.Background()

	require.Equal(t, 3, m.Int(ctx, KeyRetentionDays, 7))
	src.fail(errors.New("connection refused"))
	clk.Advance(2 * time.Second)

	require.Equal(t, 7, m.Int(ctx, KeyRetentionDays, 7))
	require.Error(t, m.ForceRefresh(ctx))
	require.Equal(t, []string{"x"}, m.List(ctx, KeyBlockedTags, []string{"x"}))
}

func TestManagerConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	t.Parallel()

	src := &fakeSource{values: map[string]string{"a": "1", "b": "1"}}
	clk := fake.New(time.Unix(0, 0))
	m := NewManager(src, clk, time.Hour, zap.NewNop())
	ctx := context.Background()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := m.GetAll(ctx)
				a, _ := snap.Raw("a")
				b, _ := snap.Raw("b")
				if a != b {
					t.Errorf("torn snapshot a=%s b=%s", a, b)
					return
				}
			}
		}()
	}
	for i := 2; i < 50; i++ {
		v := string(rune('0' + i%10))
		src.mu.Lock()
		src.values = map[string]string{"a": v, "b": v}
		src.mu.Unlock()
		require.NoError(t, m.ForceRefresh(ctx))
	}
	close(stop)
	wg.Wait()
}
