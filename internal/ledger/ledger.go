// Package ledger records which channel messages have already been ingested so
// that a cycle never produces the same article twice.
package ledger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tg-ingest/internal/ingest"
)

// Store is the persistence contract for processed-message keys.
type Store interface {
	Exists(ctx context.Context, channelID int64, messageID int) (bool, error)
	Insert(ctx context.Context, rec ingest.ProcessedRecord) error
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Ledger wraps a Store with the pipeline's failure semantics.
type Ledger struct {
	store  Store
	clock  ingest.Clock
	logger *zap.Logger
}

// New returns a Ledger backed by store.
func New(store Store, clock ingest.Clock, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{store: store, clock: clock, logger: logger}
}

// IsProcessed reports whether the key has been marked. A datastore failure is
// logged and reported as not processed so the message is retried rather than lost.
func (l *Ledger) IsProcessed(ctx context.Context, channelID int64, messageID int) bool {
	ok, err := l.store.Exists(ctx, channelID, messageID)
	if err != nil {
		l.logger.Warn("ledger lookup failed",
			zap.Int64("channel_id", channelID),
			zap.Int("message_id", messageID),
			zap.Error(err),
		)
		return false
	}
	return ok
}

// MarkProcessed records the key. Marking an existing key is a no-op.
func (l *Ledger) MarkProcessed(ctx context.Context, channelID int64, messageID int) error {
	rec := ingest.ProcessedRecord{
		ChannelID:   channelID,
		MessageID:   messageID,
		ProcessedAt: l.clock.Now(),
	}
	if err := l.store.Insert(ctx, rec); err != nil {
		return fmt.Errorf("%w: mark processed %d/%d: %v", ingest.ErrDatastore, channelID, messageID, err)
	}
	return nil
}

// Cleanup deletes entries older than retentionDays and returns how many went.
func (l *Ledger) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be positive, got %d", retentionDays)
	}
	cutoff := l.clock.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	n, err := l.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: ledger cleanup: %v", ingest.ErrDatastore, err)
	}
	if n > 0 {
		l.logger.Info("ledger cleanup", zap.Int64("deleted", n), zap.Int("retention_days", retentionDays))
	}
	return n, nil
}
