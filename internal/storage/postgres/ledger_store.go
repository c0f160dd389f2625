package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/tg-ingest/internal/ingest"
)

// Exists reports whether the (channel, message) pair is in the ledger.
func (s *Store) Exists(ctx context.Context, channelID int64, messageID int) (bool, error) {
	query := fmt.Sprintf(`SELECT 1 FROM %s WHERE channel_id = $1 AND message_id = $2`, s.tables.Ledger)
	var one int
	err := s.pool.QueryRow(ctx, query, channelID, messageID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, datastoreErr("ledger lookup", err)
	}
	return true, nil
}

// Insert adds a ledger row; an existing row is left untouched.
func (s *Store) Insert(ctx context.Context, rec ingest.ProcessedRecord) error {
	if _, err := s.pool.Exec(ctx, s.ledgerInsertSQL(), rec.ChannelID, rec.MessageID, rec.ProcessedAt); err != nil {
		return datastoreErr("ledger insert", err)
	}
	return nil
}

// DeleteBefore removes ledger rows older than cutoff.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE created_at < $1`, s.tables.Ledger)
	tag, err := s.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, datastoreErr("ledger cleanup", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) ledgerInsertSQL() string {
	return fmt.Sprintf(`
INSERT INTO %s (channel_id, message_id, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (channel_id, message_id) DO NOTHING`, s.tables.Ledger)
}
