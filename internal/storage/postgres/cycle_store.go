package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/tg-ingest/internal/ingest"
	"github.com/JakeFAU/tg-ingest/internal/store"
)

var _ store.CycleRepository = (*Store)(nil)

// StartCycle inserts a running row; replays keep the first start time.
func (s *Store) StartCycle(ctx context.Context, cycleID uuid.UUID, startedAt time.Time) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, started_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING;
	`, s.tables.Cycle)
	if _, err := s.pool.Exec(ctx, query, cycleID, startedAt, string(store.CycleRunning)); err != nil {
		return fmt.Errorf("failed to start cycle: %w", err)
	}
	return nil
}

// CompleteCycle marks a cycle finished with its stats and optional error message.
func (s *Store) CompleteCycle(
	ctx context.Context,
	cycleID uuid.UUID,
	finishedAt time.Time,
	status store.CycleStatus,
	stats ingest.CycleStats,
	errMsg *string,
) error {
	payload, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal cycle stats: %w", err)
	}
	query := fmt.Sprintf(`
		UPDATE %s
		SET finished_at = $2, status = $3, stats = $4, error_message = $5
		WHERE id = $1;
	`, s.tables.Cycle)
	if _, err := s.pool.Exec(ctx, query, cycleID, finishedAt, string(status), payload, errMsg); err != nil {
		return fmt.Errorf("failed to complete cycle: %w", err)
	}
	return nil
}

// UpsertChannelStats applies per-channel deltas for a cycle.
func (s *Store) UpsertChannelStats(
	ctx context.Context,
	cycleID uuid.UUID,
	channel string,
	delta store.ChannelDelta,
	at time.Time,
) error {
	table := s.tables.Channels()
	query := fmt.Sprintf(`
		INSERT INTO %[1]s (cycle_id, channel, last_update, new_count, duplicate_count, image_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (cycle_id, channel) DO UPDATE
		SET last_update = GREATEST(%[1]s.last_update, EXCLUDED.last_update),
			new_count = %[1]s.new_count + EXCLUDED.new_count,
			duplicate_count = %[1]s.duplicate_count + EXCLUDED.duplicate_count,
			image_count = %[1]s.image_count + EXCLUDED.image_count;
	`, table)
	if _, err := s.pool.Exec(ctx, query, cycleID, channel, at, delta.New, delta.Duplicate, delta.Images); err != nil {
		return fmt.Errorf("failed to upsert channel stats: %w", err)
	}
	return nil
}

// GetCycle loads one cycle run.
func (s *Store) GetCycle(ctx context.Context, cycleID uuid.UUID) (store.CycleRun, error) {
	query := fmt.Sprintf(`
		SELECT id, started_at, finished_at, status, error_message, stats
		FROM %s
		WHERE id = $1;
	`, s.tables.Cycle)
	run, err := scanCycle(s.pool.QueryRow(ctx, query, cycleID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.CycleRun{}, store.ErrNotFound
		}
		return store.CycleRun{}, fmt.Errorf("failed to get cycle: %w", err)
	}
	return run, nil
}

// ListCycles returns cycles newest first, optionally filtered by status.
func (s *Store) ListCycles(
	ctx context.Context,
	status *store.CycleStatus,
	limit,
	offset int,
) ([]store.CycleRun, error) {
	query := fmt.Sprintf(`
		SELECT id, started_at, finished_at, status, error_message, stats
		FROM %s
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`, s.tables.Cycle)
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	rows, err := s.pool.Query(ctx, query, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list cycles: %w", err)
	}
	defer rows.Close()

	var runs []store.CycleRun
	for rows.Next() {
		run, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cycle row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cycles: %w", err)
	}
	return runs, nil
}

// ListCycleChannels returns channel aggregates for a cycle.
func (s *Store) ListCycleChannels(
	ctx context.Context,
	cycleID uuid.UUID,
	limit,
	offset int,
) ([]store.ChannelStats, error) {
	query := fmt.Sprintf(`
		SELECT cycle_id, channel, last_update, new_count, duplicate_count, image_count
		FROM %s
		WHERE cycle_id = $1
		ORDER BY channel
		LIMIT $2 OFFSET $3;
	`, s.tables.Channels())
	rows, err := s.pool.Query(ctx, query, cycleID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list cycle channels: %w", err)
	}
	defer rows.Close()

	var out []store.ChannelStats
	for rows.Next() {
		var stat store.ChannelStats
		if err := rows.Scan(
			&stat.CycleID,
			&stat.Channel,
			&stat.LastUpdate,
			&stat.New,
			&stat.Duplicate,
			&stat.Images,
		); err != nil {
			return nil, fmt.Errorf("failed to scan channel row: %w", err)
		}
		out = append(out, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate channels: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCycle(row rowScanner) (store.CycleRun, error) {
	var (
		run     store.CycleRun
		status  string
		payload []byte
	)
	if err := row.Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.ErrorMessage,
		&payload,
	); err != nil {
		return store.CycleRun{}, err
	}
	run.Status = store.CycleStatus(status)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &run.Stats); err != nil {
			return store.CycleRun{}, fmt.Errorf("decode cycle stats: %w", err)
		}
	}
	return run, nil
}
