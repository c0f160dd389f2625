package postgres

import (
	"context"
	"fmt"
)

// Migrate creates the core tables when absent. It never alters existing ones.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.schema() {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return datastoreErr("migrate", err)
		}
	}
	return nil
}

func (s *Store) schema() []string {
	t := s.tables
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	config_key   TEXT PRIMARY KEY,
	config_value TEXT,
	config_type  TEXT,
	description  TEXT,
	category     TEXT,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, t.Config),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	channel_id BIGINT NOT NULL,
	message_id BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (channel_id, message_id)
)`, t.Ledger),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_created_at_idx ON %[1]s (created_at)`, t.Ledger),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id         BIGSERIAL PRIMARY KEY,
	title      TEXT NOT NULL,
	content    TEXT NOT NULL,
	tags       TEXT,
	sort_id    INTEGER,
	image_url  TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, t.Article),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id            UUID PRIMARY KEY,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	status        TEXT NOT NULL,
	error_message TEXT,
	stats         JSONB
)`, t.Cycle),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	cycle_id        UUID NOT NULL,
	channel         TEXT NOT NULL,
	last_update     TIMESTAMPTZ NOT NULL,
	new_count       BIGINT NOT NULL DEFAULT 0,
	duplicate_count BIGINT NOT NULL DEFAULT 0,
	image_count     BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (cycle_id, channel)
)`, t.Channels()),
	}
}
