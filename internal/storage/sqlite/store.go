// Package sqlite provides a cgo-free SQLite backend (modernc.org/sqlite) for
// local development. It implements the same persistence surface as the
// postgres package.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/tg-ingest/internal/ingest"
	"github.com/JakeFAU/tg-ingest/internal/store"
)

var _ store.CycleRepository = (*Store)(nil)

// Store wraps the SQLite connection.
type Store struct {
	db     *sql.DB
	tables store.Tables
}

// Open opens or creates an SQLite database at path and applies the schema.
// Use ":memory:" for an ephemeral database.
func Open(ctx context.Context, path string, tables store.Tables) (*Store, error) {
	tables = tables.WithDefaults()
	if err := tables.Validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer; an in-memory database also lives on a single connection.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	s := &Store{db: db, tables: tables}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return datastoreErr("ping", err)
	}
	return nil
}

// Migrate creates the core tables when absent.
func (s *Store) Migrate(ctx context.Context) error {
	t := s.tables
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		config_key TEXT PRIMARY KEY,
		config_value TEXT,
		config_type TEXT,
		description TEXT,
		category TEXT,
		updated_at INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS %[2]s (
		channel_id INTEGER NOT NULL,
		message_id INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (channel_id, message_id)
	);
	CREATE INDEX IF NOT EXISTS %[2]s_created_at_idx ON %[2]s (created_at);
	CREATE TABLE IF NOT EXISTS %[3]s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		tags TEXT,
		sort_id INTEGER,
		image_url TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS %[4]s (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		status TEXT NOT NULL,
		error_message TEXT,
		stats TEXT
	);
	CREATE TABLE IF NOT EXISTS %[5]s (
		cycle_id TEXT NOT NULL,
		channel TEXT NOT NULL,
		last_update INTEGER NOT NULL,
		new_count INTEGER NOT NULL DEFAULT 0,
		duplicate_count INTEGER NOT NULL DEFAULT 0,
		image_count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (cycle_id, channel)
	);
	`, t.Config, t.Ledger, t.Article, t.Cycle, t.Channels())
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return datastoreErr("migrate", err)
	}
	return nil
}

// --- Settings ---

// LoadAll returns every settings row.
func (s *Store) LoadAll(ctx context.Context) (map[string]string, error) {
	return s.loadValues(ctx, fmt.Sprintf(`SELECT config_key, config_value FROM %s`, s.tables.Config))
}

// Load returns the requested keys; absent keys are omitted.
func (s *Store) Load(ctx context.Context, keys ...string) (map[string]string, error) {
	if len(keys) == 0 {
		return map[string]string{}, nil
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	query := fmt.Sprintf(`SELECT config_key, config_value FROM %s WHERE config_key IN (%s)`, s.tables.Config, placeholders)
	return s.loadValues(ctx, query, args...)
}

func (s *Store) loadValues(ctx context.Context, query string, args ...any) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, datastoreErr("load settings", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key string
		var value sql.NullString
		if err := rows.Scan(&key, &value); err != nil {
			return nil, datastoreErr("scan setting", err)
		}
		values[key] = value.String
	}
	if err := rows.Err(); err != nil {
		return nil, datastoreErr("iterate settings", err)
	}
	return values, nil
}

// Save upserts all values in one transaction.
func (s *Store) Save(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	query := fmt.Sprintf(`
	INSERT INTO %s (config_key, config_value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT (config_key) DO UPDATE
	SET config_value = excluded.config_value, updated_at = excluded.updated_at`, s.tables.Config)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return datastoreErr("begin settings save", err)
	}
	now := time.Now().Unix()
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, query, k, values[k], now); err != nil {
			_ = tx.Rollback()
			return datastoreErr("save setting "+k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return datastoreErr("commit settings save", err)
	}
	return nil
}

// --- Ledger ---

// Exists reports whether the (channel, message) pair is in the ledger.
func (s *Store) Exists(ctx context.Context, channelID int64, messageID int) (bool, error) {
	query := fmt.Sprintf(`SELECT 1 FROM %s WHERE channel_id = ? AND message_id = ?`, s.tables.Ledger)
	var one int
	err := s.db.QueryRowContext(ctx, query, channelID, messageID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, datastoreErr("ledger lookup", err)
	}
	return true, nil
}

// Insert adds a ledger row; an existing row is left untouched.
func (s *Store) Insert(ctx context.Context, rec ingest.ProcessedRecord) error {
	if _, err := s.db.ExecContext(ctx, s.ledgerInsertSQL(), rec.ChannelID, rec.MessageID, rec.ProcessedAt.Unix()); err != nil {
		return datastoreErr("ledger insert", err)
	}
	return nil
}

// DeleteBefore removes ledger rows older than cutoff.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE created_at < ?`, s.tables.Ledger)
	res, err := s.db.ExecContext(ctx, query, cutoff.Unix())
	if err != nil {
		return 0, datastoreErr("ledger cleanup", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, datastoreErr("ledger cleanup rows", err)
	}
	return n, nil
}

func (s *Store) ledgerInsertSQL() string {
	return fmt.Sprintf(`INSERT OR IGNORE INTO %s (channel_id, message_id, created_at) VALUES (?, ?, ?)`, s.tables.Ledger)
}

// --- Articles ---

// SaveAndMark inserts the article and its ledger row in one transaction.
func (s *Store) SaveAndMark(ctx context.Context, article ingest.Article, record ingest.ProcessedRecord) error {
	query := fmt.Sprintf(`INSERT INTO %s (title, content, tags, sort_id, image_url, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		s.tables.Article)
	var sortID sql.NullInt64
	if article.CategoryID != nil {
		sortID = sql.NullInt64{Int64: int64(*article.CategoryID), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return datastoreErr("begin article save", err)
	}
	if _, err := tx.ExecContext(ctx, query,
		article.Title,
		article.Content,
		strings.Join(article.Tags, ", "),
		sortID,
		article.ImageURL,
		article.CreatedAt.Unix(),
	); err != nil {
		_ = tx.Rollback()
		return datastoreErr("insert article", err)
	}
	if _, err := tx.ExecContext(ctx, s.ledgerInsertSQL(), record.ChannelID, record.MessageID, record.ProcessedAt.Unix()); err != nil {
		_ = tx.Rollback()
		return datastoreErr("mark processed", err)
	}
	if err := tx.Commit(); err != nil {
		return datastoreErr("commit article save", err)
	}
	return nil
}

// CountArticles returns the number of stored articles.
func (s *Store) CountArticles(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.tables.Article)).Scan(&n); err != nil {
		return 0, datastoreErr("count articles", err)
	}
	return n, nil
}

// --- Cycle history ---

// StartCycle inserts a running row; replays keep the first start time.
func (s *Store) StartCycle(ctx context.Context, cycleID uuid.UUID, startedAt time.Time) error {
	query := fmt.Sprintf(`INSERT OR IGNORE INTO %s (id, started_at, status) VALUES (?, ?, ?)`, s.tables.Cycle)
	if _, err := s.db.ExecContext(ctx, query, cycleID.String(), startedAt.UnixMilli(), string(store.CycleRunning)); err != nil {
		return fmt.Errorf("start cycle: %w", err)
	}
	return nil
}

// CompleteCycle marks a cycle finished.
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
	query := fmt.Sprintf(`UPDATE %s SET finished_at = ?, status = ?, stats = ?, error_message = ? WHERE id = ?`, s.tables.Cycle)
	var msg sql.NullString
	if errMsg != nil {
		msg = sql.NullString{String: *errMsg, Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, query, finishedAt.UnixMilli(), string(status), string(payload), msg, cycleID.String()); err != nil {
		return fmt.Errorf("complete cycle: %w", err)
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
	query := fmt.Sprintf(`
	INSERT INTO %[1]s (cycle_id, channel, last_update, new_count, duplicate_count, image_count)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (cycle_id, channel) DO UPDATE
	SET last_update = MAX(%[1]s.last_update, excluded.last_update),
		new_count = %[1]s.new_count + excluded.new_count,
		duplicate_count = %[1]s.duplicate_count + excluded.duplicate_count,
		image_count = %[1]s.image_count + excluded.image_count`, s.tables.Channels())
	if _, err := s.db.ExecContext(ctx, query,
		cycleID.String(), channel, at.UnixMilli(), delta.New, delta.Duplicate, delta.Images); err != nil {
		return fmt.Errorf("upsert channel stats: %w", err)
	}
	return nil
}

// GetCycle loads one cycle run.
func (s *Store) GetCycle(ctx context.Context, cycleID uuid.UUID) (store.CycleRun, error) {
	query := fmt.Sprintf(`SELECT id, started_at, finished_at, status, error_message, stats FROM %s WHERE id = ?`, s.tables.Cycle)
	run, err := scanCycle(s.db.QueryRowContext(ctx, query, cycleID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return store.CycleRun{}, store.ErrNotFound
	}
	if err != nil {
		return store.CycleRun{}, fmt.Errorf("get cycle: %w", err)
	}
	return run, nil
}

// ListCycles returns cycles newest first, optionally filtered by status.
func (s *Store) ListCycles(ctx context.Context, status *store.CycleStatus, limit, offset int) ([]store.CycleRun, error) {
	query := fmt.Sprintf(`SELECT id, started_at, finished_at, status, error_message, stats FROM %s`, s.tables.Cycle)
	args := []any{}
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	defer rows.Close()

	var runs []store.CycleRun
	for rows.Next() {
		run, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cycle row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cycles: %w", err)
	}
	return runs, nil
}

// ListCycleChannels returns channel aggregates for a cycle.
func (s *Store) ListCycleChannels(ctx context.Context, cycleID uuid.UUID, limit, offset int) ([]store.ChannelStats, error) {
	query := fmt.Sprintf(`
	SELECT channel, last_update, new_count, duplicate_count, image_count
	FROM %s WHERE cycle_id = ? ORDER BY channel LIMIT ? OFFSET ?`, s.tables.Channels())
	rows, err := s.db.QueryContext(ctx, query, cycleID.String(), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list cycle channels: %w", err)
	}
	defer rows.Close()

	var out []store.ChannelStats
	for rows.Next() {
		stat := store.ChannelStats{CycleID: cycleID}
		var last int64
		if err := rows.Scan(&stat.Channel, &last, &stat.New, &stat.Duplicate, &stat.Images); err != nil {
			return nil, fmt.Errorf("scan channel row: %w", err)
		}
		stat.LastUpdate = time.UnixMilli(last).UTC()
		out = append(out, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCycle(row rowScanner) (store.CycleRun, error) {
	var (
		run      store.CycleRun
		id       string
		started  int64
		finished sql.NullInt64
		status   string
		errMsg   sql.NullString
		payload  sql.NullString
	)
	if err := row.Scan(&id, &started, &finished, &status, &errMsg, &payload); err != nil {
		return store.CycleRun{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return store.CycleRun{}, fmt.Errorf("parse cycle id: %w", err)
	}
	run.ID = parsed
	run.StartedAt = time.UnixMilli(started).UTC()
	if finished.Valid {
		ts := time.UnixMilli(finished.Int64).UTC()
		run.FinishedAt = &ts
	}
	run.Status = store.CycleStatus(status)
	if errMsg.Valid {
		msg := errMsg.String
		run.ErrorMessage = &msg
	}
	if payload.Valid && payload.String != "" {
		if err := json.Unmarshal([]byte(payload.String), &run.Stats); err != nil {
			return store.CycleRun{}, fmt.Errorf("decode cycle stats: %w", err)
		}
	}
	return run, nil
}

func datastoreErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ingest.ErrDatastore, op, err)
}
