// Package memory provides an in-memory datastore for development and tests.
// It implements the same persistence surface as the postgres and sqlite
// packages; nothing survives a restart.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/tg-ingest/internal/ingest"
	"github.com/JakeFAU/tg-ingest/internal/store"
)

var _ store.CycleRepository = (*Store)(nil)

type ledgerKey struct {
	channelID int64
	messageID int
}

type channelKey struct {
	cycleID uuid.UUID
	channel string
}

// Store keeps settings, ledger rows, articles and cycle history in maps.
type Store struct {
	mu       sync.RWMutex
	settings map[string]string
	ledger   map[ledgerKey]time.Time
	articles []ingest.Article
	cycles   map[uuid.UUID]store.CycleRun
	channels map[channelKey]store.ChannelStats

	// failWith, when set, is returned by every operation.
	failWith error
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		settings: make(map[string]string),
		ledger:   make(map[ledgerKey]time.Time),
		cycles:   make(map[uuid.UUID]store.CycleRun),
		channels: make(map[channelKey]store.ChannelStats),
	}
}

// SetFailure makes every subsequent call return err (nil restores normal behavior).
func (s *Store) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

func (s *Store) fail() error {
	if s.failWith == nil {
		return nil
	}
	return errors.Join(ingest.ErrDatastore, s.failWith)
}

// Ping reports the configured failure, if any.
func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fail()
}

// Migrate is a no-op.
func (s *Store) Migrate(context.Context) error {
	return nil
}

// LoadAll returns a copy of every setting.
func (s *Store) LoadAll(context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(s.settings))
	for k, v := range s.settings {
		out[k] = v
	}
	return out, nil
}

// Load returns the requested keys that exist.
func (s *Store) Load(_ context.Context, keys ...string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := s.settings[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

// Save upserts values.
func (s *Store) Save(_ context.Context, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	for k, v := range values {
		s.settings[k] = v
	}
	return nil
}

// Exists reports whether the pair is in the ledger.
func (s *Store) Exists(_ context.Context, channelID int64, messageID int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail(); err != nil {
		return false, err
	}
	_, ok := s.ledger[ledgerKey{channelID, messageID}]
	return ok, nil
}

// Insert adds a ledger row unless present.
func (s *Store) Insert(_ context.Context, rec ingest.ProcessedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	s.insertLocked(rec)
	return nil
}

func (s *Store) insertLocked(rec ingest.ProcessedRecord) {
	key := ledgerKey{rec.ChannelID, rec.MessageID}
	if _, ok := s.ledger[key]; !ok {
		s.ledger[key] = rec.ProcessedAt
	}
}

// DeleteBefore drops ledger rows older than cutoff.
func (s *Store) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return 0, err
	}
	var n int64
	for k, at := range s.ledger {
		if at.Before(cutoff) {
			delete(s.ledger, k)
			n++
		}
	}
	return n, nil
}

// SaveAndMark appends the article and marks the ledger atomically.
func (s *Store) SaveAndMark(_ context.Context, article ingest.Article, record ingest.ProcessedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	article.Tags = append([]string(nil), article.Tags...)
	s.articles = append(s.articles, article)
	s.insertLocked(record)
	return nil
}

// Articles returns a copy of the stored articles in insertion order.
func (s *Store) Articles() []ingest.Article {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ingest.Article(nil), s.articles...)
}

// LedgerSize returns the number of ledger rows.
func (s *Store) LedgerSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ledger)
}

// StartCycle records a running cycle unless it already exists.
func (s *Store) StartCycle(_ context.Context, cycleID uuid.UUID, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	if _, ok := s.cycles[cycleID]; ok {
		return nil
	}
	s.cycles[cycleID] = store.CycleRun{ID: cycleID, StartedAt: startedAt, Status: store.CycleRunning}
	return nil
}

// CompleteCycle finalizes a cycle.
func (s *Store) CompleteCycle(
	_ context.Context,
	cycleID uuid.UUID,
	finishedAt time.Time,
	status store.CycleStatus,
	stats ingest.CycleStats,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	run, ok := s.cycles[cycleID]
	if !ok {
		return nil
	}
	run.FinishedAt = &finishedAt
	run.Status = status
	run.Stats = stats
	if errMsg != nil {
		msg := *errMsg
		run.ErrorMessage = &msg
	}
	s.cycles[cycleID] = run
	return nil
}

// UpsertChannelStats accumulates channel deltas.
func (s *Store) UpsertChannelStats(
	_ context.Context,
	cycleID uuid.UUID,
	channel string,
	delta store.ChannelDelta,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	key := channelKey{cycleID, channel}
	stat := s.channels[key]
	stat.CycleID = cycleID
	stat.Channel = channel
	stat.New += delta.New
	stat.Duplicate += delta.Duplicate
	stat.Images += delta.Images
	if at.After(stat.LastUpdate) {
		stat.LastUpdate = at
	}
	s.channels[key] = stat
	return nil
}

// GetCycle returns one cycle or store.ErrNotFound.
func (s *Store) GetCycle(_ context.Context, cycleID uuid.UUID) (store.CycleRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail(); err != nil {
		return store.CycleRun{}, err
	}
	run, ok := s.cycles[cycleID]
	if !ok {
		return store.CycleRun{}, store.ErrNotFound
	}
	return run, nil
}

// ListCycles returns cycles newest first.
func (s *Store) ListCycles(_ context.Context, status *store.CycleStatus, limit, offset int) ([]store.CycleRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	runs := make([]store.CycleRun, 0, len(s.cycles))
	for _, run := range s.cycles {
		if status != nil && run.Status != *status {
			continue
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return page(runs, limit, offset), nil
}

// ListCycleChannels returns channel aggregates ordered by channel.
func (s *Store) ListCycleChannels(_ context.Context, cycleID uuid.UUID, limit, offset int) ([]store.ChannelStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	var out []store.ChannelStats
	for key, stat := range s.channels {
		if key.cycleID == cycleID {
			out = append(out, stat)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return page(out, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
