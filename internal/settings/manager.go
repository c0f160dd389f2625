// Package settings caches the runtime key/value configuration stored in the
// shared datastore and assembles the typed per-cycle views used by the pipeline.
package settings

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tg-ingest/internal/ingest"
)

const defaultTTL = 30 * time.Second

// Source batch-loads every key/value pair from the datastore.
type Source interface {
	LoadAll(ctx context.Context) (map[string]string, error)
}

// Manager serves typed settings from a TTL-bound snapshot. Reads are lock-free;
// refreshes swap the whole snapshot atomically.
type Manager struct {
	source  Source
	clock   ingest.Clock
	ttl     time.Duration
	logger  *zap.Logger
	current atomic.Pointer[Snapshot]
	refresh sync.Mutex
}

// NewManager wires a Manager. A non-positive ttl uses 30s.
func NewManager(source Source, clock ingest.Clock, ttl time.Duration, logger *zap.Logger) *Manager {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		source: source,
		clock:  clock,
		ttl:    ttl,
		logger: logger,
	}
}

// TTL reports the configured cache lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// GetAll returns the current snapshot, reloading it when older than the TTL.
// When the datastore is unreachable it returns an empty snapshot so every typed
// accessor falls back to its default.
func (m *Manager) GetAll(ctx context.Context) *Snapshot {
	if snap := m.fresh(); snap != nil {
		return snap
	}
	m.refresh.Lock()
	defer m.refresh.Unlock()
	if snap := m.fresh(); snap != nil {
		return snap
	}
	snap, err := m.load(ctx)
	if err != nil {
		m.current.Store(nil)
		m.logger.Error("settings load failed, using defaults", zap.Error(err))
		return NewSnapshot(nil, time.Time{})
	}
	return snap
}

// ForceRefresh drops the cached snapshot and eagerly reloads it.
func (m *Manager) ForceRefresh(ctx context.Context) error {
	m.refresh.Lock()
	defer m.refresh.Unlock()
	m.current.Store(nil)
	if _, err := m.load(ctx); err != nil {
		m.logger.Error("settings force refresh failed", zap.Error(err))
		return err
	}
	return nil
}

// Get returns key coerced to kind, or def.
func (m *Manager) Get(ctx context.Context, key string, def any, kind Kind) any {
	return m.GetAll(ctx).Get(key, def, kind)
}

// String returns a string setting or def.
func (m *Manager) String(ctx context.Context, key, def string) string {
	return m.GetAll(ctx).String(key, def)
}

// Int returns an integer setting or def.
func (m *Manager) Int(ctx context.Context, key string, def int) int {
	return m.GetAll(ctx).Int(key, def)
}

// Bool returns a boolean setting or def.
func (m *Manager) Bool(ctx context.Context, key string, def bool) bool {
	return m.GetAll(ctx).Bool(key, def)
}

// List returns a comma-separated setting or def.
func (m *Manager) List(ctx context.Context, key string, def []string) []string {
	return m.GetAll(ctx).List(key, def)
}

func (m *Manager) fresh() *Snapshot {
	snap := m.current.Load()
	if snap == nil {
		return nil
	}
	if m.clock.Now().Sub(snap.RefreshedAt()) >= m.ttl {
		return nil
	}
	return snap
}

func (m *Manager) load(ctx context.Context) (*Snapshot, error) {
	values, err := m.source.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	snap := NewSnapshot(values, m.clock.Now())
	m.current.Store(snap)
	m.logger.Debug("settings refreshed", zap.Int("keys", len(values)))
	return snap, nil
}
