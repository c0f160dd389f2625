// Package store declares interfaces for persisting cycle history.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/tg-ingest/internal/ingest"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("cycle record not found")

// CycleStatus mirrors the cycle_runs status column.
type CycleStatus string

// Cycle statuses persisted in cycle_runs.status.
const (
	CycleRunning CycleStatus = "running"
	CycleSuccess CycleStatus = "success"
	CycleError   CycleStatus = "error"
)

// Valid reports whether s is one of the persisted statuses.
func (s CycleStatus) Valid() bool {
	switch s {
	case CycleRunning, CycleSuccess, CycleError:
		return true
	default:
		return false
	}
}

// CycleRun models the cycle_runs table for API responses.
type CycleRun struct {
	// ID is the cycle identifier (UUIDv7, so it sorts by start time).
	ID uuid.UUID
	// StartedAt captures when the cycle was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the cycle is marked success/error.
	FinishedAt *time.Time
	// Status is running/success/error.
	Status CycleStatus
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
	// Stats holds the counters reported when the cycle finished.
	Stats ingest.CycleStats
}

// ChannelStats captures per-channel aggregation for a cycle.
type ChannelStats struct {
	CycleID    uuid.UUID
	Channel    string
	LastUpdate time.Time
	New        int64
	Duplicate  int64
	Images     int64
}

// ChannelDelta is one increment applied to a channel row.
type ChannelDelta struct {
	New       int64
	Duplicate int64
	Images    int64
}

// Zero reports whether the delta carries no change.
func (d ChannelDelta) Zero() bool {
	return d.New == 0 && d.Duplicate == 0 && d.Images == 0
}

// CycleRepository persists incremental cycle progress.
type CycleRepository interface {
	// StartCycle inserts (or idempotently keeps) the running row.
	StartCycle(ctx context.Context, cycleID uuid.UUID, startedAt time.Time) error
	// CompleteCycle marks the cycle finished with the provided status, stats and error.
	CompleteCycle(
		ctx context.Context,
		cycleID uuid.UUID,
		finishedAt time.Time,
		status CycleStatus,
		stats ingest.CycleStats,
		errMsg *string,
	) error
	// UpsertChannelStats applies deltas per (cycle, channel).
	UpsertChannelStats(ctx context.Context, cycleID uuid.UUID, channel string, delta ChannelDelta, at time.Time) error

	// GetCycle loads a single cycle run or returns ErrNotFound.
	GetCycle(ctx context.Context, cycleID uuid.UUID) (CycleRun, error)
	// ListCycles returns cycle runs filtered by optional status plus limit/offset.
	ListCycles(ctx context.Context, status *CycleStatus, limit, offset int) ([]CycleRun, error)
	// ListCycleChannels returns aggregated channel stats for one cycle.
	ListCycleChannels(ctx context.Context, cycleID uuid.UUID, limit, offset int) ([]ChannelStats, error)
}
