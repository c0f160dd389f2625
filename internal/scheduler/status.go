package scheduler

import (
	"time"

	"github.com/JakeFAU/tg-ingest/internal/ingest"
)

// Status is the read-only snapshot served by the ops endpoint.
type Status struct {
	PID           int               `json:"pid"`
	StartedAt     time.Time         `json:"started_at"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	IsRunning     bool              `json:"is_running"`
	CycleCount    int               `json:"cycle_count"`
	CurrentCycle  string            `json:"current_cycle,omitempty"`
	LastCycleID   string            `json:"last_cycle_id,omitempty"`
	LastCycleAt   *time.Time        `json:"last_cycle_at,omitempty"`
	NextRunAt     *time.Time        `json:"next_run_at,omitempty"`
	LastStats     ingest.CycleStats `json:"last_stats"`
	LastError     string            `json:"last_error,omitempty"`
	SessionState  string            `json:"session_state"`
}

// Status returns the current snapshot with uptime and session state filled in.
func (s *Scheduler) Status() Status {
	st := *s.status.Load()
	st.UptimeSeconds = int64(s.clock.Now().Sub(st.StartedAt).Seconds())
	if s.session != nil {
		st.SessionState = s.session.State().String()
	}
	return st
}

// updateStatus copies the current snapshot, applies fn and swaps it in.
func (s *Scheduler) updateStatus(fn func(*Status)) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	next := *s.status.Load()
	fn(&next)
	s.status.Store(&next)
}
