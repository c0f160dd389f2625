package telegram

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/tg-ingest/internal/ingest"
)

// dialogRefreshInterval limits how often a cache miss may trigger a dialog walk.
const dialogRefreshInterval = 10 * time.Minute

// dialogWarmup fills the peer cache from the account's dialog list when a
// numeric channel lookup misses. Numeric ids carry no access hash, so a
// channel the account has joined is only resolvable once its dialog was seen.
type dialogWarmup struct {
	mu       sync.Mutex
	fill     func(ctx context.Context) error
	isMiss   func(err error) bool
	now      func() time.Time
	interval time.Duration
	last     time.Time
}

// resolve runs lookup and, on a cache miss, fills the cache and tries once more.
func (w *dialogWarmup) resolve(ctx context.Context, lookup func(context.Context) (ingest.Channel, error)) (ingest.Channel, error) {
	ch, err := lookup(ctx)
	if err == nil || !w.isMiss(err) || !w.due() {
		return ch, err
	}
	if ferr := w.fill(ctx); ferr != nil {
		return ingest.Channel{}, fmt.Errorf("%w (dialog walk: %v)", err, ferr)
	}
	return lookup(ctx)
}

func (w *dialogWarmup) due() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	if !w.last.IsZero() && now.Sub(w.last) < w.interval {
		return false
	}
	w.last = now
	return true
}
