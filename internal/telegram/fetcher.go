package telegram

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tg-ingest/internal/ingest"
)

// Rate limiter keys, one per platform method family.
const (
	keyResolve  = "contacts.resolve"
	keyHistory  = "messages.getHistory"
	keyDownload = "upload.getFile"
)

// DefaultBatchSize is the history page size.
const DefaultBatchSize = 100

// MessageIterator walks a channel newest first. It is finite and cannot be
// restarted; call Iterate again to start over from the newest message.
type MessageIterator interface {
	Next(ctx context.Context) bool
	Message() ingest.RawMessage
	Err() error
}

// Pacer blocks until a call for key may proceed.
type Pacer interface {
	Wait(ctx context.Context, key string) error
}

// FetcherConfig tunes paging and per-call timeouts.
type FetcherConfig struct {
	BatchSize      int
	RequestTimeout time.Duration
}

// Fetcher resolves channel targets and reads their history through the session.
type Fetcher struct {
	session *Session
	pacer   Pacer
	cfg     FetcherConfig
	logger  *zap.Logger
}

// NewFetcher wires a Fetcher.
func NewFetcher(session *Session, pacer Pacer, cfg FetcherConfig, logger *zap.Logger) *Fetcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{session: session, pacer: pacer, cfg: cfg, logger: logger}
}

// Resolve looks up target. Any failure is wrapped in ingest.ErrChannelResolution.
func (f *Fetcher) Resolve(ctx context.Context, target ingest.ChannelTarget) (ingest.Channel, error) {
	client, err := f.session.Client()
	if err != nil {
		return ingest.Channel{}, fmt.Errorf("%w: %s: %v", ingest.ErrChannelResolution, target.Raw, err)
	}
	if err := f.pacer.Wait(ctx, keyResolve); err != nil {
		return ingest.Channel{}, fmt.Errorf("%w: %s: %v", ingest.ErrChannelResolution, target.Raw, err)
	}
	rctx, cancel := f.withTimeout(ctx)
	defer cancel()
	ch, err := client.Resolve(rctx, target)
	if err != nil {
		return ingest.Channel{}, fmt.Errorf("%w: %s: %v", ingest.ErrChannelResolution, target.Raw, err)
	}
	f.logger.Debug("channel resolved",
		zap.String("target", target.Raw),
		zap.Int64("channel_id", ch.ID),
		zap.String("title", ch.Title),
	)
	return ch, nil
}

// Iterate returns at most limit messages of ch, newest first.
func (f *Fetcher) Iterate(ctx context.Context, ch ingest.Channel, limit int) (MessageIterator, error) {
	client, err := f.session.Client()
	if err != nil {
		return nil, err
	}
	batch := min(f.cfg.BatchSize, max(limit, 1))
	inner, err := client.History(ctx, ch, batch)
	if err != nil {
		return nil, fmt.Errorf("open history for %d: %w", ch.ID, err)
	}
	return &pacedIterator{inner: inner, pacer: f.pacer, limit: limit, batch: batch, timeout: f.withTimeout}, nil
}

// DownloadPhoto fetches photo into dst.
func (f *Fetcher) DownloadPhoto(ctx context.Context, photo *ingest.PhotoRef, dst string) error {
	client, err := f.session.Client()
	if err != nil {
		return err
	}
	if err := f.pacer.Wait(ctx, keyDownload); err != nil {
		return err
	}
	dctx, cancel := f.withTimeout(ctx)
	defer cancel()
	if err := client.DownloadPhoto(dctx, photo, dst); err != nil {
		return fmt.Errorf("download photo %d: %w", photo.ID, err)
	}
	return nil
}

func (f *Fetcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.cfg.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, f.cfg.RequestTimeout)
}

// pacedIterator caps the underlying stream at limit and takes a history token
// before each page is requested. Every step is bounded by timeout, so a stalled
// page request ends the iteration with a deadline error.
type pacedIterator struct {
	inner   MessageIterator
	pacer   Pacer
	timeout func(context.Context) (context.Context, context.CancelFunc)
	limit   int
	batch   int
	seen    int
	err     error
}

func (it *pacedIterator) Next(ctx context.Context) bool {
	if it.err != nil || it.seen >= it.limit {
		return false
	}
	if it.seen%it.batch == 0 {
		if err := it.pacer.Wait(ctx, keyHistory); err != nil {
			it.err = err
			return false
		}
	}
	pctx, cancel := it.timeout(ctx)
	defer cancel()
	if !it.inner.Next(pctx) {
		if ctx.Err() == nil && pctx.Err() != nil {
			it.err = fmt.Errorf("history page: %w", pctx.Err())
		}
		return false
	}
	it.seen++
	return true
}

func (it *pacedIterator) Message() ingest.RawMessage {
	return it.inner.Message()
}

func (it *pacedIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.inner.Err()
}
