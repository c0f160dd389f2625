// Package images downloads message photos, transcodes them into a bounded
// size, and relocates them to an image host with a fixed number of concurrent
// uploads. A failed upload degrades to a local file reference.
package images

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/tg-ingest/internal/ingest"
	"github.com/JakeFAU/tg-ingest/internal/metrics"
)

// DefaultMaxUploads bounds simultaneous uploads when none is configured.
const DefaultMaxUploads = 5

// DefaultMaxUploadBytes is the image host's upload ceiling.
const DefaultMaxUploadBytes = 20 << 20

var allowedExts = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {},
}

// ErrUploadRejected marks files refused before any network call.
var ErrUploadRejected = errors.New("upload rejected")

// Downloader fetches a message photo into a local path.
type Downloader interface {
	DownloadPhoto(ctx context.Context, photo *ingest.PhotoRef, dst string) error
}

// Config holds the bootstrap knobs of the pipeline.
type Config struct {
	MaxUploads      int64
	DownloadTimeout time.Duration
	UploadTimeout   time.Duration
	MaxUploadBytes  int64
}

// Outcome describes how Process finished.
type Outcome int

// Process outcomes.
const (
	OutcomeUploaded Outcome = iota
	OutcomeFallback
)

// Result is the markdown reference plus how it was produced.
type Result struct {
	Ref     string
	Outcome Outcome
}

// Pipeline runs download, transcode and upload for one photo at a time; the
// upload stage is shared and bounded across callers.
type Pipeline struct {
	cfg        Config
	downloader Downloader
	uploader   Uploader
	encoders   map[string]Encoder
	slots      *semaphore.Weighted
	logger     *zap.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithEncoders replaces the format table.
func WithEncoders(encoders map[string]Encoder) Option {
	return func(p *Pipeline) { p.encoders = encoders }
}

// New wires a Pipeline.
func New(cfg Config, downloader Downloader, uploader Uploader, logger *zap.Logger, opts ...Option) *Pipeline {
	if cfg.MaxUploads <= 0 {
		cfg.MaxUploads = DefaultMaxUploads
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		cfg:        cfg,
		downloader: downloader,
		uploader:   uploader,
		encoders:   DefaultEncoders(),
		slots:      semaphore.NewWeighted(cfg.MaxUploads),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process handles the photo of msg. dateBucket is the YYYYMMDD directory name.
// A download failure is an error; any later failure yields a local fallback
// reference instead.
func (p *Pipeline) Process(ctx context.Context, msg ingest.RawMessage, dateBucket string, cfg ingest.ImageConfig) (Result, error) {
	if !msg.HasPhoto() {
		return Result{}, fmt.Errorf("%w: message %d has no photo", ingest.ErrImagePipeline, msg.ID)
	}
	dir := filepath.Join(cfg.UploadDir, dateBucket)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Result{}, fmt.Errorf("%w: create %s: %v", ingest.ErrImagePipeline, dir, err)
	}
	rawPath := filepath.Join(dir, fmt.Sprintf("photo_%d_%d.jpg", msg.ChannelID, msg.ID))

	dctx, cancel := withTimeout(ctx, p.cfg.DownloadTimeout)
	err := p.downloader.DownloadPhoto(dctx, msg.Photo, rawPath)
	cancel()
	if err != nil {
		return Result{}, fmt.Errorf("%w: download photo: %v", ingest.ErrImagePipeline, err)
	}

	format := normalizeFormat(cfg.Format)
	enc, ok := p.encoders[format]
	if !ok {
		p.logger.Warn("unknown compression format, using webp", zap.String("format", format))
		format, enc = "webp", p.encoders["webp"]
	}
	uploadPath := CompressedPath(rawPath, format)
	res, err := Transcode(rawPath, uploadPath, enc, cfg.Quality, p.logger)
	if err != nil {
		p.logger.Warn("transcode failed, uploading original", zap.String("path", rawPath), zap.Error(err))
		uploadPath = rawPath
	} else {
		metrics.ObserveImageBytes(res.OriginalBytes, res.CompressedBytes)
	}

	url, err := p.upload(ctx, uploadPath, cfg)
	if err != nil {
		p.logger.Warn("image upload failed, keeping local file",
			zap.String("path", uploadPath), zap.Error(err))
		if uploadPath != rawPath {
			p.remove(rawPath)
		}
		metrics.ObserveImage("fallback")
		return Result{Ref: markdownRef(LocalRef(uploadPath)), Outcome: OutcomeFallback}, nil
	}
	p.remove(rawPath)
	if uploadPath != rawPath {
		p.remove(uploadPath)
	}
	p.logger.Info("image uploaded", zap.String("url", url))
	metrics.ObserveImage("uploaded")
	return Result{Ref: markdownRef(url), Outcome: OutcomeUploaded}, nil
}

// upload holds one slot for the duration of the call, whatever the outcome.
func (p *Pipeline) upload(ctx context.Context, path string, cfg ingest.ImageConfig) (string, error) {
	if err := p.checkUploadable(path); err != nil {
		return "", err
	}
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquire upload slot: %w", err)
	}
	metrics.IncActiveUploads()
	defer func() {
		metrics.DecActiveUploads()
		p.slots.Release(1)
	}()

	uctx, cancel := withTimeout(ctx, p.cfg.UploadTimeout)
	defer cancel()
	return p.uploader.Upload(uctx, path, cfg)
}

func (p *Pipeline) checkUploadable(path string) error {
	if _, ok := allowedExts[strings.ToLower(filepath.Ext(path))]; !ok {
		return fmt.Errorf("%w: extension %q not accepted", ErrUploadRejected, filepath.Ext(path))
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat upload: %w", err)
	}
	if info.Size() > p.cfg.MaxUploadBytes {
		return fmt.Errorf("%w: %s exceeds %s", ErrUploadRejected, FormatSize(info.Size()), FormatSize(p.cfg.MaxUploadBytes))
	}
	return nil
}

func (p *Pipeline) remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		p.logger.Warn("remove local image", zap.String("path", path), zap.Error(err))
	}
}

// CompressedPath derives the transcoded file name from the downloaded one.
func CompressedPath(rawPath, format string) string {
	if strings.HasSuffix(rawPath, ".jpg") {
		return strings.TrimSuffix(rawPath, ".jpg") + "_compressed." + format
	}
	return rawPath + "_compressed." + format
}

// LocalRef is the slash-separated relative path used in fallback references.
func LocalRef(path string) string {
	return strings.TrimPrefix(filepath.ToSlash(path), "./")
}

func markdownRef(target string) string {
	return "![](" + target + ")"
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
