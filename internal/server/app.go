// Package server builds the application graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/tg-ingest/internal/api"
	"github.com/JakeFAU/tg-ingest/internal/clock/system"
	"github.com/JakeFAU/tg-ingest/internal/config"
	"github.com/JakeFAU/tg-ingest/internal/hash/sha256"
	"github.com/JakeFAU/tg-ingest/internal/id/uuid"
	"github.com/JakeFAU/tg-ingest/internal/images"
	"github.com/JakeFAU/tg-ingest/internal/ingest"
	"github.com/JakeFAU/tg-ingest/internal/ledger"
	"github.com/JakeFAU/tg-ingest/internal/logging"
	"github.com/JakeFAU/tg-ingest/internal/parser"
	"github.com/JakeFAU/tg-ingest/internal/policy/ratelimit"
	"github.com/JakeFAU/tg-ingest/internal/policy/retry"
	"github.com/JakeFAU/tg-ingest/internal/progress"
	progresssinks "github.com/JakeFAU/tg-ingest/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/tg-ingest/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/tg-ingest/internal/publisher/pubsub"
	"github.com/JakeFAU/tg-ingest/internal/scheduler"
	"github.com/JakeFAU/tg-ingest/internal/settings"
	gcsstorage "github.com/JakeFAU/tg-ingest/internal/storage/gcs"
	localstorage "github.com/JakeFAU/tg-ingest/internal/storage/local"
	"github.com/JakeFAU/tg-ingest/internal/telegram"
	"github.com/JakeFAU/tg-ingest/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg            config.Config
	logger         *zap.Logger
	clock          ingest.Clock
	datastore      Datastore
	closeStore     func()
	settings       *settings.Manager
	session        *telegram.Session
	fetcher        *telegram.Fetcher
	scheduler      *scheduler.Scheduler
	apiServer      *api.Server
	progressHub    *progress.Hub
	pubsubClient   *pubsub.Client
	gcpPublisher   *gcppublisher.Publisher
	storage        *storage.Client
	tracerShutdown func(context.Context) error
}

// NewLogger builds the process logger from the bootstrap config and installs it globally.
func NewLogger(cfg config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger, clock: system.New()}
	logger.Info("building application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("database_driver", cfg.Database.Driver),
		zap.String("image_backend", cfg.Images.Backend),
	)

	if cfg.Telemetry.TracingEnabled {
		tp, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("tracer init failed: %w", err)
		}
		app.tracerShutdown = tp.Shutdown
	}

	var err error
	app.datastore, app.closeStore, err = OpenDatastore(ctx, cfg.Database, logger.Named("datastore"))
	if err != nil {
		return nil, err
	}
	if err := app.datastore.Migrate(ctx); err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("migrate: %w", err)
	}

	app.settings = settings.NewManager(app.datastore, app.clock, cfg.Settings.TTL, logger.Named("settings"))
	app.session, app.fetcher = NewTelegram(cfg, app.datastore, app.clock, logger)

	uploader, err := setupUploader(ctx, app)
	if err != nil {
		app.Close(ctx)
		return nil, err
	}
	pipeline := images.New(images.Config{
		MaxUploads:      cfg.Images.MaxUploads,
		DownloadTimeout: cfg.Images.DownloadTimeout,
		UploadTimeout:   cfg.Images.UploadTimeout,
		MaxUploadBytes:  cfg.Images.MaxUploadBytes,
	}, app.fetcher, uploader, logger.Named("images"))

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		app.Close(ctx)
		return nil, err
	}
	emitter, err := setupProgress(app)
	if err != nil {
		app.Close(ctx)
		return nil, err
	}

	app.scheduler = scheduler.New(scheduler.Deps{
		Settings:  app.settings,
		Session:   app.session,
		Fetcher:   app.fetcher,
		Ledger:    ledger.New(app.datastore, app.clock, logger.Named("ledger")),
		Parser:    parser.New(linkMappings(cfg.Parser.LinkMappings)),
		Images:    pipeline,
		Articles:  app.datastore,
		Publisher: publisher,
		Progress:  emitter,
		IDs:       uuid.NewUUIDGenerator(),
		Clock:     app.clock,
	}, scheduler.Config{FallbackInterval: cfg.Scheduler.FallbackInterval}, logger.Named("scheduler"))

	app.apiServer = api.NewServer(app.scheduler, app.datastore, app.datastore, logger.Named("api"))
	return app, nil
}

// Run serves the ops API and drives the scheduler until SIGINT/SIGTERM or ctx
// is cancelled. The cycle in flight is allowed to finish.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	runErr := a.scheduler.Run(ctx)
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.Close(shutdownCtx)
	return runErr
}

// Close releases every resource Build acquired. It is safe on a partially built App.
func (a *App) Close(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.gcpPublisher != nil {
		a.gcpPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.session != nil {
		if err := a.session.Close(); err != nil {
			a.logger.Warn("session close failed", zap.Error(err))
		}
	}
	if a.closeStore != nil {
		a.closeStore()
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
	a.logger.Info("shutdown complete")
}

// NewTelegram wires the login relay, session, pacer and fetcher over ds.
func NewTelegram(cfg config.Config, ds Datastore, clock ingest.Clock, logger *zap.Logger) (*telegram.Session, *telegram.Fetcher) {
	relay := telegram.NewRelay(ds, clock, telegram.RelayConfig{
		Poll:    cfg.Scheduler.VerificationPoll,
		Timeout: cfg.Scheduler.VerificationTimeout,
	}, logger.Named("relay"))
	session := telegram.NewSession(telegram.NewGotdFactory(logger.Named("gotd")), relay, cfg.Session.Dir, logger.Named("session"),
		telegram.WithRequestTimeout(cfg.RequestTimeout()))
	pacer := ratelimit.New(ratelimit.Config{DefaultRPS: cfg.Telegram.RPS, DefaultBurst: cfg.Telegram.Burst})
	fetcher := telegram.NewFetcher(session, pacer, telegram.FetcherConfig{
		BatchSize:      cfg.Telegram.HistoryBatchSize,
		RequestTimeout: cfg.RequestTimeout(),
	}, logger.Named("fetcher"))
	return session, fetcher
}

func setupUploader(ctx context.Context, app *App) (images.Uploader, error) {
	cfg := app.cfg.Images
	switch cfg.Backend {
	case "gcs":
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err := gcsstorage.New(app.storage, gcsstorage.Config{
			Bucket:        cfg.GCSBucket,
			PublicBaseURL: cfg.PublicBaseURL,
			CacheControl:  "public, max-age=31536000, immutable",
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("using GCS image backend", zap.String("bucket", cfg.GCSBucket))
		return images.NewBlobUploader(blobs, sha256.New(), app.clock, cfg.GCSPrefix), nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: cfg.LocalDir, PublicBaseURL: cfg.PublicBaseURL})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("using local image backend", zap.String("path", cfg.LocalDir))
		return images.NewBlobUploader(blobs, sha256.New(), app.clock, ""), nil
	default:
		app.logger.Info("using tgState image backend", zap.String("internal_host", cfg.InternalHost))
		client := &http.Client{Timeout: cfg.UploadTimeout}
		return images.NewHostUploader(client, cfg.InternalHost, retry.NewExponentialPolicy(), app.clock, app.logger.Named("uploader")), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (ingest.Publisher, error) {
	cfg := app.cfg.PubSub
	if cfg.TopicName == "" || cfg.ProjectID == "" {
		app.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.NewBounded(1000), nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.gcpPublisher = gcppublisher.New(app.pubsubClient.Topic(cfg.TopicName))
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", cfg.ProjectID),
		zap.String("topic", cfg.TopicName),
	)
	return app.gcpPublisher, nil
}

func setupProgress(app *App) (progress.Emitter, error) {
	cfg := app.cfg.Progress
	if !cfg.Enabled {
		app.logger.Info("progress tracking disabled")
		return progress.NopEmitter{}, nil
	}
	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("progress prometheus sink: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewStoreSink(app.datastore, app.logger.Named("progress_store")),
		promSink,
	}
	if cfg.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
	}
	hubCfg := progress.Config{
		BufferSize:     cfg.BufferSize,
		MaxBatchEvents: cfg.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(cfg.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(cfg.SinkTimeoutMs) * time.Millisecond,
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Int("sinks", len(sinkList)),
	)
	return app.progressHub, nil
}

func linkMappings(in []config.LinkMapping) []parser.LinkMapping {
	out := make([]parser.LinkMapping, 0, len(in))
	for _, m := range in {
		mapping := parser.LinkMapping{Domain: m.Domain, Display: m.Display}
		if m.CategoryID > 0 {
			id := m.CategoryID
			mapping.CategoryID = &id
		}
		out = append(out, mapping)
	}
	return out
}
