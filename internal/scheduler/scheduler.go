// Package scheduler drives the ingestion loop: one sequential cycle per
// interval over every configured channel, with an interruptible sleep between
// cycles.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/tg-ingest/internal/images"
	"github.com/JakeFAU/tg-ingest/internal/ingest"
	"github.com/JakeFAU/tg-ingest/internal/metrics"
	"github.com/JakeFAU/tg-ingest/internal/parser"
	"github.com/JakeFAU/tg-ingest/internal/progress"
	"github.com/JakeFAU/tg-ingest/internal/settings"
	"github.com/JakeFAU/tg-ingest/internal/telegram"
	"github.com/JakeFAU/tg-ingest/internal/telemetry"
)

// Config holds bootstrap fallbacks for values normally read from settings.
type Config struct {
	// FallbackInterval applies when scrape_interval is missing or invalid.
	FallbackInterval time.Duration
}

// Deps bundles the collaborators of a Scheduler.
type Deps struct {
	Settings  Settings
	Session   Session
	Fetcher   Fetcher
	Ledger    Ledger
	Parser    Parser
	Images    ImageProcessor
	Articles  ingest.ArticleStore
	Publisher ingest.Publisher
	Progress  progress.Emitter
	IDs       IDGenerator
	Clock     ingest.Clock
}

// Scheduler runs ingestion cycles.
type Scheduler struct {
	settings  Settings
	session   Session
	fetcher   Fetcher
	ledger    Ledger
	parser    Parser
	images    ImageProcessor
	articles  ingest.ArticleStore
	publisher ingest.Publisher
	progress  progress.Emitter
	ids       IDGenerator
	clock     ingest.Clock
	cfg       Config
	logger    *zap.Logger

	statusMu sync.Mutex
	status   atomic.Pointer[Status]
}

// New wires a Scheduler. Publisher and Progress are optional.
func New(deps Deps, cfg Config, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FallbackInterval <= 0 {
		cfg.FallbackInterval = time.Duration(settings.DefaultIntervalMinutes) * time.Minute
	}
	if deps.Progress == nil {
		deps.Progress = progress.NopEmitter{}
	}
	s := &Scheduler{
		settings:  deps.Settings,
		session:   deps.Session,
		fetcher:   deps.Fetcher,
		ledger:    deps.Ledger,
		parser:    deps.Parser,
		images:    deps.Images,
		articles:  deps.Articles,
		publisher: deps.Publisher,
		progress:  deps.Progress,
		ids:       deps.IDs,
		clock:     deps.Clock,
		cfg:       cfg,
		logger:    logger,
	}
	s.status.Store(&Status{PID: os.Getpid(), StartedAt: deps.Clock.Now()})
	return s
}

// Result summarizes one cycle.
type Result struct {
	ID       uuid.UUID
	Stats    ingest.CycleStats
	Interval time.Duration
	Elapsed  time.Duration
}

// Run loops until ctx is cancelled. A cycle in flight when ctx is cancelled
// runs to completion; the sleep between cycles returns immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", zap.Duration("fallback_interval", s.cfg.FallbackInterval))
	for {
		if ctx.Err() != nil {
			s.logger.Info("scheduler stopped")
			return nil
		}
		res, err := s.RunOnce(context.WithoutCancel(ctx))
		wait := res.Interval
		if wait <= 0 {
			wait = s.cfg.FallbackInterval
		}
		next := s.clock.Now().Add(wait)
		s.updateStatus(func(st *Status) { st.NextRunAt = &next })
		if err != nil {
			s.logger.Error("cycle failed, backing off",
				zap.Stringer("cycle_id", res.ID),
				zap.Duration("backoff", wait),
				zap.Error(err),
			)
		} else {
			s.logger.Info("next cycle scheduled", zap.Time("next_run", next), zap.Duration("interval", wait))
		}

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-s.clock.After(wait):
		}
	}
}

// RunOnce executes a single cycle. The returned Result carries the interval
// to wait before the next cycle even when err is non-nil.
func (s *Scheduler) RunOnce(ctx context.Context) (Result, error) {
	id, err := s.ids.NewRawID()
	if err != nil {
		return Result{Interval: s.cfg.FallbackInterval}, fmt.Errorf("cycle id: %w", err)
	}
	start := s.clock.Now()
	res := Result{ID: id, Interval: s.cfg.FallbackInterval}

	ctx, span := telemetry.Tracer().Start(ctx, "scheduler.cycle")
	span.SetAttributes(attribute.String("cycle.id", id.String()))
	defer span.End()

	s.progress.Emit(progress.Event{CycleID: progress.UUIDToBytes(id), TS: start, Stage: progress.StageCycleStart})
	s.updateStatus(func(st *Status) {
		st.IsRunning = true
		st.CurrentCycle = id.String()
	})
	log := s.logger.With(zap.Stringer("cycle_id", id))
	log.Info("cycle started")

	stats, interval, err := s.cycle(ctx, id, log)
	res.Stats = stats
	if interval > 0 {
		res.Interval = interval
	}
	end := s.clock.Now()
	res.Elapsed = end.Sub(start)
	s.finish(id, res, err, end, log)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (s *Scheduler) finish(id uuid.UUID, res Result, err error, end time.Time, log *zap.Logger) {
	stats := res.Stats
	evt := progress.Event{
		CycleID: progress.UUIDToBytes(id),
		TS:      end,
		Stage:   progress.StageCycleDone,
		Dur:     res.Elapsed,
		Stats:   &stats,
	}
	status := "success"
	if err != nil {
		status = "error"
		evt.Stage = progress.StageCycleError
		evt.Note = err.Error()
	}
	s.progress.Emit(evt)
	metrics.ObserveCycle(status, res.Elapsed)

	s.updateStatus(func(st *Status) {
		st.IsRunning = false
		st.CurrentCycle = ""
		st.CycleCount++
		st.LastCycleID = id.String()
		st.LastCycleAt = &end
		st.LastStats = stats
		st.LastError = ""
		if err != nil {
			st.LastError = err.Error()
		}
	})

	if err != nil {
		return
	}
	log.Info("cycle finished",
		zap.Int("total", stats.Total),
		zap.Int("new", stats.New),
		zap.Int("duplicate", stats.Duplicate),
		zap.Int("blocked_tags_removed", stats.BlockedTagsRemoved),
		zap.Int("skipped_targets", stats.SkippedTargets),
		zap.Int("images", stats.Images),
		zap.Int("image_fallbacks", stats.ImageFallbacks),
		zap.Int64("ledger_cleaned", stats.Cleaned),
		zap.Duration("elapsed", res.Elapsed),
		zap.Time("next_run", end.Add(res.Interval)),
	)
}

// cycle runs the ordered steps. The interval is returned as soon as settings
// are read so that failures back off by the configured amount.
func (s *Scheduler) cycle(ctx context.Context, id uuid.UUID, log *zap.Logger) (ingest.CycleStats, time.Duration, error) {
	var stats ingest.CycleStats

	if err := s.settings.ForceRefresh(ctx); err != nil {
		log.Warn("settings refresh failed, using defaults", zap.Error(err))
	}
	snap := s.settings.GetAll(ctx)
	cycleCfg, channelsRaw := settings.Cycle(snap, s.cfg.FallbackInterval)
	cycleCfg.Targets = telegram.ParseTargets(channelsRaw, settings.GlobalLimit(cycleCfg))

	tgCfg, err := settings.Telegram(snap)
	if err != nil {
		return stats, cycleCfg.Interval, err
	}

	if err := s.session.EnsureConnected(ctx, tgCfg); err != nil {
		if errors.Is(err, ingest.ErrProviderRateLimited) {
			log.Error("login rate limited by provider", zap.String("guidance", telegram.RateLimitGuidance))
		}
		return stats, cycleCfg.Interval, fmt.Errorf("ensure connected: %w", err)
	}

	cleaned, err := s.ledger.Cleanup(ctx, cycleCfg.RetentionDays)
	if err != nil {
		log.Warn("ledger cleanup failed", zap.Error(err))
	} else {
		stats.Cleaned = cleaned
		metrics.AddLedgerCleaned(cleaned)
	}

	if len(cycleCfg.Targets) == 0 {
		log.Warn("no channels configured")
	}
	for _, target := range cycleCfg.Targets {
		s.processTarget(ctx, id, target, cycleCfg, &stats, log)
	}
	return stats, cycleCfg.Interval, nil
}

func (s *Scheduler) processTarget(
	ctx context.Context,
	id uuid.UUID,
	target ingest.ChannelTarget,
	cfg ingest.CycleConfig,
	stats *ingest.CycleStats,
	log *zap.Logger,
) {
	start := s.clock.Now()
	log = log.With(zap.String("target", target.Raw))
	ctx, span := telemetry.Tracer().Start(ctx, "scheduler.channel")
	span.SetAttributes(attribute.String("channel.target", target.Raw), attribute.Int("channel.limit", target.Limit))
	defer span.End()

	ch, err := s.fetcher.Resolve(ctx, target)
	if err != nil {
		log.Warn("skipping channel", zap.Error(err))
		stats.SkippedTargets++
		span.RecordError(err)
		return
	}
	it, err := s.fetcher.Iterate(ctx, ch, target.Limit)
	if err != nil {
		log.Warn("skipping channel, history unavailable", zap.Error(err))
		stats.SkippedTargets++
		span.RecordError(err)
		return
	}

	before := *stats
	for it.Next(ctx) {
		msg := it.Message()
		if msg.ChannelID == 0 {
			msg.ChannelID = ch.ID
		}
		s.processMessage(ctx, id, target.Raw, msg, cfg, stats, log)
	}
	if err := it.Err(); err != nil {
		log.Warn("history iteration stopped early", zap.Error(err))
		span.RecordError(err)
	}

	s.progress.Emit(progress.Event{
		CycleID: progress.UUIDToBytes(id),
		TS:      s.clock.Now(),
		Stage:   progress.StageChannelDone,
		Channel: target.Raw,
		Dur:     s.clock.Now().Sub(start),
	})
	log.Info("channel done",
		zap.String("title", ch.Title),
		zap.Int("messages", stats.Total-before.Total),
		zap.Int("new", stats.New-before.New),
		zap.Int("duplicate", stats.Duplicate-before.Duplicate),
	)
}

func (s *Scheduler) processMessage(
	ctx context.Context,
	id uuid.UUID,
	channel string,
	msg ingest.RawMessage,
	cfg ingest.CycleConfig,
	stats *ingest.CycleStats,
	log *zap.Logger,
) {
	stats.Total++
	cycleID := progress.UUIDToBytes(id)
	log = log.With(zap.Int("message_id", msg.ID))

	if s.ledger.IsProcessed(ctx, msg.ChannelID, msg.ID) {
		stats.Duplicate++
		metrics.ObserveMessage("duplicate")
		s.progress.Emit(progress.Event{
			CycleID: cycleID, TS: s.clock.Now(), Stage: progress.StageMessageDuplicate,
			Channel: channel, MessageID: msg.ID,
		})
		return
	}

	if msg.Empty() {
		if err := s.ledger.MarkProcessed(ctx, msg.ChannelID, msg.ID); err != nil {
			log.Warn("mark empty message failed", zap.Error(err))
		}
		metrics.ObserveMessage("empty")
		return
	}

	parsed := s.parser.Parse(msg.Text)
	kept, removed := parser.FilterTags(parsed.Tags, cfg.BlockedTags)
	parsed.Tags = kept
	if removed > 0 {
		stats.BlockedTagsRemoved += removed
		metrics.AddBlockedTagsRemoved(removed)
		log.Debug("blocked tags removed", zap.Int("count", removed))
	}

	imageRef := ""
	if msg.HasPhoto() && s.images != nil {
		imageRef = s.processImage(ctx, cycleID, channel, msg, cfg, stats, log)
	}

	now := s.clock.Now()
	article := ingest.Article{
		Title:      parsed.Title,
		Content:    parser.RenderContent(parsed, imageRef),
		Tags:       parsed.Tags,
		CategoryID: parsed.CategoryID,
		ImageURL:   imageRef,
		CreatedAt:  now,
	}
	record := ingest.ProcessedRecord{ChannelID: msg.ChannelID, MessageID: msg.ID, ProcessedAt: now}
	if err := s.articles.SaveAndMark(ctx, article, record); err != nil {
		// Left unmarked so the next cycle retries it.
		log.Error("save article failed", zap.Error(err))
		metrics.ObserveMessage("failed")
		return
	}

	stats.New++
	metrics.ObserveMessage("new")
	s.progress.Emit(progress.Event{
		CycleID: cycleID, TS: now, Stage: progress.StageMessageNew,
		Channel: channel, MessageID: msg.ID,
	})
	log.Info("article stored", zap.String("title", article.Title), zap.Strings("tags", article.Tags))
	s.notify(ctx, id, msg, article, log)
}

func (s *Scheduler) processImage(
	ctx context.Context,
	cycleID [16]byte,
	channel string,
	msg ingest.RawMessage,
	cfg ingest.CycleConfig,
	stats *ingest.CycleStats,
	log *zap.Logger,
) string {
	bucket := s.clock.Now().Format("20060102")
	res, err := s.images.Process(ctx, msg, bucket, cfg.Image)
	if err != nil {
		log.Warn("image skipped", zap.Error(err))
		return ""
	}
	stage := progress.StageImageUploaded
	if res.Outcome == images.OutcomeFallback {
		stage = progress.StageImageFallback
		stats.ImageFallbacks++
	} else {
		stats.Images++
	}
	s.progress.Emit(progress.Event{
		CycleID: cycleID, TS: s.clock.Now(), Stage: stage,
		Channel: channel, MessageID: msg.ID,
	})
	return res.Ref
}

func (s *Scheduler) notify(ctx context.Context, id uuid.UUID, msg ingest.RawMessage, article ingest.Article, log *zap.Logger) {
	if s.publisher == nil {
		return
	}
	payload := ingest.ArticleCreated{
		CycleID:   id.String(),
		ChannelID: msg.ChannelID,
		MessageID: msg.ID,
		Title:     article.Title,
		Tags:      article.Tags,
		ImageURL:  article.ImageURL,
		CreatedAt: article.CreatedAt,
	}
	if _, err := s.publisher.Publish(ctx, ingest.TopicArticleCreated, payload); err != nil {
		log.Warn("article notification failed", zap.Error(err))
	}
}
