package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tg-ingest/internal/images"
	"github.com/JakeFAU/tg-ingest/internal/ingest"
	"github.com/JakeFAU/tg-ingest/internal/progress"
	"github.com/JakeFAU/tg-ingest/internal/settings"
)

func TestRunOnceProcessesMessages(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.credentials()
	h.set(settings.KeyChannels, "@alpha\n@beta 1")
	h.set(settings.KeyBlockedTags, "spam, ads")
	h.set(settings.KeyInterval, "5")

	h.fetcher.add("@alpha", ingest.Channel{ID: 100, Title: "Alpha"},
		ingest.RawMessage{ID: 3, ChannelID: 100, Text: post("Third", "#go #spam #ads")},
		ingest.RawMessage{ID: 2, ChannelID: 100, Text: post("Second", "#news"), Photo: &ingest.PhotoRef{ID: 9}},
		ingest.RawMessage{ID: 1, ChannelID: 100},
	)
	h.fetcher.add("@beta", ingest.Channel{ID: 200, Title: "Beta"},
		ingest.RawMessage{ID: 8, ChannelID: 200, Text: post("Beta news", "#x")},
		ingest.RawMessage{ID: 7, ChannelID: 200, Text: post("Beyond limit", "#x")},
	)
	require.NoError(t, h.store.Insert(context.Background(),
		ingest.ProcessedRecord{ChannelID: 100, MessageID: 2, ProcessedAt: epoch}))

	res, err := h.scheduler().RunOnce(context.Background())
	require.NoError(t, err)

	require.Equal(t, 5*time.Minute, res.Interval)
	require.Equal(t, ingest.CycleStats{
		Total:              4,
		Duplicate:          1,
		New:                2,
		BlockedTagsRemoved: 2,
	}, res.Stats)
	require.Equal(t, 1, h.fetcher.limits["@beta"])
	require.Equal(t, settings.DefaultLimit, h.fetcher.limits["@alpha"])

	articles := h.store.Articles()
	require.Len(t, articles, 2)
	require.Equal(t, "Third", articles[0].Title)
	require.Equal(t, []string{"go"}, articles[0].Tags)
	require.Equal(t, "Beta news", articles[1].Title)

	// Empty service message is marked, duplicate untouched, beyond-limit never read.
	ok, err := h.store.Exists(context.Background(), 100, 1)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = h.store.Exists(context.Background(), 200, 7)
	require.NoError(t, err)
	require.False(t, ok)

	require.Len(t, h.publisher.Messages(), 2)
	require.Equal(t, ingest.TopicArticleCreated, h.publisher.Messages()[0].Topic)
	require.Zero(t, h.images.calls)

	stages := h.emitter.stages()
	require.Equal(t, progress.StageCycleStart, stages[0])
	require.Equal(t, progress.StageCycleDone, stages[len(stages)-1])
	require.Contains(t, stages, progress.StageMessageDuplicate)
}

func TestRunOnceAttachesImages(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.credentials()
	h.set(settings.KeyChannels, "@alpha")
	h.fetcher.add("@alpha", ingest.Channel{ID: 100},
		ingest.RawMessage{ID: 5, ChannelID: 100, Text: post("Pic", "#a"), Photo: &ingest.PhotoRef{ID: 1}},
	)

	res, err := h.scheduler().RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Stats.Images)
	require.Equal(t, []string{"20250314"}, h.images.buckets)

	articles := h.store.Articles()
	require.Len(t, articles, 1)
	require.Equal(t, "![](https://img.example.com/p.webp)", articles[0].ImageURL)
	require.True(t, strings.HasPrefix(articles[0].Content, "![](https://img.example.com/p.webp)\n\n"))
	require.Contains(t, h.emitter.stages(), progress.StageImageUploaded)
}

func TestRunOnceImageFallbackAndFailure(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.credentials()
	h.set(settings.KeyChannels, "@alpha")
	h.images.outcome = images.OutcomeFallback
	h.fetcher.add("@alpha", ingest.Channel{ID: 100},
		ingest.RawMessage{ID: 5, ChannelID: 100, Text: post("Pic", "#a"), Photo: &ingest.PhotoRef{ID: 1}},
	)

	res, err := h.scheduler().RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Stats.ImageFallbacks)

	h2 := newHarness()
	h2.credentials()
	h2.set(settings.KeyChannels, "@alpha")
	h2.images.err = ingest.ErrImagePipeline
	h2.fetcher.add("@alpha", ingest.Channel{ID: 100},
		ingest.RawMessage{ID: 5, ChannelID: 100, Text: post("Pic", "#a"), Photo: &ingest.PhotoRef{ID: 1}},
	)
	res, err = h2.scheduler().RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Stats.New)
	require.Empty(t, h2.store.Articles()[0].ImageURL)
}

func TestRunOnceIncompleteConfigAbortsBeforeConnecting(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.set(settings.KeyInterval, "7")
	h.set(settings.KeyPhone, "+1")

	s := h.scheduler()
	res, err := s.RunOnce(context.Background())
	require.ErrorIs(t, err, ingest.ErrConfigIncomplete)
	require.Contains(t, err.Error(), settings.KeyAPIID)
	require.Equal(t, 7*time.Minute, res.Interval)
	require.Zero(t, h.session.Calls())

	st := s.Status()
	require.Equal(t, 1, st.CycleCount)
	require.NotEmpty(t, st.LastError)
	require.False(t, st.IsRunning)
	require.Contains(t, h.emitter.stages(), progress.StageCycleError)
}

func TestRunOnceSessionFailure(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.credentials()
	h.session.err = ingest.ErrProviderRateLimited

	_, err := h.scheduler().RunOnce(context.Background())
	require.ErrorIs(t, err, ingest.ErrProviderRateLimited)
	require.Equal(t, 1, h.session.Calls())
}

func TestRunOnceSkipsUnresolvableTargets(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.credentials()
	h.set(settings.KeyChannels, "@missing\n@alpha")
	h.fetcher.add("@alpha", ingest.Channel{ID: 1}, ingest.RawMessage{ID: 1, ChannelID: 1, Text: post("A", "#a")})

	res, err := h.scheduler().RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Stats.SkippedTargets)
	require.Equal(t, 1, res.Stats.New)
}

func TestRunOnceLeavesFailedSavesUnmarked(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.credentials()
	h.set(settings.KeyChannels, "@alpha")
	h.fetcher.add("@alpha", ingest.Channel{ID: 1}, ingest.RawMessage{ID: 4, ChannelID: 1, Text: post("A", "#a")})
	h.deps.Articles = failingArticles{}

	res, err := h.scheduler().RunOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, res.Stats.New)
	ok, err := h.store.Exists(context.Background(), 1, 4)
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, h.publisher.Messages())
}

func TestRunOnceCleansLedger(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.credentials()
	h.set(settings.KeyRetentionDays, "2")
	ctx := context.Background()
	require.NoError(t, h.store.Insert(ctx, ingest.ProcessedRecord{ChannelID: 1, MessageID: 1, ProcessedAt: epoch.Add(-72 * time.Hour)}))
	require.NoError(t, h.store.Insert(ctx, ingest.ProcessedRecord{ChannelID: 1, MessageID: 2, ProcessedAt: epoch.Add(-time.Hour)}))

	res, err := h.scheduler().RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Stats.Cleaned)
	require.Equal(t, 1, h.store.LedgerSize())
}

func TestRunOnceIDFailure(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.deps.IDs = staticIDs{err: errors.New("entropy")}
	res, err := h.scheduler().RunOnce(context.Background())
	require.Error(t, err)
	require.Equal(t, time.Hour, res.Interval)
}

func TestRunSleepsBetweenCyclesAndStopsOnCancel(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.credentials()
	h.set(settings.KeyInterval, "10")
	s := h.scheduler()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	h.clock.WaitForTimers(1)
	require.Equal(t, 1, s.Status().CycleCount)
	require.NotNil(t, s.Status().NextRunAt)
	require.Equal(t, epoch.Add(10*time.Minute), *s.Status().NextRunAt)

	h.clock.Advance(10 * time.Minute)
	require.Eventually(t, func() bool {
		return s.Status().CycleCount == 2 && h.clock.Pending() == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	require.Equal(t, 2, h.session.Calls())
}

func TestRunBacksOffOneIntervalAfterFailure(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.set(settings.KeyInterval, "3")
	s := h.scheduler()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	h.clock.WaitForTimers(1)
	st := s.Status()
	require.NotEmpty(t, st.LastError)
	require.Equal(t, epoch.Add(3*time.Minute), *st.NextRunAt)

	// Credentials arrive; the next cycle succeeds.
	h.credentials()
	h.clock.Advance(3 * time.Minute)
	require.Eventually(t, func() bool {
		return s.Status().CycleCount == 2 && s.Status().LastError == ""
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestStatusReportsUptimeAndSession(t *testing.T) {
	t.Parallel()

	h := newHarness()
	s := h.scheduler()
	h.clock.Advance(90 * time.Second)

	st := s.Status()
	require.Equal(t, int64(90), st.UptimeSeconds)
	require.Equal(t, "authenticated", st.SessionState)
	require.Positive(t, st.PID)
}
