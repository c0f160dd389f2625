package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/tg-ingest/internal/progress"
)

// PrometheusSink exports per-channel progress metrics. Cycle-level totals live
// in the metrics package; this sink adds the channel dimension.
type PrometheusSink struct {
	cyclesRunning   prometheus.Gauge
	channelMessages *prometheus.CounterVec
	channelImages   *prometheus.CounterVec
	channelDuration *prometheus.HistogramVec

	tracker *cycleTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		cyclesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tgingest_cycles_running",
			Help: "Cycles currently in flight.",
		}),
		channelMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tgingest_channel_messages_total",
			Help: "Messages seen per channel partitioned by outcome.",
		}, []string{"channel", "outcome"}),
		channelImages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tgingest_channel_images_total",
			Help: "Images handled per channel partitioned by outcome.",
		}, []string{"channel", "outcome"}),
		channelDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tgingest_channel_duration_seconds",
			Help:    "Wall time spent on one channel within a cycle.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"channel"}),
		tracker: newCycleTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.cyclesRunning,
		s.channelMessages,
		s.channelImages,
		s.channelDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageCycleStart:
		if s.tracker.start(evt.CycleID) {
			s.cyclesRunning.Inc()
		}
	case progress.StageCycleDone, progress.StageCycleError:
		if s.tracker.complete(evt.CycleID) {
			s.cyclesRunning.Dec()
		}
	case progress.StageMessageNew:
		s.channelMessages.WithLabelValues(evt.Channel, "new").Inc()
	case progress.StageMessageDuplicate:
		s.channelMessages.WithLabelValues(evt.Channel, "duplicate").Inc()
	case progress.StageImageUploaded:
		s.channelImages.WithLabelValues(evt.Channel, "uploaded").Inc()
	case progress.StageImageFallback:
		s.channelImages.WithLabelValues(evt.Channel, "fallback").Inc()
	case progress.StageChannelDone:
		if evt.Dur > 0 {
			s.channelDuration.WithLabelValues(evt.Channel).Observe(evt.Dur.Seconds())
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type cycleTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newCycleTracker() *cycleTracker {
	return &cycleTracker{running: make(map[[16]byte]struct{})}
}

func (t *cycleTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *cycleTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
