// Package metrics exposes Prometheus collectors for the ingestion service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cyclesTotal                *prometheus.CounterVec
	cycleDurationSeconds       prometheus.Histogram
	messagesTotal              *prometheus.CounterVec
	blockedTagsRemovedTotal    prometheus.Counter
	imagesTotal                *prometheus.CounterVec
	imageBytesTotal            *prometheus.CounterVec
	activeUploads              prometheus.Gauge
	ledgerCleanedTotal         prometheus.Counter
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		cyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgingest_cycles_total",
				Help: "Total number of ingestion cycles, labeled by status.",
			},
			[]string{"status"},
		)

		cycleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tgingest_cycle_duration_seconds",
				Help:    "Histogram of ingestion cycle durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)

		messagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgingest_messages_total",
				Help: "Total number of channel messages seen, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		blockedTagsRemovedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tgingest_blocked_tags_removed_total",
				Help: "Total number of blocked tags stripped from stored articles.",
			},
		)

		imagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgingest_images_total",
				Help: "Total number of processed images, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		imageBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgingest_image_bytes_total",
				Help: "Total image bytes before and after transcoding, labeled by stage.",
			},
			[]string{"stage"},
		)

		activeUploads = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tgingest_active_uploads",
				Help: "Number of image uploads currently holding a slot.",
			},
		)

		ledgerCleanedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tgingest_ledger_cleaned_total",
				Help: "Total number of expired dedup ledger rows deleted.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tgingest_rate_limit_delays_seconds",
				Help:    "Histogram of platform API rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCycle records a finished cycle.
func ObserveCycle(status string, duration time.Duration) {
	Init()
	cyclesTotal.WithLabelValues(status).Inc()
	cycleDurationSeconds.Observe(duration.Seconds())
}

// ObserveMessage counts a message by outcome (new, duplicate, empty).
func ObserveMessage(outcome string) {
	Init()
	messagesTotal.WithLabelValues(outcome).Inc()
}

// AddBlockedTagsRemoved adds n stripped tags.
func AddBlockedTagsRemoved(n int) {
	Init()
	if n > 0 {
		blockedTagsRemovedTotal.Add(float64(n))
	}
}

// ObserveImage counts an image by outcome (uploaded, fallback).
func ObserveImage(outcome string) {
	Init()
	imagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveImageBytes records the original and transcoded sizes of one image.
func ObserveImageBytes(original, compressed int64) {
	Init()
	imageBytesTotal.WithLabelValues("original").Add(float64(original))
	imageBytesTotal.WithLabelValues("compressed").Add(float64(compressed))
}

// IncActiveUploads increments the active uploads gauge.
func IncActiveUploads() {
	Init()
	activeUploads.Inc()
}

// DecActiveUploads decrements the active uploads gauge.
func DecActiveUploads() {
	Init()
	activeUploads.Dec()
}

// AddLedgerCleaned adds n deleted ledger rows.
func AddLedgerCleaned(n int64) {
	Init()
	if n > 0 {
		ledgerCleanedTotal.Add(float64(n))
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(method string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(method).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
