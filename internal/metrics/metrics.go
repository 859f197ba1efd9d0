package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		jobsTotal,
		strategyAttempts,
		providerCalls,
		cacheLookups,
		compositionSeconds,
		queueDepth,
		cleanupDeleted,
	)
}

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saludo_jobs_total",
			Help: "Jobs handled by the worker, by outcome (completed, requeued, dead_lettered, skipped).",
		},
		[]string{"outcome"},
	)

	strategyAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saludo_strategy_attempts_total",
			Help: "Generation strategy attempts, by strategy and outcome.",
		},
		[]string{"strategy", "outcome"},
	)

	providerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saludo_provider_calls_total",
			Help: "Capability provider calls, by capability, provider and outcome.",
		},
		[]string{"capability", "provider", "outcome"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saludo_audio_cache_lookups_total",
			Help: "Audio cache lookups by result (hit, miss).",
		},
		[]string{"result"},
	)

	compositionSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "saludo_composition_seconds",
			Help:    "Wall time of one ffmpeg composition run.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80, 160},
		},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "saludo_queue_depth",
			Help: "Pending job ids in the video queue, sampled by the worker.",
		},
	)

	cleanupDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saludo_cleanup_deleted_total",
			Help: "Items removed by the janitor, by kind (temp_file, job_record).",
		},
		[]string{"kind"},
	)
)

func JobOutcome(outcome string) {
	jobsTotal.WithLabelValues(norm(outcome)).Inc()
}

func StrategyAttempt(strategy, outcome string) {
	strategyAttempts.WithLabelValues(norm(strategy), norm(outcome)).Inc()
}

func ProviderCall(capability, provider string, ok bool) {
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	providerCalls.WithLabelValues(norm(capability), norm(provider), outcome).Inc()
}

func CacheLookup(hit bool) {
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	cacheLookups.WithLabelValues("miss").Inc()
}

func ObserveComposition(d time.Duration) {
	compositionSeconds.Observe(d.Seconds())
}

func SetQueueDepth(n int64) {
	queueDepth.Set(float64(n))
}

func CleanupDeleted(kind string, n int) {
	if n > 0 {
		cleanupDeleted.WithLabelValues(norm(kind)).Add(float64(n))
	}
}

func norm(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return "unknown"
	}
	return s
}
