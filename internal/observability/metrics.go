package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const serviceNamespace = "unsafe_track"

// Outcome labels for the runs counter.
const (
	OutcomeOK         = "ok"
	OutcomeFetchError = "fetch_error"
	OutcomeBadRequest = "bad_request"
	OutcomeError      = "error"
)

// Metrics is the Prometheus instrument set of the analysis service.
type Metrics struct {
	registry *prometheus.Registry

	runs        *prometheus.CounterVec
	runDuration prometheus.Histogram
	packBytes   prometheus.Histogram
	blobs       prometheus.Counter
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
}

// NewMetrics creates and registers the instrument set on a private
// registry, keeping scrapes free of default collector noise.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceNamespace,
			Name:      "runs_total",
			Help:      "Analysis runs by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: serviceNamespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of one analysis run.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		packBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: serviceNamespace,
			Name:      "pack_bytes",
			Help:      "Downloaded pack size per run.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		}),
		blobs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: serviceNamespace,
			Name:      "blobs_analyzed_total",
			Help:      "Blobs resolved for analysis, cached or not.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: serviceNamespace,
			Name:      "result_cache_hits_total",
			Help:      "Blob results served from the memoization cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: serviceNamespace,
			Name:      "result_cache_misses_total",
			Help:      "Blob results that had to be computed.",
		}),
	}

	registry.MustRegister(m.runs, m.runDuration, m.packBytes, m.blobs, m.cacheHits, m.cacheMisses)

	return m
}

// ObserveRun records one finished run.
func (m *Metrics) ObserveRun(outcome string, duration time.Duration, packBytes int64, blobs int) {
	m.runs.WithLabelValues(outcome).Inc()

	if outcome == OutcomeOK {
		m.runDuration.Observe(duration.Seconds())
		m.packBytes.Observe(float64(packBytes))
		m.blobs.Add(float64(blobs))
	}
}

// ObserveCache records the cache hit and miss deltas of one run.
func (m *Metrics) ObserveCache(hits, misses uint64) {
	m.cacheHits.Add(float64(hits))
	m.cacheMisses.Add(float64(misses))
}

// Handler serves the /metrics scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
