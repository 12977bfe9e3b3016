package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOperation identifies the cache method being instrumented.
type CacheOperation string

const (
	// CacheOperationLookup records cache store lookups.
	CacheOperationLookup CacheOperation = "lookup"
	// CacheOperationStore records save attempts.
	CacheOperationStore CacheOperation = "store"
	// CacheOperationSweep records entries removed by the expiration sweep.
	CacheOperationSweep CacheOperation = "sweep"
)

const (
	// CacheLookupHit indicates the lookup reused a stored payload.
	CacheLookupHit = "hit"
	// CacheLookupMiss indicates no usable entry was present.
	CacheLookupMiss = "miss"
	// CacheLookupCorrupt indicates the table referenced a payload that could not be read.
	CacheLookupCorrupt = "corrupt"
	// CacheStoreStored indicates the entry was written.
	CacheStoreStored = "stored"
	// CacheStoreSkipped indicates the payload was an error and failures are not persisted.
	CacheStoreSkipped = "skipped"
	// CacheStoreError indicates a persistence write failed.
	CacheStoreError = "error"
	// CacheSweepRemoved counts entries deleted by the sweep.
	CacheSweepRemoved = "removed"
)

// Recorder publishes Prometheus metrics for client activity. A nil Recorder is a no-op.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	upstreamRequests *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
	upstreamRetries  *prometheus.CounterVec

	gateWait    prometheus.Histogram
	gatePending prometheus.Gauge

	cacheOperations *prometheus.CounterVec
	cacheEntries    prometheus.Gauge
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	upstreamRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "iowa",
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Upstream calls by region and classified outcome.",
	}, []string{"region", "outcome"})

	upstreamLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "iowa",
		Subsystem: "upstream",
		Name:      "request_duration_seconds",
		Help:      "Latency of single upstream attempts.",
		Buckets:   []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
	}, []string{"region"})

	upstreamRetries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "iowa",
		Subsystem: "upstream",
		Name:      "retries_total",
		Help:      "Calls rescheduled after a 429 response.",
	}, []string{"region"})

	gateWait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "iowa",
		Subsystem: "gate",
		Name:      "wait_seconds",
		Help:      "Time requests spent waiting for every rate-limit bucket.",
		Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
	})

	gatePending := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "iowa",
		Subsystem: "gate",
		Name:      "pending",
		Help:      "Requests currently queued in the rate gate.",
	})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "iowa",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Cache store operations by result.",
	}, []string{"operation", "result"})

	cacheEntries := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "iowa",
		Subsystem: "cache",
		Name:      "entries",
		Help:      "Rows currently held in the cache table.",
	})

	reg.MustRegister(upstreamRequests, upstreamLatency, upstreamRetries, gateWait, gatePending, cacheOperations, cacheEntries)

	return &Recorder{
		gatherer:         reg,
		handler:          promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		upstreamRequests: upstreamRequests,
		upstreamLatency:  upstreamLatency,
		upstreamRetries:  upstreamRetries,
		gateWait:         gateWait,
		gatePending:      gatePending,
		cacheOperations:  cacheOperations,
		cacheEntries:     cacheEntries,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveUpstream records one classified upstream attempt.
func (r *Recorder) ObserveUpstream(region, outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	regionLabel := normalizeLabel(region)
	r.upstreamRequests.WithLabelValues(regionLabel, normalizeLabel(outcome)).Inc()
	r.upstreamLatency.WithLabelValues(regionLabel).Observe(duration.Seconds())
}

// ObserveRetry records a 429-driven reschedule.
func (r *Recorder) ObserveRetry(region string) {
	if r == nil {
		return
	}
	r.upstreamRetries.WithLabelValues(normalizeLabel(region)).Inc()
}

// GateEntered marks a request as queued in the rate gate.
func (r *Recorder) GateEntered() {
	if r == nil {
		return
	}
	r.gatePending.Inc()
}

// GateLeft marks a queued request as admitted or abandoned and records its wait.
func (r *Recorder) GateLeft(wait time.Duration) {
	if r == nil {
		return
	}
	r.gatePending.Dec()
	r.gateWait.Observe(wait.Seconds())
}

// ObserveCache records a cache operation result.
func (r *Recorder) ObserveCache(operation CacheOperation, result string) {
	if r == nil {
		return
	}
	op := string(operation)
	if op == "" {
		op = string(CacheOperationLookup)
	}
	r.cacheOperations.WithLabelValues(op, normalizeLabel(result)).Inc()
}

// SetCacheEntries publishes the current table size.
func (r *Recorder) SetCacheEntries(n int) {
	if r == nil {
		return
	}
	r.cacheEntries.Set(float64(n))
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
