package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/sma-status-api/internal/models"
)

// Decision outcomes recorded for each evaluated assignment write.
const (
	DecisionAccepted = "accepted"
	DecisionRejected = "rejected"
)

// EngineSnapshot aggregates rule-engine counters for lightweight status reporting.
type EngineSnapshot struct {
	DecisionsAccepted    uint64    `json:"decisionsAccepted"`
	DecisionsRejected    uint64    `json:"decisionsRejected"`
	CascadesApplied      uint64    `json:"cascadesApplied"`
	CascadeFailures      uint64    `json:"cascadeFailures"`
	CacheHitRatio        float64   `json:"cacheHitRatio"`
	RequestsTotal        uint64    `json:"requestsTotal"`
	AverageRequestMillis float64   `json:"averageRequestMillis"`
	Goroutines           int       `json:"goroutines"`
	GeneratedAt          time.Time `json:"generatedAt"`
}

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	dbQueryDuration *prometheus.HistogramVec
	decisions       *prometheus.CounterVec
	cascades        *prometheus.CounterVec
	cascadeFailures prometheus.Counter
	reconciliations *prometheus.CounterVec
	raceRetries     prometheus.Counter

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	acceptedCount        uint64
	rejectedCount        uint64
	cascadeCount         uint64
	cascadeFailureCount  uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "status_assignment_decisions_total",
		Help: "Status assignment evaluations by outcome and reason",
	}, []string{"outcome", "reason"})

	cascades := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "status_cascade_rows_total",
		Help: "Assignments touched by terminal-status cascades",
	}, []string{"direction"})

	cascadeFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "status_cascade_incomplete_total",
		Help: "Cascades that failed after their trigger committed",
	})

	reconciliations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "status_cascade_reconciliations_total",
		Help: "Reconciliation attempts for incomplete cascades by result",
	}, []string{"result"})

	raceRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "status_assignment_race_retries_total",
		Help: "Evaluations re-run after losing a storage race",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(
		requestDuration, requestTotal,
		cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		dbQueryDuration,
		decisions, cascades, cascadeFailures, reconciliations, raceRetries,
		goroutines,
	)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		dbQueryDuration: dbQueryDuration,
		decisions:       decisions,
		cascades:        cascades,
		cascadeFailures: cascadeFailures,
		reconciliations: reconciliations,
		raceRetries:     raceRetries,
	}
}

// Registry exposes the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	if total := hits + misses; total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// RecordDecision counts an evaluation outcome. reason is the rejecting policy or rule, or "ok".
func (m *MetricsService) RecordDecision(outcome, reason string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome, reason).Inc()
	if outcome == DecisionAccepted {
		atomic.AddUint64(&m.acceptedCount, 1)
	} else {
		atomic.AddUint64(&m.rejectedCount, 1)
	}
}

// RecordCascade counts the rows a cascade changed.
func (m *MetricsService) RecordCascade(result models.CascadeResult) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.cascadeCount, 1)
	m.cascades.WithLabelValues(string(models.CascadeDeactivate)).Add(float64(len(result.Deactivated)))
	m.cascades.WithLabelValues(string(models.CascadeReactivate)).Add(float64(len(result.Reactivated)))
}

// RecordCascadeFailure counts a cascade that could not complete after commit.
func (m *MetricsService) RecordCascadeFailure() {
	if m == nil {
		return
	}
	m.cascadeFailures.Inc()
	atomic.AddUint64(&m.cascadeFailureCount, 1)
}

// RecordReconciliation counts a reconciliation attempt.
func (m *MetricsService) RecordReconciliation(success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.reconciliations.WithLabelValues(result).Inc()
}

// RecordRaceRetry counts an evaluation re-run after a unique index collision.
func (m *MetricsService) RecordRaceRetry() {
	if m == nil {
		return
	}
	m.raceRetries.Inc()
}

// Snapshot returns aggregated engine metrics.
func (m *MetricsService) Snapshot() EngineSnapshot {
	if m == nil {
		return EngineSnapshot{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	if total := hits + misses; total > 0 {
		cacheRatio = float64(hits) / float64(total)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return EngineSnapshot{
		DecisionsAccepted:    atomic.LoadUint64(&m.acceptedCount),
		DecisionsRejected:    atomic.LoadUint64(&m.rejectedCount),
		CascadesApplied:      atomic.LoadUint64(&m.cascadeCount),
		CascadeFailures:      atomic.LoadUint64(&m.cascadeFailureCount),
		CacheHitRatio:        cacheRatio,
		RequestsTotal:        requests,
		AverageRequestMillis: avgRequestMs,
		Goroutines:           runtime.NumGoroutine(),
		GeneratedAt:          time.Now().UTC(),
	}
}
