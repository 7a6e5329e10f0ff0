package service

import (
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "ireporter"

// MetricsSnapshot summarises the report counters for the admin dashboard.
type MetricsSnapshot struct {
	ReportsCreated      uint64    `json:"reports_created"`
	StatusChanges       uint64    `json:"status_changes"`
	NotificationsSent   uint64    `json:"notifications_sent"`
	NotificationsFailed uint64    `json:"notifications_failed"`
	ListCacheHitRatio   float64   `json:"list_cache_hit_ratio"`
	Requests            uint64    `json:"requests"`
	MeanRequestMs       float64   `json:"mean_request_ms"`
	Goroutines          int       `json:"goroutines"`
	GeneratedAt         time.Time `json:"generated_at"`
}

type snapshotCounters struct {
	created, transitions, sent, failed uint64
	hits, misses                       uint64
	requests, requestNanos             uint64
}

// MetricsService owns the Prometheus registry for the API process. Every
// method is safe on a nil receiver so metrics can be switched off.
type MetricsService struct {
	registry *prometheus.Registry

	httpLatency   *prometheus.HistogramVec
	cacheLookups  *prometheus.CounterVec
	cacheLatency  *prometheus.HistogramVec
	reportsFiled  *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	notifications *prometheus.CounterVec

	counts snapshotCounters
}

// NewMetricsService registers the API collectors on a private registry.
func NewMetricsService() *MetricsService {
	m := &MetricsService{
		registry: prometheus.NewRegistry(),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route template and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "list_cache",
			Name:      "lookups_total",
			Help:      "Report list cache lookups by result.",
		}, []string{"result"}),
		cacheLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "list_cache",
			Name:      "operation_seconds",
			Help:      "Report list cache latency by operation.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}, []string{"op"}),
		reportsFiled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reports_created_total",
			Help:      "Reports filed by kind.",
		}, []string{"kind"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "report_status_changes_total",
			Help:      "Applied report status transitions.",
		}, []string{"from", "to"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "report_notifications_total",
			Help:      "Status change notifications by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		m.httpLatency, m.cacheLookups, m.cacheLatency,
		m.reportsFiled, m.transitions, m.notifications,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records one finished request.
func (m *MetricsService) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpLatency.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
	atomic.AddUint64(&m.counts.requests, 1)
	atomic.AddUint64(&m.counts.requestNanos, uint64(duration))
}

// RecordCacheOperation records a list cache read.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
		atomic.AddUint64(&m.counts.hits, 1)
	} else {
		atomic.AddUint64(&m.counts.misses, 1)
	}
	m.cacheLookups.WithLabelValues(result).Inc()
	m.cacheLatency.WithLabelValues("get").Observe(duration.Seconds())
}

// ObserveCacheWrite records a list cache write.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.WithLabelValues("set").Observe(duration.Seconds())
}

// RecordReportCreated counts a newly filed report.
func (m *MetricsService) RecordReportCreated(kind string) {
	if m == nil {
		return
	}
	m.reportsFiled.WithLabelValues(kind).Inc()
	atomic.AddUint64(&m.counts.created, 1)
}

// RecordStatusChange counts an applied lifecycle transition.
func (m *MetricsService) RecordStatusChange(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
	atomic.AddUint64(&m.counts.transitions, 1)
}

// RecordNotification counts a notification outcome: sent, skipped, queued or dropped.
func (m *MetricsService) RecordNotification(outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(outcome).Inc()
	switch outcome {
	case "sent":
		atomic.AddUint64(&m.counts.sent, 1)
	case "queued", "dropped":
		atomic.AddUint64(&m.counts.failed, 1)
	}
}

// Snapshot returns the counters accumulated since start.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{Goroutines: runtime.NumGoroutine(), GeneratedAt: time.Now().UTC()}
	if m == nil {
		return snap
	}
	snap.ReportsCreated = atomic.LoadUint64(&m.counts.created)
	snap.StatusChanges = atomic.LoadUint64(&m.counts.transitions)
	snap.NotificationsSent = atomic.LoadUint64(&m.counts.sent)
	snap.NotificationsFailed = atomic.LoadUint64(&m.counts.failed)

	if hits, misses := atomic.LoadUint64(&m.counts.hits), atomic.LoadUint64(&m.counts.misses); hits+misses > 0 {
		snap.ListCacheHitRatio = float64(hits) / float64(hits+misses)
	}
	snap.Requests = atomic.LoadUint64(&m.counts.requests)
	if snap.Requests > 0 {
		snap.MeanRequestMs = float64(atomic.LoadUint64(&m.counts.requestNanos)) / float64(snap.Requests) / float64(time.Millisecond)
	}
	return snap
}
