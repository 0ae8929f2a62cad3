package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the registry.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Access resolution metrics
	AccessChecksTotal   *prometheus.CounterVec // decision = "allow" | "deny"
	AccessCheckDuration prometheus.Histogram
	GuardDecisionsTotal *prometheus.CounterVec // outcome = "granted" | "denied" | "unauthenticated" | "error"

	// Decision cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Hierarchy metrics
	HierarchyMutationsTotal *prometheus.CounterVec // op = "create" | "update" | ...
	HierarchyNodesTotal     prometheus.Gauge

	// Invariant audit (janitor) metrics
	InvariantViolationsTotal *prometheus.CounterVec // invariant = "acyclicity" | "bidirectional"
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lantern_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lantern_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		AccessChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lantern_access_checks_total",
				Help: "Total access resolution decisions",
			},
			[]string{"decision"},
		),
		AccessCheckDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lantern_access_check_duration_seconds",
				Help:    "Access resolution latency in seconds",
				Buckets: prometheus.ExponentialBuckets(0.00001, 10, 7),
			},
		),
		GuardDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lantern_guard_decisions_total",
				Help: "Guard middleware outcomes per feature",
			},
			[]string{"feature", "outcome"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lantern_cache_hits_total",
				Help: "Decision cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lantern_cache_misses_total",
				Help: "Decision cache misses",
			},
			[]string{"cache"},
		),
		HierarchyMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lantern_hierarchy_mutations_total",
				Help: "Hierarchy mutations by operation",
			},
			[]string{"op"},
		),
		HierarchyNodesTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lantern_hierarchy_nodes_total",
				Help: "Number of nodes in the capability forest",
			},
		),
		InvariantViolationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lantern_invariant_violations_total",
				Help: "Forest invariant violations found by the janitor",
			},
			[]string{"invariant"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AccessChecksTotal,
		m.AccessCheckDuration,
		m.GuardDecisionsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.HierarchyMutationsTotal,
		m.HierarchyNodesTotal,
		m.InvariantViolationsTotal,
	)
	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware instruments a handler with request count and duration.
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
