package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/polisai/polis-sandbox/pkg/domain"
)

// Metrics holds the Prometheus metrics exposed on /metrics.
type Metrics struct {
	decisionsTotal *prometheus.CounterVec
	cacheClears    prometheus.Counter
	configReloads  *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

var _ domain.DiagnosticsSink = (*Metrics)(nil)

// NewMetrics creates the metrics on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandbox_decisions_total",
				Help: "Total number of sandbox decisions by outcome and reason",
			},
			[]string{"decision", "reason"},
		),

		cacheClears: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sandbox_cache_clears_total",
				Help: "Total number of administrative trust cache clears",
			},
		),

		configReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandbox_config_reloads_total",
				Help: "Total number of configuration reload attempts by status",
			},
			[]string{"status"},
		),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandbox_admin_http_requests_total",
				Help: "Total number of admin HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sandbox_admin_http_request_duration_seconds",
				Help:    "Admin HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.decisionsTotal,
		m.cacheClears,
		m.configReloads,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)

	return m
}

// Record implements domain.DiagnosticsSink by counting the decision.
func (m *Metrics) Record(_ context.Context, rec domain.DiagnosticRecord) {
	decision := "unrestricted"
	if rec.Sandboxed {
		decision = "sandboxed"
	}
	m.decisionsTotal.WithLabelValues(decision, string(rec.Reason)).Inc()
}

// ObserveCache exports the current trust cache size as sandbox_cache_entries.
// Call at most once.
func (m *Metrics) ObserveCache(size func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sandbox_cache_entries",
			Help: "Number of memoized trust decisions",
		},
		func() float64 { return float64(size()) },
	))
}

// RecordCacheClear records an administrative cache clear.
func (m *Metrics) RecordCacheClear() {
	m.cacheClears.Inc()
}

// RecordConfigReload records a configuration reload attempt.
func (m *Metrics) RecordConfigReload(status string) {
	m.configReloads.WithLabelValues(status).Inc()
}

// RecordHTTPRequest records an admin HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request counts and latency per endpoint.
func (m *Metrics) Middleware(endpoint string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		m.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(wrapped.statusCode), time.Since(start))
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
