package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the Prometheus metrics of the service.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	voucherActions  *prometheus.CounterVec
	auditFailures   *prometheus.CounterVec
	auditDropped    prometheus.Counter
}

// NewMetrics builds a registry with the base collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	actions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_voucher_actions_total",
		Help: "Committed voucher transitions by action.",
	}, []string{"action"})
	auditFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_audit_failures_total",
		Help: "Audit entries that failed to persist, by action.",
	}, []string{"action"})
	auditDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_audit_dropped_total",
		Help: "Audit entries dropped without a write attempt.",
	})
	registry.MustRegister(requests, duration, actions, auditFailures, auditDropped)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		voucherActions:  actions,
		auditFailures:   auditFailures,
		auditDropped:    auditDropped,
	}
}

// VoucherAction counts a committed voucher transition.
func (m *Metrics) VoucherAction(action string) {
	if m == nil {
		return
	}
	m.voucherActions.WithLabelValues(action).Inc()
}

// AuditFailure counts an audit entry the sink could not persist.
func (m *Metrics) AuditFailure(action string, dropped bool) {
	if m == nil {
		return
	}
	m.auditFailures.WithLabelValues(action).Inc()
	if dropped {
		m.auditDropped.Inc()
	}
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
