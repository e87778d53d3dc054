package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the gateway's Prometheus collectors. Every recording method
// is safe to call on a nil *Metrics, which is how metrics are disabled.
type Metrics struct {
	logger   *zap.SugaredLogger
	registry *prometheus.Registry

	uptime            prometheus.Gauge
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	toolExecutions    *prometheus.CounterVec
	toolDuration      *prometheus.HistogramVec
	tenantValidations *prometheus.CounterVec
	auditEvents       *prometheus.CounterVec
	integrityFailures prometheus.Counter
	signatureFailures *prometheus.CounterVec
	protectedRecords  *prometheus.CounterVec
	archerUnavailable *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors on a private registry
func NewMetrics(logger *zap.SugaredLogger) *Metrics {
	m := &Metrics{
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}

	m.uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "grcgate_uptime_seconds",
		Help: "Time since the gateway started",
	})
	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grcgate_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "route", "status"})
	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grcgate_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
	m.toolExecutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grcgate_tool_executions_total",
		Help: "Tool executions by tool and outcome code",
	}, []string{"tool", "status", "code"})
	m.toolDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grcgate_tool_execution_duration_seconds",
		Help:    "Tool execution duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"tool"})
	m.tenantValidations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grcgate_tenant_validations_total",
		Help: "Tenant access validations by result code",
	}, []string{"code"})
	m.auditEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grcgate_audit_events_total",
		Help: "Audit events appended",
	}, []string{"event_type", "severity"})
	m.integrityFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grcgate_audit_integrity_failures_total",
		Help: "Audit events found tampered during verification",
	})
	m.signatureFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grcgate_signature_failures_total",
		Help: "Rejected request signatures by reason",
	}, []string{"reason"})
	m.protectedRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grcgate_protected_records_total",
		Help: "Records passed through the privacy protector",
	}, []string{"masking_level"})
	m.archerUnavailable = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grcgate_archer_unavailable_total",
		Help: "Archer calls that failed closed",
	}, []string{"connection"})

	m.registry.MustRegister(
		m.uptime,
		m.httpRequests,
		m.httpDuration,
		m.toolExecutions,
		m.toolDuration,
		m.tenantValidations,
		m.auditEvents,
		m.integrityFailures,
		m.signatureFailures,
		m.protectedRecords,
		m.archerUnavailable,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if logger != nil {
		logger.Info("Prometheus metrics enabled")
	}
	return m
}

// Handler serves the registry for /metrics
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// SetUptime sets the uptime gauge
func (m *Metrics) SetUptime(start time.Time) {
	if m == nil {
		return
	}
	m.uptime.Set(time.Since(start).Seconds())
}

// RecordHTTPRequest records one served request
func (m *Metrics) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordToolExecution records a tool call outcome
func (m *Metrics) RecordToolExecution(tool, status, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.toolExecutions.WithLabelValues(tool, status, code).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// RecordTenantValidation counts a validation result; code is "OK" on success
func (m *Metrics) RecordTenantValidation(code string) {
	if m == nil {
		return
	}
	m.tenantValidations.WithLabelValues(code).Inc()
}

// RecordAuditEvent counts an appended audit event
func (m *Metrics) RecordAuditEvent(eventType, severity string) {
	if m == nil {
		return
	}
	m.auditEvents.WithLabelValues(eventType, severity).Inc()
}

// RecordIntegrityFailure adds n tampered events
func (m *Metrics) RecordIntegrityFailure(n int) {
	if m == nil {
		return
	}
	m.integrityFailures.Add(float64(n))
}

// RecordSignatureFailure counts a rejected signature
func (m *Metrics) RecordSignatureFailure(reason string) {
	if m == nil {
		return
	}
	m.signatureFailures.WithLabelValues(reason).Inc()
}

// RecordProtectedRecords counts records masked at level
func (m *Metrics) RecordProtectedRecords(level string, n int) {
	if m == nil {
		return
	}
	m.protectedRecords.WithLabelValues(level).Add(float64(n))
}

// RecordArcherUnavailable counts a fail-closed Archer call
func (m *Metrics) RecordArcherUnavailable(connection string) {
	if m == nil {
		return
	}
	m.archerUnavailable.WithLabelValues(connection).Inc()
}

// HTTPMiddleware records request metrics labelled by chi route pattern so
// tenant ids in paths do not explode label cardinality
func (m *Metrics) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			m.RecordHTTPRequest(r.Method, route, ww.statusCode, time.Since(start))
		})
	}
}

// responseWriter captures the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
