package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/grcgate/grcgate/internal/config"
)

// Manager bundles health, metrics and tracing
type Manager struct {
	logger  *zap.SugaredLogger
	health  *Health
	metrics *Metrics
	tracing *Tracing

	startTime time.Time
}

// NewManager builds the observability stack from config
func NewManager(logger *zap.SugaredLogger, cfg *config.ObservabilityConfig, version string) (*Manager, error) {
	m := &Manager{
		logger:    logger,
		health:    NewHealth(logger),
		startTime: time.Now(),
	}
	if cfg == nil {
		cfg = &config.ObservabilityConfig{}
	}
	if cfg.EnableMetrics {
		m.metrics = NewMetrics(logger)
	}
	tracing, err := NewTracing(logger, cfg.Tracing, version)
	if err != nil {
		return nil, err
	}
	m.tracing = tracing
	return m, nil
}

// Health returns the checker registry
func (m *Manager) Health() *Health { return m.health }

// Metrics returns the collectors, nil when metrics are disabled
func (m *Manager) Metrics() *Metrics { return m.metrics }

// Tracing returns the tracer wrapper
func (m *Manager) Tracing() *Tracing { return m.tracing }

// Routes mounts /healthz, /readyz and, when enabled, /metrics
func (m *Manager) Routes(r chi.Router) {
	r.Get("/healthz", m.health.HealthzHandler())
	r.Get("/readyz", m.health.ReadyzHandler())
	if m.metrics != nil {
		r.Method(http.MethodGet, "/metrics", m.metricsHandler())
	}
}

func (m *Manager) metricsHandler() http.Handler {
	inner := m.metrics.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.metrics.SetUptime(m.startTime)
		inner.ServeHTTP(w, r)
	})
}

// HTTPMiddleware chains tracing outside metrics
func (m *Manager) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return m.tracing.HTTPMiddleware()(m.metrics.HTTPMiddleware()(next))
	}
}

// Close shuts down tracing
func (m *Manager) Close(ctx context.Context) error {
	if err := m.tracing.Close(ctx); err != nil {
		m.logger.Errorw("Failed to close tracing", "error", err)
		return err
	}
	return nil
}
