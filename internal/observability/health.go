// Package observability provides health checks, Prometheus metrics and
// OpenTelemetry tracing for the gateway
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusReady     = "ready"
	statusNotReady  = "not_ready"
)

// HealthChecker reports liveness of a component
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
	Name() string
}

// ReadinessChecker reports whether a component can serve traffic
type ReadinessChecker interface {
	ReadinessCheck(ctx context.Context) error
	Name() string
}

// ComponentStatus is one component's check result
type ComponentStatus struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// StatusResponse is the body of /healthz and /readyz
type StatusResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components []ComponentStatus `json:"components"`
}

// Health runs registered checkers
type Health struct {
	logger            *zap.SugaredLogger
	healthCheckers    []HealthChecker
	readinessCheckers []ReadinessChecker
	timeout           time.Duration
}

// NewHealth creates a checker registry with a 5s per-request timeout
func NewHealth(logger *zap.SugaredLogger) *Health {
	return &Health{logger: logger, timeout: 5 * time.Second}
}

// AddHealthChecker registers a liveness checker
func (h *Health) AddHealthChecker(c HealthChecker) {
	h.healthCheckers = append(h.healthCheckers, c)
}

// AddReadinessChecker registers a readiness checker
func (h *Health) AddReadinessChecker(c ReadinessChecker) {
	h.readinessCheckers = append(h.readinessCheckers, c)
}

// HealthzHandler serves liveness
func (h *Health) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()
		resp := h.CheckHealth(ctx)
		h.write(w, resp, resp.Status == statusHealthy)
	}
}

// ReadyzHandler serves readiness
func (h *Health) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()
		resp := h.CheckReadiness(ctx)
		h.write(w, resp, resp.Status == statusReady)
	}
}

// CheckHealth runs every liveness checker
func (h *Health) CheckHealth(ctx context.Context) StatusResponse {
	resp := StatusResponse{Status: statusHealthy, Timestamp: time.Now()}
	for _, c := range h.healthCheckers {
		status := h.run(ctx, c.Name(), c.HealthCheck, statusHealthy, statusUnhealthy)
		if status.Status != statusHealthy {
			resp.Status = statusUnhealthy
		}
		resp.Components = append(resp.Components, status)
	}
	return resp
}

// CheckReadiness runs every readiness checker
func (h *Health) CheckReadiness(ctx context.Context) StatusResponse {
	resp := StatusResponse{Status: statusReady, Timestamp: time.Now()}
	for _, c := range h.readinessCheckers {
		status := h.run(ctx, c.Name(), c.ReadinessCheck, statusReady, statusNotReady)
		if status.Status != statusReady {
			resp.Status = statusNotReady
		}
		resp.Components = append(resp.Components, status)
	}
	return resp
}

func (h *Health) run(ctx context.Context, name string, check func(context.Context) error, ok, failed string) ComponentStatus {
	start := time.Now()
	status := ComponentStatus{Name: name, Status: ok}
	if err := check(ctx); err != nil {
		status.Status = failed
		status.Error = err.Error()
		h.logger.Warnw("Health check failed", "component", name, "error", err)
	}
	status.Latency = time.Since(start).String()
	return status
}

func (h *Health) write(w http.ResponseWriter, resp StatusResponse, ok bool) {
	code := http.StatusOK
	if !ok {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Errorw("Failed to encode health response", "error", err)
	}
}

// DatabaseHealthChecker checks that a bbolt read transaction can be opened
type DatabaseHealthChecker struct {
	name string
	db   *bbolt.DB
}

// NewDatabaseHealthChecker creates a database checker
func NewDatabaseHealthChecker(name string, db *bbolt.DB) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{name: name, db: db}
}

// Name implements HealthChecker
func (d *DatabaseHealthChecker) Name() string { return d.name }

// HealthCheck implements HealthChecker
func (d *DatabaseHealthChecker) HealthCheck(_ context.Context) error {
	if d.db == nil {
		return fmt.Errorf("database is nil")
	}
	return d.db.View(func(_ *bbolt.Tx) error { return nil })
}

// ReadinessCheck implements ReadinessChecker
func (d *DatabaseHealthChecker) ReadinessCheck(ctx context.Context) error {
	return d.HealthCheck(ctx)
}

// CheckerFunc adapts a function into a readiness and health checker
type CheckerFunc struct {
	CheckName string
	Fn        func(ctx context.Context) error
}

// Name implements HealthChecker
func (c CheckerFunc) Name() string { return c.CheckName }

// HealthCheck implements HealthChecker
func (c CheckerFunc) HealthCheck(ctx context.Context) error { return c.Fn(ctx) }

// ReadinessCheck implements ReadinessChecker
func (c CheckerFunc) ReadinessCheck(ctx context.Context) error { return c.Fn(ctx) }

var (
	_ HealthChecker    = (*DatabaseHealthChecker)(nil)
	_ ReadinessChecker = (*DatabaseHealthChecker)(nil)
	_ HealthChecker    = CheckerFunc{}
	_ ReadinessChecker = CheckerFunc{}
)
