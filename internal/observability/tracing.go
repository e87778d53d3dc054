package observability

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/grcgate/grcgate/internal/config"
)

// Tracing owns the OpenTelemetry tracer provider. When disabled the global
// no-op provider stays in place and spans cost nothing.
type Tracing struct {
	logger   *zap.SugaredLogger
	cfg      config.TracingConfig
	tracer   oteltrace.Tracer
	provider *sdktrace.TracerProvider
}

// NewTracing installs an OTLP/HTTP exporter as the global tracer provider
func NewTracing(logger *zap.SugaredLogger, cfg *config.TracingConfig, version string) (*Tracing, error) {
	t := &Tracing{logger: logger}
	if cfg == nil || !cfg.Enabled {
		t.tracer = otel.Tracer("grcgate")
		return t, nil
	}
	t.cfg = *cfg
	if t.cfg.ServiceName == "" {
		t.cfg.ServiceName = "grcgate"
	}

	exporter, err := otlptracehttp.New(context.Background(),
		otlptracehttp.WithEndpoint(t.cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(t.cfg.ServiceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	t.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(t.cfg.SampleRate))),
	)
	otel.SetTracerProvider(t.provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.tracer = otel.Tracer(t.cfg.ServiceName)

	logger.Infow("OpenTelemetry tracing initialized",
		"service_name", t.cfg.ServiceName,
		"otlp_endpoint", t.cfg.OTLPEndpoint,
		"sample_rate", t.cfg.SampleRate)
	return t, nil
}

// Enabled reports whether spans are exported
func (t *Tracing) Enabled() bool {
	return t != nil && t.provider != nil
}

// StartSpan starts a span on the gateway tracer
func (t *Tracing) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	if t == nil {
		return ctx, oteltrace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, name, oteltrace.WithAttributes(attrs...))
}

// TraceToolExecution starts the root span of one tool call
func (t *Tracing) TraceToolExecution(ctx context.Context, tool, tenantID string) (context.Context, oteltrace.Span) {
	return t.StartSpan(ctx, "tool.execute",
		attribute.String("tool.name", tool),
		attribute.String("tenant.id", tenantID),
	)
}

// SetSpanError marks the span in ctx as failed
func SetSpanError(ctx context.Context, err error) {
	span := oteltrace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// HTTPMiddleware extracts remote trace context and wraps each request in a span
func (t *Tracing) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !t.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := t.tracer.Start(ctx, r.Method+" "+r.URL.Path,
				oteltrace.WithAttributes(
					semconv.HTTPMethodKey.String(r.Method),
					semconv.HTTPTargetKey.String(r.URL.Path),
					semconv.HTTPUserAgentKey.String(r.UserAgent()),
				),
			)
			defer span.End()

			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r.WithContext(ctx))

			span.SetAttributes(semconv.HTTPStatusCodeKey.Int(ww.statusCode))
			if ww.statusCode >= 500 {
				span.SetStatus(codes.Error, http.StatusText(ww.statusCode))
			}
		})
	}
}

// Close flushes and stops the exporter
func (t *Tracing) Close(ctx context.Context) error {
	if !t.Enabled() {
		return nil
	}
	t.logger.Info("Shutting down OpenTelemetry tracing")
	return t.provider.Shutdown(ctx)
}
