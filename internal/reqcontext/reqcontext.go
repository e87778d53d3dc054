// Package reqcontext carries per-request identifiers through context so REST
// and MCP calls can be correlated in logs and audit details.
package reqcontext

import (
	"context"
	"regexp"

	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the HTTP header name for request IDs
	RequestIDHeader = "X-Request-Id"
	// CorrelationIDHeader is echoed back on every response
	CorrelationIDHeader = "X-Correlation-Id"

	MaxRequestIDLength = 128
)

// Source indicates where a request entered the gateway
type Source string

const (
	SourceREST    Source = "REST_API"
	SourceMCP     Source = "MCP"
	SourceCLI     Source = "CLI"
	SourceUnknown Source = "UNKNOWN"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	correlationIDKey
	sourceKey
	clientIPKey
)

var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidRequestID accepts 1-128 characters of alphanumerics, dashes and underscores
func IsValidRequestID(id string) bool {
	return id != "" && len(id) <= MaxRequestIDLength && requestIDPattern.MatchString(id)
}

// GetOrGenerateRequestID returns provided if it is a valid id, otherwise a new UUID
func GetOrGenerateRequestID(provided string) string {
	if IsValidRequestID(provided) {
		return provided
	}
	return uuid.NewString()
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestID(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

func CorrelationID(ctx context.Context) string {
	return stringValue(ctx, correlationIDKey)
}

// WithClientIP records the caller address for audit events
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

func ClientIP(ctx context.Context) string {
	return stringValue(ctx, clientIPKey)
}

func WithSource(ctx context.Context, source Source) context.Context {
	return context.WithValue(ctx, sourceKey, source)
}

// GetSource returns SourceUnknown when no source was recorded
func GetSource(ctx context.Context) Source {
	if ctx != nil {
		if s, ok := ctx.Value(sourceKey).(Source); ok {
			return s
		}
	}
	return SourceUnknown
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(key).(string)
	return s
}
