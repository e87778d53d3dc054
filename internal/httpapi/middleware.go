package httpapi

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/grcgate/grcgate/internal/reqcontext"
)

// requestContextMiddleware assigns request and correlation ids and records
// the caller address
func requestContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := reqcontext.GetOrGenerateRequestID(r.Header.Get(reqcontext.RequestIDHeader))
		correlationID := r.Header.Get(reqcontext.CorrelationIDHeader)
		if !reqcontext.IsValidRequestID(correlationID) {
			correlationID = requestID
		}
		w.Header().Set(reqcontext.RequestIDHeader, requestID)
		w.Header().Set(reqcontext.CorrelationIDHeader, correlationID)

		ctx := reqcontext.WithRequestID(r.Context(), requestID)
		ctx = reqcontext.WithCorrelationID(ctx, correlationID)
		ctx = reqcontext.WithClientIP(ctx, clientIP(r))
		source := reqcontext.SourceREST
		if strings.HasPrefix(r.URL.Path, "/mcp") {
			source = reqcontext.SourceMCP
		}
		ctx = reqcontext.WithSource(ctx, source)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientIP strips the port; RealIP has already applied forwarding headers
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (s *Server) httpLoggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			fields := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", reqcontext.RequestID(r.Context()),
				"client_ip", reqcontext.ClientIP(r.Context()),
			}
			switch {
			case ww.Status() >= 500:
				s.logger.Errorw("HTTP request failed", fields...)
			case ww.Status() >= 400:
				s.logger.Infow("HTTP request rejected", fields...)
			default:
				s.logger.Debugw("HTTP request", fields...)
			}
		})
	}
}

// apiKeyAuthMiddleware guards admin routes. An unset key locks them rather
// than opening them.
func (s *Server) apiKeyAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.apiKey == "" {
				s.logger.Warnw("Admin request rejected, API key not configured",
					"path", r.URL.Path, "client_ip", reqcontext.ClientIP(r.Context()))
				s.writeError(w, http.StatusUnauthorized, "admin API key is not configured")
				return
			}
			provided := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(s.apiKey)) != 1 {
				s.logger.Warnw("Admin request rejected, invalid API key",
					"path", r.URL.Path, "client_ip", reqcontext.ClientIP(r.Context()))
				s.writeError(w, http.StatusUnauthorized, "invalid or missing API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken returns the session token from "Authorization: Bearer <token>"
func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
