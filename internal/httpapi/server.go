// Package httpapi is the REST surface of the gateway: tool execution for
// session holders and audit, access-rule and privacy administration behind
// an API key.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/grcgate/grcgate/internal/audit"
	"github.com/grcgate/grcgate/internal/observability"
	"github.com/grcgate/grcgate/internal/pipeline"
	"github.com/grcgate/grcgate/internal/privacy"
	"github.com/grcgate/grcgate/internal/tenant"
)

const (
	apiTimeout   = 60 * time.Second
	maxBodyBytes = 1 << 20
)

// APIResponse is the envelope of every non-tool response
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Deps are the components the API exposes
type Deps struct {
	Pipeline      *pipeline.Pipeline
	Validator     *tenant.Validator
	Auditor       *audit.Logger
	Protector     *privacy.Protector
	Observability *observability.Manager
	// MCP is mounted at /mcp when set
	MCP    http.Handler
	APIKey string
	Logger *zap.SugaredLogger
}

// Server routes HTTP requests
type Server struct {
	router        *chi.Mux
	pipeline      *pipeline.Pipeline
	validator     *tenant.Validator
	auditor       *audit.Logger
	protector     *privacy.Protector
	observability *observability.Manager
	mcp           http.Handler
	apiKey        string
	logger        *zap.SugaredLogger
}

// NewServer creates the router
func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		router:        chi.NewRouter(),
		pipeline:      d.Pipeline,
		validator:     d.Validator,
		auditor:       d.Auditor,
		protector:     d.Protector,
		observability: d.Observability,
		mcp:           d.MCP,
		apiKey:        d.APIKey,
		logger:        logger,
	}
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	if s.observability != nil {
		s.router.Use(s.observability.HTTPMiddleware())
	}
	s.router.Use(middleware.RealIP)
	s.router.Use(requestContextMiddleware)
	s.router.Use(s.httpLoggingMiddleware())
	s.router.Use(middleware.Recoverer)

	if s.observability != nil {
		s.observability.Routes(s.router)
	}
	if s.mcp != nil {
		s.router.Handle("/mcp", s.mcp)
		s.router.Handle("/mcp/*", s.mcp)
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(apiTimeout))

		r.Get("/tools", s.handleListTools)
		r.Post("/tools/execute", s.handleExecuteTool)
		r.Post("/tools/sign", s.handleSignTool)
		r.Post("/privacy/mask", s.handleMask)

		r.Group(func(r chi.Router) {
			r.Use(s.apiKeyAuthMiddleware())

			r.Route("/audit", func(r chi.Router) {
				r.Get("/events", s.handleQueryEvents)
				r.Get("/events/{id}", s.handleGetEvent)
				r.Post("/verify", s.handleVerify)
				r.Get("/summary", s.handleSummary)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Get("/access-rules", s.handleListRules)
				r.Route("/access-rules/{tenantID}", func(r chi.Router) {
					r.Get("/", s.handleGetRule)
					r.Put("/", s.handlePutRule)
					r.Delete("/", s.handleDeleteRule)
				})
				r.Get("/privacy", s.handleGetPrivacy)
				r.Put("/privacy", s.handlePutPrivacy)
				r.Post("/sessions", s.handleIssueSession)
				r.Delete("/sessions", s.handleRevokeSession)
				r.Post("/detokenize", s.handleDetokenize)
			})
		})
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Errorw("Failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, APIResponse{Error: message})
}

func (s *Server) writeSuccess(w http.ResponseWriter, data any) {
	s.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: data})
}

// decode reads a JSON body of at most maxBodyBytes, rejecting unknown fields
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
