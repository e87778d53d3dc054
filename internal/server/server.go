// Package server assembles the gateway from configuration and runs its HTTP
// listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/grcgate/grcgate/internal/archer"
	"github.com/grcgate/grcgate/internal/audit"
	"github.com/grcgate/grcgate/internal/config"
	"github.com/grcgate/grcgate/internal/httpapi"
	"github.com/grcgate/grcgate/internal/logs"
	"github.com/grcgate/grcgate/internal/mcpserver"
	"github.com/grcgate/grcgate/internal/observability"
	"github.com/grcgate/grcgate/internal/pipeline"
	"github.com/grcgate/grcgate/internal/privacy"
	"github.com/grcgate/grcgate/internal/secret"
	"github.com/grcgate/grcgate/internal/signing"
	"github.com/grcgate/grcgate/internal/storage"
	"github.com/grcgate/grcgate/internal/tenant"
	"github.com/grcgate/grcgate/internal/usage"
)

const (
	rulesFileActor  = "rules-file"
	shutdownTimeout = 10 * time.Second
)

// Server owns every long-lived component of a running gateway
type Server struct {
	config  *config.Config
	logger  *zap.Logger
	version string

	storage   *storage.DB
	auditor   *audit.Logger
	validator *tenant.Validator
	signer    *signing.Signer
	protector *privacy.Protector
	pool      *archer.Pool
	pipeline  *pipeline.Pipeline
	obs       *observability.Manager
	handler   http.Handler

	mu         sync.RWMutex
	httpServer *http.Server
	running    bool
	shutdown   bool
}

// Option configures New
type Option func(*options)

type options struct {
	sanitizer *logs.SecretSanitizer
	resolver  *secret.Resolver
}

// WithSanitizer registers every resolved credential with the log sanitizer
func WithSanitizer(s *logs.SecretSanitizer) Option {
	return func(o *options) { o.sanitizer = s }
}

// WithResolver overrides the secret resolver
func WithResolver(r *secret.Resolver) Option {
	return func(o *options) { o.resolver = r }
}

// New resolves secrets in cfg and builds the component graph. Storage is
// opened here; Shutdown releases it.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, version string, opts ...Option) (*Server, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.resolver == nil {
		o.resolver = secret.NewResolver()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := o.resolver.ResolveConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to resolve secrets: %w", err)
	}
	if o.sanitizer != nil {
		for _, v := range credentialValues(cfg) {
			o.sanitizer.RegisterResolvedSecret(v)
		}
	}

	s := &Server{config: cfg, logger: logger, version: version}
	if err := s.build(ctx); err != nil {
		s.release()
		return nil, err
	}
	return s, nil
}

func credentialValues(cfg *config.Config) []string {
	values := []string{cfg.APIKey}
	if cfg.Tenant != nil {
		values = append(values, cfg.Tenant.SessionSecret)
	}
	if cfg.Signing != nil {
		values = append(values, cfg.Signing.Key)
	}
	if cfg.Audit != nil && cfg.Audit.Redis != nil {
		values = append(values, cfg.Audit.Redis.Password)
	}
	for _, conn := range cfg.Connections {
		values = append(values, conn.Password)
	}
	return values
}

func (s *Server) build(ctx context.Context) error {
	cfg := s.config
	sugar := s.logger.Sugar()

	obs, err := observability.NewManager(sugar, cfg.Observability, s.version)
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	s.obs = obs
	metrics := obs.Metrics()

	s.storage, err = storage.Open(cfg.DataDir, sugar)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	db := s.storage.Bolt()
	obs.Health().AddHealthChecker(observability.NewDatabaseHealthChecker("bbolt", db))
	obs.Health().AddReadinessChecker(observability.NewDatabaseHealthChecker("bbolt", db))

	s.auditor, err = s.buildAuditor(ctx, metrics)
	if err != nil {
		return err
	}

	rules, err := tenant.NewBoltRuleStore(db)
	if err != nil {
		return fmt.Errorf("failed to open access rule store: %w", err)
	}
	sessions, err := tenant.NewSessions([]byte(cfg.Tenant.SessionSecret), cfg.Tenant.SessionTTL.Duration(), nil)
	if err != nil {
		return err
	}
	s.validator = tenant.NewValidator(cfg.Tenant, rules, sessions, s.auditor, s.logger.Named("tenant"),
		tenant.WithValidatorMetrics(metrics))
	if err := s.seedRules(ctx); err != nil {
		return err
	}

	s.signer, err = signing.NewSigner(cfg.Signing, []byte(cfg.Signing.Key), signing.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("failed to initialize request signing: %w", err)
	}
	s.signer.StartCleanup(0)

	tokens, err := privacy.NewBoltTokenStore(db, s.logger.Named("tokens"))
	if err != nil {
		return fmt.Errorf("failed to open token store: %w", err)
	}
	s.protector, err = privacy.NewProtector(cfg.Privacy, tokens, s.logger.Named("privacy"))
	if err != nil {
		return err
	}
	s.protector.StartCleanup(0)

	transformer, err := archer.NewTransformer(cfg.Transform)
	if err != nil {
		return fmt.Errorf("invalid transform config: %w", err)
	}
	s.pool = archer.NewPool(cfg.Connections, transformer, s.logger.Named("archer"))
	obs.Health().AddReadinessChecker(observability.CheckerFunc{
		CheckName: "archer",
		Fn: func(context.Context) error {
			if len(s.pool.Names()) == 0 {
				return errors.New("no Archer connections configured")
			}
			return nil
		},
	})

	s.pipeline, err = pipeline.New(pipeline.Deps{
		Validator:   s.validator,
		Signer:      s.signer,
		Connections: pipeline.FromPool(s.pool),
		Protector:   s.protector,
		Auditor:     s.auditor,
		Counter:     usage.NewCounter(cfg.Tokenizer.Encoding, cfg.Tokenizer.Enabled, s.logger.Named("usage")),
		Metrics:     metrics,
		Tracing:     obs.Tracing(),
		Logger:      s.logger.Named("pipeline"),
	})
	if err != nil {
		return err
	}

	deps := httpapi.Deps{
		Pipeline:      s.pipeline,
		Validator:     s.validator,
		Auditor:       s.auditor,
		Protector:     s.protector,
		Observability: obs,
		APIKey:        cfg.APIKey,
		Logger:        sugar.Named("http"),
	}
	if cfg.EnableMCP {
		deps.MCP = mcpserver.New(s.pipeline, s.version, s.logger.Named("mcp")).Handler()
	}
	s.handler = httpapi.NewServer(deps)
	return nil
}

func (s *Server) buildAuditor(ctx context.Context, metrics *observability.Metrics) (*audit.Logger, error) {
	cfg := s.config.Audit
	var store audit.Store
	switch cfg.Store {
	case config.AuditStoreMemory:
		s.logger.Warn("Audit events are kept in memory and will not survive a restart")
		store = audit.NewMemoryStore()
	default:
		bolt, err := audit.NewBoltStore(s.storage.Bolt(), s.logger.Named("audit"))
		if err != nil {
			return nil, fmt.Errorf("failed to open audit store: %w", err)
		}
		store = bolt
	}

	opts := []audit.Option{audit.WithMetrics(metrics)}
	if cfg.Redis != nil && cfg.Redis.Enabled {
		sink, err := audit.NewRedisStreamSink(ctx, cfg.Redis)
		if err != nil {
			// the chain is authoritative; the stream is a copy
			s.logger.Warn("Audit Redis sink unavailable", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			opts = append(opts, audit.WithSink(sink))
		}
	}

	auditor, err := audit.NewLogger(ctx, store, cfg.GenesisSeed, s.logger.Named("audit"), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit log: %w", err)
	}
	return auditor, nil
}

// seedRules loads the configured rules file. Tenants that already have a
// stored rule keep it so admin edits survive restarts.
func (s *Server) seedRules(ctx context.Context) error {
	path := s.config.Tenant.RulesFile
	if path == "" {
		return nil
	}
	rules, err := tenant.LoadRulesFile(path)
	if err != nil {
		return fmt.Errorf("failed to load access rules: %w", err)
	}
	seeded := 0
	for _, rule := range rules {
		if _, err := s.validator.GetAccessRule(ctx, rule.TenantID); err == nil {
			continue
		} else if !errors.Is(err, tenant.ErrRuleNotFound) {
			return err
		}
		if _, err := s.validator.SetAccessRule(ctx, rulesFileActor, rule); err != nil {
			return fmt.Errorf("access rule %q: %w", rule.TenantID, err)
		}
		seeded++
	}
	s.logger.Info("Access rules seeded", zap.String("path", path), zap.Int("seeded", seeded), zap.Int("total", len(rules)))
	return nil
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Pipeline returns the tool pipeline
func (s *Server) Pipeline() *pipeline.Pipeline {
	return s.pipeline
}

// IsRunning reports whether the listener is serving
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Start listens on the configured address and serves until ctx is cancelled
// or the listener fails. It shuts the server down before returning.
func (s *Server) Start(ctx context.Context) error {
	ln, err := listen(s.config.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       120 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       180 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	s.running = true
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("Starting HTTP server",
		zap.String("address", ln.Addr().String()),
		zap.Bool("mcp", s.config.EnableMCP),
		zap.Strings("archer_connections", s.pool.Names()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutdown requested")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
			_ = s.Shutdown(context.Background())
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops the listener and releases every component. Safe to call twice.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	srv := s.httpServer
	s.running = false
	s.mu.Unlock()

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if s.obs != nil {
		if err := s.obs.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("observability shutdown: %w", err))
		}
	}
	errs = append(errs, s.release()...)
	s.logger.Info("Server stopped")
	return errors.Join(errs...)
}

func (s *Server) release() []error {
	var errs []error
	if s.signer != nil {
		s.signer.Close()
	}
	if s.protector != nil {
		s.protector.Close()
	}
	if s.auditor != nil {
		if err := s.auditor.Close(); err != nil {
			errs = append(errs, fmt.Errorf("audit shutdown: %w", err))
		}
	}
	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage shutdown: %w", err))
		}
	}
	return errs
}
