// Package archer is the REST client for the RSA Archer GRC platform. It owns
// the session token lifecycle, caches application and field metadata and
// returns records keyed by display name.
package archer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/grcgate/grcgate/internal/config"
)

const (
	loginPath       = "/api/core/security/login"
	applicationPath = "/api/core/system/application"
	levelsPath      = "/api/core/system/level/module/%d"
	fieldsPath      = "/api/core/system/level/%d/field"
	contentPath     = "/api/core/content"

	// DefaultSessionTTL is how long a login is trusted before re-authenticating
	DefaultSessionTTL = 20 * time.Minute
	// MaxPageSize caps SearchRecords page sizes
	MaxPageSize     = 500
	DefaultPageSize = 50

	maxErrorBody = 4096
)

var tracer = otel.Tracer("github.com/grcgate/grcgate/internal/archer")

// Client talks to one Archer instance with one set of credentials
type Client struct {
	conn        *config.ArcherConnection
	httpClient  *http.Client
	transformer *Transformer
	logger      *zap.Logger
	now         func() time.Time

	timeout     time.Duration
	sessionTTL  time.Duration
	maxAttempts uint
	retryBase   time.Duration

	group singleflight.Group

	sessionMu sync.RWMutex
	session   *Session

	cacheMu  sync.RWMutex
	apps     []Application
	mappings map[string]FieldMapping
	fields   map[string][]Field
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClock overrides the time source used for session expiry
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithRetryBase sets the initial backoff interval between read retries
func WithRetryBase(d time.Duration) Option {
	return func(c *Client) { c.retryBase = d }
}

// NewClient creates a client for conn. Credentials must already be resolved.
func NewClient(conn *config.ArcherConnection, transformer *Transformer, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if transformer == nil {
		transformer = DefaultTransformer()
	}
	c := &Client{
		conn:        conn,
		httpClient:  &http.Client{},
		transformer: transformer,
		logger:      logger.With(zap.String("connection", conn.Name)),
		now:         time.Now,
		timeout:     conn.RequestTimeout.Duration(),
		sessionTTL:  conn.SessionTTL.Duration(),
		maxAttempts: uint(conn.MaxAttempts),
		retryBase:   250 * time.Millisecond,
		mappings:    make(map[string]FieldMapping),
		fields:      make(map[string][]Field),
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}
	if c.sessionTTL <= 0 {
		c.sessionTTL = DefaultSessionTTL
	}
	if c.maxAttempts == 0 {
		c.maxAttempts = 3
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the connection name
func (c *Client) Name() string {
	return c.conn.Name
}

// EnsureValidSession logs in when there is no session or it has expired.
// Concurrent callers share a single login.
func (c *Client) EnsureValidSession(ctx context.Context) error {
	_, err := c.sessionToken(ctx)
	return err
}

func (c *Client) sessionToken(ctx context.Context) (string, error) {
	if s := c.currentSession(); s.Valid(c.now()) {
		return s.Token, nil
	}

	v, err := c.shared(ctx, "login", func(ctx context.Context) (any, error) {
		if s := c.currentSession(); s.Valid(c.now()) {
			return s, nil
		}
		return c.login(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(*Session).Token, nil
}

// shared runs fn once per key across concurrent callers. fn runs detached
// from the first caller's cancellation so joined callers still get its
// result; the per-request timeout in do bounds it. Each caller stops waiting
// when its own ctx is done.
func (c *Client) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return fn(detached)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) currentSession() *Session {
	c.sessionMu.RLock()
	defer c.sessionMu.RUnlock()
	return c.session
}

// invalidateSession drops the cached session if it still holds token
func (c *Client) invalidateSession(token string) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	if c.session != nil && c.session.Token == token {
		c.session = nil
	}
}

func (c *Client) login(ctx context.Context) (*Session, error) {
	ctx, span := tracer.Start(ctx, "archer.login",
		trace.WithAttributes(attribute.String("archer.connection", c.conn.Name)))
	defer span.End()

	body := loginRequest{
		InstanceName: c.conn.InstanceName,
		Username:     c.conn.Username,
		UserDomain:   c.conn.UserDomain,
		Password:     c.conn.Password,
	}
	var resp envelope[loginResult]
	err := c.do(ctx, http.MethodPost, loginPath, nil, "", body, &resp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login failed")
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode < 500 {
			return nil, fmt.Errorf("%w: %v", ErrLoginFailed, err)
		}
		return nil, err
	}
	if !resp.IsSuccessful || resp.RequestedObject.SessionToken == "" {
		reason := "invalid credentials"
		if len(resp.ValidationMessages) > 0 {
			reason = resp.ValidationMessages[0].Reason
		}
		span.SetStatus(codes.Error, reason)
		c.logger.Warn("Archer rejected login", zap.String("reason", reason))
		return nil, fmt.Errorf("%w: %s", ErrLoginFailed, reason)
	}

	now := c.now()
	s := &Session{
		Token:     resp.RequestedObject.SessionToken,
		CreatedAt: now,
		ExpiresAt: now.Add(c.sessionTTL),
	}
	c.sessionMu.Lock()
	c.session = s
	c.sessionMu.Unlock()

	c.logger.Info("Archer session established", zap.Time("expires_at", s.ExpiresAt))
	return s, nil
}

// get performs an authenticated, idempotent read. Unavailable errors are
// retried with exponential backoff; a 401 forces one re-login.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	ctx, span := tracer.Start(ctx, "archer GET "+path,
		trace.WithAttributes(
			attribute.String("archer.connection", c.conn.Name),
			attribute.String("url.path", path),
		))
	defer span.End()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryBase
	attempt := 0
	op := func() (struct{}, error) {
		attempt++
		err := c.getOnce(ctx, path, query, out)
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, ErrUnavailable):
			c.logger.Debug("Archer read failed, will retry",
				zap.String("path", path), zap.Int("attempt", attempt), zap.Error(err))
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	}
	_, err := backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxTries(c.maxAttempts))
	span.SetAttributes(attribute.Int("archer.attempts", attempt))
	if err != nil && !IsNotFound(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Client) getOnce(ctx context.Context, path string, query url.Values, out any) error {
	token, err := c.sessionToken(ctx)
	if err != nil {
		return err
	}
	err = c.do(ctx, http.MethodGet, path, query, token, nil, out)
	if !isUnauthorized(err) {
		return err
	}

	c.logger.Info("Archer session rejected, re-authenticating", zap.String("path", path))
	c.invalidateSession(token)
	if token, err = c.sessionToken(ctx); err != nil {
		return err
	}
	return c.do(ctx, http.MethodGet, path, query, token, nil, out)
}

// do sends one request bounded by the connection timeout
func (c *Client) do(ctx context.Context, method, path string, query url.Values, token string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.conn.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Archer session-id=%q", token))
	}

	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	c.logger.Debug("Archer request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", c.now().Sub(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return &HTTPError{Method: method, Path: path, StatusCode: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
