package tenant

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/grcgate/grcgate/internal/audit"
	"github.com/grcgate/grcgate/internal/config"
	"github.com/grcgate/grcgate/internal/observability"
)

// Auditor records validation outcomes
type Auditor interface {
	LogEvent(ctx context.Context, e audit.Event) (*audit.Event, error)
	LogSecurityViolation(ctx context.Context, tenantID, userID, code string, details map[string]any) (*audit.Event, error)
}

// Validator decides tenant access. It is constructed explicitly and shared by
// the request paths that need it.
type Validator struct {
	rules    RuleStore
	sessions *Sessions
	auditor  Auditor
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time

	replayWindow time.Duration
	limiter      *tenantLimiter
	anomalies    *anomalyTracker
}

// ValidatorOption configures a Validator
type ValidatorOption func(*Validator)

// WithValidatorClock overrides the time source
func WithValidatorClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) { v.now = now }
}

// WithValidatorMetrics records validation outcomes
func WithValidatorMetrics(m *observability.Metrics) ValidatorOption {
	return func(v *Validator) { v.metrics = m }
}

// NewValidator creates a validator. sessions must share the validator's clock
// when one is injected.
func NewValidator(cfg *config.TenantConfig, rules RuleStore, sessions *Sessions, auditor Auditor, logger *zap.Logger, opts ...ValidatorOption) *Validator {
	if cfg == nil {
		cfg = config.DefaultTenantConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &Validator{
		rules:        rules,
		sessions:     sessions,
		auditor:      auditor,
		logger:       logger,
		now:          time.Now,
		replayWindow: cfg.ReplayWindow.Duration(),
		limiter:      newTenantLimiter(cfg.RateLimit, cfg.RateBurst),
		anomalies:    newAnomalyTracker(cfg.AnomalyWindow.Duration(), cfg.AnomalyMaxTenants),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Sessions returns the session registry
func (v *Validator) Sessions() *Sessions { return v.sessions }

// ExtractTenantContext verifies a session token and derives the request
// identity from its claims. This is the only source of tenant identity.
func (v *Validator) ExtractTenantContext(ctx context.Context, sessionToken string) (TenantContext, error) {
	claims, err := v.sessions.Parse(sessionToken)
	if err != nil {
		code := CodeInvalidSessionToken
		if errors.Is(err, ErrSessionExpired) {
			code = CodeSessionExpired
		}
		verr := newValidationError(code, "", "", "%v", err)
		v.reject(ctx, verr, AccessRequest{})
		return TenantContext{}, verr
	}
	v.sessions.RegisterSession(sessionToken, claims)

	return TenantContext{
		TenantID:    claims.TenantID,
		UserID:      claims.Subject,
		SessionID:   claims.SessionID,
		RequestID:   uuid.NewString(),
		Roles:       slices.Clone(claims.Roles),
		ExtractedAt: v.now().UTC(),
		Source:      SourceTrustedSession,
	}, nil
}

// ValidateTenantAccess runs the access checks in order: structure,
// timestamp, rate limit, permission, session integrity and anomaly. Every
// attempt is audited. On success the returned context is marked validated.
func (v *Validator) ValidateTenantAccess(ctx context.Context, req AccessRequest) (TenantContext, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	tc, verr, err := v.validate(ctx, req)
	if err != nil {
		v.logger.Error("Tenant validation could not complete",
			zap.String("tenant_id", req.TenantID), zap.Error(err))
		return TenantContext{}, err
	}
	if verr != nil {
		v.reject(ctx, verr, req)
		return TenantContext{}, verr
	}

	v.metrics.RecordTenantValidation("OK")
	_, err = v.auditor.LogEvent(ctx, audit.Event{
		TenantID:  tc.TenantID,
		UserID:    tc.UserID,
		EventType: audit.EventTenantAccessGranted,
		Severity:  audit.SeverityLow,
		ClientIP:  req.ClientIP,
		Details: map[string]any{
			"request_id": tc.RequestID,
			"session_id": tc.SessionID,
		},
	})
	if err != nil {
		// an access that cannot be audited is not granted
		return TenantContext{}, fmt.Errorf("audit tenant access: %w", err)
	}
	return tc, nil
}

func (v *Validator) validate(ctx context.Context, req AccessRequest) (TenantContext, *ValidationError, error) {
	tenantID, userID := strings.TrimSpace(req.TenantID), strings.TrimSpace(req.UserID)
	fail := func(code, format string, args ...any) (TenantContext, *ValidationError, error) {
		return TenantContext{}, newValidationError(code, tenantID, userID, format, args...), nil
	}

	switch {
	case userID == "":
		return fail(CodeInvalidUserID, "user id is required")
	case tenantID == "":
		return fail(CodeInvalidTenantID, "tenant id is required")
	case strings.TrimSpace(req.SessionToken) == "":
		return fail(CodeInvalidSessionToken, "session token is required")
	case len(dedupe(req.UserRoles)) == 0:
		return fail(CodeInvalidRoles, "at least one role is required")
	}

	now := v.now()
	if req.RequestTimestamp.IsZero() {
		return fail(CodeTimestampReplay, "request timestamp is required")
	}
	if skew := req.RequestTimestamp.Sub(now); skew > v.replayWindow {
		return fail(CodeTimestampFuture, "request timestamp is %s in the future", skew.Round(time.Second))
	} else if -skew > v.replayWindow {
		return fail(CodeTimestampReplay, "request timestamp is %s old", (-skew).Round(time.Second))
	}

	if !v.limiter.allow(tenantID, now) {
		return fail(CodeRateLimited, "tenant request rate exceeded")
	}

	rule, err := v.rules.Get(ctx, tenantID)
	if errors.Is(err, ErrRuleNotFound) {
		return fail(CodeTenantNotFound, "no access rule for tenant")
	}
	if err != nil {
		return TenantContext{}, nil, fmt.Errorf("load access rule: %w", err)
	}
	platformOwner := hasPlatformOwnerRole(req.UserRoles)
	if !rule.AllowsUser(userID) && !platformOwner {
		return fail(CodeAccessDenied, "user is not allowed in tenant")
	}
	if !platformOwner && !rule.SatisfiedBy(req.UserRoles) {
		return fail(CodeInsufficientRoles, "user lacks a required role")
	}

	if !looksLikeJWT(req.SessionToken) {
		return fail(CodeInvalidSessionFormat, "session token is not a three-part token")
	}
	session, err := v.sessions.Lookup(req.SessionToken)
	if err != nil {
		return fail(CodeSessionExpired, "session is unknown or expired")
	}
	if session.UserID != userID {
		return fail(CodeTenantMismatch, "session belongs to another user")
	}
	// platform owners cross into tenants that opt in
	if session.TenantID != tenantID && !(platformOwner && rule.CrossTenantAccess) {
		return fail(CodeTenantMismatch, "session tenant does not match requested tenant")
	}

	if n, suspicious := v.anomalies.check(userID, tenantID, now); suspicious {
		return fail(CodeSuspiciousPattern, "user accessed %d distinct tenants within the anomaly window", n)
	}

	return TenantContext{
		TenantID:    tenantID,
		UserID:      userID,
		SessionID:   session.SessionID,
		RequestID:   req.RequestID,
		Roles:       dedupe(req.UserRoles),
		ExtractedAt: now.UTC(),
		Source:      SourceTrustedSession,
		Validated:   true,
	}, nil, nil
}

func (v *Validator) reject(ctx context.Context, verr *ValidationError, req AccessRequest) {
	v.metrics.RecordTenantValidation(verr.Code)
	fields := []zap.Field{
		zap.String("code", verr.Code),
		zap.String("tenant_id", verr.TenantID),
		zap.String("user_id", verr.UserID),
		zap.String("severity", string(verr.Severity)),
	}
	if verr.Severity == audit.SeverityCritical {
		v.logger.Warn("Tenant access rejected", fields...)
	} else {
		v.logger.Info("Tenant access rejected", fields...)
	}

	details := map[string]any{"message": verr.Message}
	if req.RequestID != "" {
		details["request_id"] = req.RequestID
	}
	if req.ClientIP != "" {
		details["client_ip"] = req.ClientIP
	}
	if _, err := v.auditor.LogSecurityViolation(ctx, verr.TenantID, verr.UserID, verr.Code, details); err != nil {
		v.logger.Error("Failed to audit tenant violation", zap.String("code", verr.Code), zap.Error(err))
	}
}

// SetAccessRule creates or replaces the rule for rule.TenantID
func (v *Validator) SetAccessRule(ctx context.Context, actor string, rule AccessRule) (*AccessRule, error) {
	rule.normalize()
	if rule.TenantID == "" {
		return nil, newValidationError(CodeInvalidTenantID, "", actor, "tenant id is required")
	}
	rule.LastUpdated = v.now().UTC()
	if err := v.rules.Put(ctx, &rule); err != nil {
		return nil, fmt.Errorf("store access rule: %w", err)
	}
	v.auditRuleChange(ctx, actor, rule.TenantID, "set", map[string]any{
		"allowed_users":       len(rule.AllowedUserIDs),
		"required_roles":      rule.RequiredRoles,
		"cross_tenant_access": rule.CrossTenantAccess,
	})
	return &rule, nil
}

// GetAccessRule returns the rule for tenantID
func (v *Validator) GetAccessRule(ctx context.Context, tenantID string) (*AccessRule, error) {
	return v.rules.Get(ctx, tenantID)
}

// DeleteAccessRule removes the rule for tenantID
func (v *Validator) DeleteAccessRule(ctx context.Context, actor, tenantID string) error {
	if err := v.rules.Delete(ctx, tenantID); err != nil {
		return err
	}
	v.auditRuleChange(ctx, actor, tenantID, "delete", nil)
	return nil
}

// ListAccessRules returns every rule sorted by tenant
func (v *Validator) ListAccessRules(ctx context.Context) ([]*AccessRule, error) {
	return v.rules.List(ctx)
}

func (v *Validator) auditRuleChange(ctx context.Context, actor, tenantID, action string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	details["action"] = action
	_, err := v.auditor.LogEvent(ctx, audit.Event{
		TenantID:  tenantID,
		UserID:    actor,
		EventType: audit.EventAccessRuleChange,
		Severity:  audit.SeverityMedium,
		Details:   details,
	})
	if err != nil {
		v.logger.Error("Failed to audit access rule change", zap.String("tenant_id", tenantID), zap.Error(err))
	}
}
