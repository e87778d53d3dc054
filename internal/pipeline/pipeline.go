package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/grcgate/grcgate/internal/archer"
	"github.com/grcgate/grcgate/internal/audit"
	"github.com/grcgate/grcgate/internal/observability"
	"github.com/grcgate/grcgate/internal/privacy"
	"github.com/grcgate/grcgate/internal/record"
	"github.com/grcgate/grcgate/internal/signing"
	"github.com/grcgate/grcgate/internal/tenant"
	"github.com/grcgate/grcgate/internal/usage"
)

// Pipeline runs tool calls. It holds no per-request state.
type Pipeline struct {
	validator   *tenant.Validator
	signer      *signing.Signer
	connections Connections
	protector   *privacy.Protector
	auditor     *audit.Logger
	counter     *usage.Counter
	metrics     *observability.Metrics
	tracing     *observability.Tracing
	logger      *zap.Logger
	now         func() time.Time

	tools map[string]tool
	specs []ToolSpec
}

// Deps are the collaborators of a Pipeline
type Deps struct {
	Validator   *tenant.Validator
	Signer      *signing.Signer
	Connections Connections
	Protector   *privacy.Protector
	Auditor     *audit.Logger
	Counter     *usage.Counter
	Metrics     *observability.Metrics
	Tracing     *observability.Tracing
	Logger      *zap.Logger
	Now         func() time.Time
}

// New creates a pipeline with the built-in tools
func New(d Deps) (*Pipeline, error) {
	switch {
	case d.Validator == nil:
		return nil, errors.New("pipeline: validator is required")
	case d.Signer == nil:
		return nil, errors.New("pipeline: signer is required")
	case d.Protector == nil:
		return nil, errors.New("pipeline: protector is required")
	case d.Auditor == nil:
		return nil, errors.New("pipeline: audit logger is required")
	}
	p := &Pipeline{
		validator:   d.Validator,
		signer:      d.Signer,
		connections: d.Connections,
		protector:   d.Protector,
		auditor:     d.Auditor,
		counter:     d.Counter,
		metrics:     d.Metrics,
		tracing:     d.Tracing,
		logger:      d.Logger,
		now:         d.Now,
		tools:       make(map[string]tool, len(builtinTools)),
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.now == nil {
		p.now = time.Now
	}
	for _, t := range builtinTools {
		p.tools[t.spec.Name] = t
		p.specs = append(p.specs, t.spec)
	}
	return p, nil
}

// Tools lists the available tools
func (p *Pipeline) Tools() []ToolSpec {
	return append([]ToolSpec(nil), p.specs...)
}

// failure is a coded error raised inside one call
type failure struct {
	code string
	msg  string
	err  error
}

func (f *failure) Error() string { return f.code + ": " + f.msg }
func (f *failure) Unwrap() error { return f.err }

// ExecuteTool runs one tool call: session identity, parameter sanitizing,
// access validation, signature verification, dispatch, protection and
// audit. It never returns raw Archer errors or credentials to the caller.
func (p *Pipeline) ExecuteTool(ctx context.Context, req ToolRequest) ToolResponse {
	start := p.now()
	ctx, span := p.tracing.TraceToolExecution(ctx, req.ToolName, "")
	defer span.End()

	resp := ToolResponse{Metadata: Metadata{ToolID: req.ToolName, Timestamp: start.UTC()}}
	stats := &callStats{}

	tc, params, removed, fail := p.admit(ctx, req)
	if tc.TenantID != "" {
		resp.Metadata.TenantID = tc.TenantID
		resp.Metadata.UserID = tc.UserID
		resp.Metadata.RequestID = tc.RequestID
		span.SetAttributes(attribute.String("tenant.id", tc.TenantID))
	}

	var result any
	if fail == nil {
		result, fail = p.dispatch(ctx, req.ToolName, tc, params, stats)
	}

	elapsed := p.now().Sub(start)
	resp.Usage = p.counter.Measure(params, result, elapsed)

	code := "OK"
	if fail != nil {
		code = fail.code
		resp.Error = &ToolError{Code: fail.code, Message: fail.msg}
		observability.SetSpanError(ctx, fail)
	} else {
		resp.Success = true
		resp.Result = result
	}
	p.metrics.RecordToolExecution(req.ToolName, statusLabel(resp.Success), code, elapsed)

	// access failures were already audited as violations by the validator
	if tc.Validated {
		p.auditExecution(ctx, req, tc, stats, removed, resp, elapsed)
	}
	return resp
}

// admit establishes who is calling and what they may run
func (p *Pipeline) admit(ctx context.Context, req ToolRequest) (tenant.TenantContext, map[string]any, []string, *failure) {
	tc, err := p.validator.ExtractTenantContext(ctx, req.SessionToken)
	if err != nil {
		return tenant.TenantContext{}, nil, nil, p.classify(ctx, err)
	}

	if req.Context.UserID != "" && req.Context.UserID != tc.UserID {
		_, aerr := p.auditor.LogSecurityViolation(ctx, tc.TenantID, tc.UserID, tenant.CodeTenantMismatch, map[string]any{
			"claimed_user_id": req.Context.UserID,
			"tool":            req.ToolName,
		})
		if aerr != nil {
			p.logger.Error("Failed to audit identity mismatch", zap.Error(aerr))
		}
		return tc, nil, nil, &failure{code: tenant.CodeTenantMismatch, msg: "request context does not match the session"}
	}

	params, removed := tenant.SanitizeRequest(req.Parameters)
	if len(removed) > 0 {
		p.logger.Warn("Stripped client-supplied tenant identifiers",
			zap.String("tenant_id", tc.TenantID),
			zap.String("tool", req.ToolName),
			zap.Strings("keys", removed))
	}

	// a zero timestamp is rejected by the validator; a signed request may
	// rely on the timestamp its signature covers
	ts := req.RequestTimestamp
	if ts.IsZero() && req.Signed != nil {
		ts = req.Signed.Timestamp
	}
	validated, err := p.validator.ValidateTenantAccess(ctx, tenant.AccessRequest{
		TenantID:         tc.TenantID,
		UserID:           tc.UserID,
		SessionToken:     req.SessionToken,
		UserRoles:        tc.Roles,
		RequestTimestamp: ts,
		RequestID:        tc.RequestID,
		ClientIP:         req.ClientIP,
	})
	if err != nil {
		return tc, params, removed, p.classify(ctx, err)
	}

	params, fail := p.verifyPayload(ctx, validated, req, params)
	return validated, params, removed, fail
}

// canonicalPayload is the byte form of a tool call that gets signed
func canonicalPayload(toolName string, params map[string]any) ([]byte, error) {
	if params == nil {
		params = map[string]any{}
	}
	return json.Marshal(struct {
		Tool       string         `json:"tool"`
		Parameters map[string]any `json:"parameters"`
	}{toolName, params})
}

// verifyPayload checks a caller-supplied signature or signs the payload
// itself, and returns the parameters decoded from the verified bytes so
// exactly what was verified is executed
func (p *Pipeline) verifyPayload(ctx context.Context, tc tenant.TenantContext, req ToolRequest, params map[string]any) (map[string]any, *failure) {
	payload, err := canonicalPayload(req.ToolName, params)
	if err != nil {
		return nil, &failure{code: CodeInvalidParameters, msg: "parameters are not serializable", err: err}
	}

	signed := req.Signed
	if signed == nil {
		if signed, err = p.signer.Sign(payload, tc.TenantID, tc.UserID); err != nil {
			return nil, &failure{code: CodeInternal, msg: "could not sign request", err: err}
		}
	}

	// a signature over another call or identity fails without spending its nonce
	if string(signed.Payload) != string(payload) || signed.TenantID != tc.TenantID || signed.UserID != tc.UserID {
		err = signing.ErrSignatureMismatch
	} else {
		err = p.signer.Verify(signed)
	}
	if err != nil {
		_, aerr := p.auditor.LogSecurityViolation(ctx, tc.TenantID, tc.UserID, CodeSignatureInvalid, map[string]any{
			"tool":   req.ToolName,
			"reason": err.Error(),
		})
		if aerr != nil {
			p.logger.Error("Failed to audit signature failure", zap.Error(aerr))
		}
		return nil, &failure{code: CodeSignatureInvalid, msg: "request signature is invalid", err: err}
	}

	var verified struct {
		Parameters map[string]any `json:"parameters"`
	}
	if err := json.Unmarshal(signed.Payload, &verified); err != nil {
		return nil, &failure{code: CodeInvalidParameters, msg: "signed payload is not a tool call", err: err}
	}
	return verified.Parameters, nil
}

func (p *Pipeline) dispatch(ctx context.Context, name string, tc tenant.TenantContext, params map[string]any, stats *callStats) (any, *failure) {
	t, ok := p.tools[name]
	if !ok {
		return nil, &failure{code: CodeUnknownTool, msg: fmt.Sprintf("unknown tool %q", name)}
	}
	inv := &invocation{tenantID: tc.TenantID, params: params, stats: stats}
	if inv.params == nil {
		inv.params = map[string]any{}
	}
	if t.spec.NeedsGRC {
		if p.connections == nil {
			return nil, p.classify(ctx, archer.ErrNotConfigured)
		}
		client, err := p.connections.ForTenant(tc.TenantID)
		if err != nil {
			return nil, p.classify(ctx, err)
		}
		inv.client = client
	}

	result, err := t.run(ctx, p, inv)
	if err != nil {
		f := p.classify(ctx, err)
		if f.code == CodeGRCUnavailable && inv.client != nil {
			p.metrics.RecordArcherUnavailable(inv.client.Name())
		}
		return nil, f
	}
	return result, nil
}

// classify maps an error to a caller-visible code and a message that has
// been through the privacy layer
func (p *Pipeline) classify(ctx context.Context, err error) *failure {
	var (
		verr     *tenant.ValidationError
		notFound *archer.ApplicationNotFoundError
		perr     *paramError
	)
	switch {
	case errors.As(err, &verr):
		return &failure{code: verr.Code, msg: verr.Message, err: err}
	case errors.As(err, &perr):
		return &failure{code: CodeInvalidParameters, msg: perr.msg, err: err}
	case errors.As(err, &notFound):
		return &failure{code: CodeApplicationNotFound, msg: p.protector.ProtectError(ctx, notFound), err: err}
	case errors.Is(err, archer.ErrNotConfigured):
		return &failure{code: CodeGRCNotConfigured, msg: "no GRC connection is configured for this tenant", err: err}
	case errors.Is(err, archer.ErrUnavailable), errors.Is(err, archer.ErrLoginFailed),
		errors.Is(err, context.DeadlineExceeded):
		p.logError(ctx, "GRC system unavailable", err)
		return &failure{code: CodeGRCUnavailable, msg: "the GRC system is unavailable", err: err}
	default:
		var httpErr *archer.HTTPError
		if errors.As(err, &httpErr) {
			p.logError(ctx, "GRC request failed", err)
			return &failure{code: CodeGRCUnavailable, msg: "the GRC system rejected the request", err: err}
		}
		p.logError(ctx, "Tool execution failed", err)
		return &failure{code: CodeInternal, msg: "internal error", err: err}
	}
}

// logError logs err after scrubbing it like any other outbound payload
func (p *Pipeline) logError(ctx context.Context, msg string, err error) {
	scrubbed := p.protector.ProtectErrorData(ctx, record.Object(record.Fields{
		"message": record.String(err.Error()),
	}))
	p.logger.Error(msg, zap.Any("error", scrubbed.Any()))
}

func (p *Pipeline) auditExecution(ctx context.Context, req ToolRequest, tc tenant.TenantContext, stats *callStats, removed []string, resp ToolResponse, elapsed time.Duration) {
	details := map[string]any{
		"tool":         req.ToolName,
		"success":      resp.Success,
		"request_id":   tc.RequestID,
		"execution_ms": elapsed.Milliseconds(),
	}
	severity := audit.SeverityLow
	if resp.Error != nil {
		details["code"] = resp.Error.Code
		severity = audit.SeverityMedium
	}
	if req.Context.AgentID != "" {
		details["agent_id"] = req.Context.AgentID
	}
	if stats.application != "" {
		details["application"] = stats.application
	}
	if stats.records > 0 {
		details["record_count"] = stats.records
	}
	if len(removed) > 0 {
		details["sanitized_keys"] = removed
	}
	_, err := p.auditor.LogEvent(ctx, audit.Event{
		TenantID:  tc.TenantID,
		UserID:    tc.UserID,
		EventType: audit.EventToolExecution,
		Severity:  severity,
		ClientIP:  req.ClientIP,
		Details:   details,
	})
	if err != nil {
		p.logger.Error("Failed to audit tool execution", zap.String("tool", req.ToolName), zap.Error(err))
	}
}

// SignToolRequest signs a tool call for later submission with ToolRequest.Signed
func (p *Pipeline) SignToolRequest(ctx context.Context, sessionToken, toolName string, params map[string]any) (*signing.SignedRequest, error) {
	tc, err := p.validator.ExtractTenantContext(ctx, sessionToken)
	if err != nil {
		return nil, err
	}
	if _, ok := p.tools[toolName]; !ok {
		return nil, fmt.Errorf("unknown tool %q", toolName)
	}
	sanitized, _ := tenant.SanitizeRequest(params)
	payload, err := canonicalPayload(toolName, sanitized)
	if err != nil {
		return nil, err
	}
	return p.signer.Sign(payload, tc.TenantID, tc.UserID)
}

func statusLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
