// Package pipeline executes tool calls against the GRC system of record:
// identity from the session, access validation, payload signing, the Archer
// call, privacy protection and auditing.
package pipeline

import (
	"context"
	"time"

	"github.com/grcgate/grcgate/internal/archer"
	"github.com/grcgate/grcgate/internal/signing"
	"github.com/grcgate/grcgate/internal/usage"
)

// Error codes returned in ToolError.Code besides the tenant validation codes
const (
	CodeGRCUnavailable      = "GRC_UNAVAILABLE"
	CodeGRCNotConfigured    = "GRC_NOT_CONFIGURED"
	CodeApplicationNotFound = "APPLICATION_NOT_FOUND"
	CodeSignatureInvalid    = "SIGNATURE_INVALID"
	CodeUnknownTool         = "UNKNOWN_TOOL"
	CodeInvalidParameters   = "INVALID_PARAMETERS"
	CodeInternal            = "INTERNAL_ERROR"
)

// RequestContext is caller-supplied context. UserID is checked against the
// session, never trusted.
type RequestContext struct {
	AgentID   string `json:"agent_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// ToolRequest is one tool call. There is deliberately no tenant field: the
// tenant comes from the session token.
type ToolRequest struct {
	ToolName         string                 `json:"tool_name"`
	SessionToken     string                 `json:"-"`
	Parameters       map[string]any         `json:"parameters,omitempty"`
	Context          RequestContext         `json:"context"`
	// RequestTimestamp is required unless Signed carries one
	RequestTimestamp time.Time              `json:"request_timestamp"`
	ClientIP         string                 `json:"-"`
	Signed           *signing.SignedRequest `json:"signed,omitempty"`
}

// ToolError is the caller-visible failure
type ToolError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Metadata identifies the call in responses
type Metadata struct {
	ToolID    string    `json:"tool_id"`
	RequestID string    `json:"request_id,omitempty"`
	TenantID  string    `json:"tenant_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ToolResponse is the result of ExecuteTool
type ToolResponse struct {
	Success  bool        `json:"success"`
	Result   any         `json:"result,omitempty"`
	Error    *ToolError  `json:"error,omitempty"`
	Usage    usage.Usage `json:"usage"`
	Metadata Metadata    `json:"metadata"`
}

// GRCClient is the part of the Archer client the tools use
type GRCClient interface {
	Name() string
	GetApplications(ctx context.Context) ([]archer.Application, error)
	SearchRecords(ctx context.Context, appName string, pageSize, pageNumber int) (*archer.SearchResult, error)
	GetApplicationStats(ctx context.Context, appName string) (*archer.ApplicationStats, error)
}

// Connections resolves the Archer client serving a tenant
type Connections interface {
	ForTenant(tenantID string) (GRCClient, error)
}

type poolConnections struct {
	pool *archer.Pool
}

// FromPool adapts an archer.Pool
func FromPool(p *archer.Pool) Connections {
	return poolConnections{pool: p}
}

func (p poolConnections) ForTenant(tenantID string) (GRCClient, error) {
	c, err := p.pool.ForTenant(tenantID)
	if err != nil {
		return nil, err
	}
	return c, nil
}
