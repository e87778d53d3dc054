package httpapi

import (
	"net/http"
	"time"

	"github.com/grcgate/grcgate/internal/pipeline"
	"github.com/grcgate/grcgate/internal/reqcontext"
	"github.com/grcgate/grcgate/internal/signing"
	"github.com/grcgate/grcgate/internal/tenant"
)

// executeRequest is the body of POST /api/v1/tools/execute. The tenant is
// taken from the bearer session token only.
type executeRequest struct {
	ToolName         string                  `json:"tool_name"`
	Parameters       map[string]any          `json:"parameters,omitempty"`
	Context          pipeline.RequestContext `json:"context"`
	RequestTimestamp time.Time               `json:"request_timestamp"`
	Signed           *signing.SignedRequest  `json:"signed,omitempty"`
}

type signRequest struct {
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type maskRequest struct {
	Text string `json:"text"`
}

var statusByCode = map[string]int{
	tenant.CodeInvalidSessionToken:   http.StatusUnauthorized,
	tenant.CodeInvalidSessionFormat:  http.StatusUnauthorized,
	tenant.CodeSessionExpired:        http.StatusUnauthorized,
	tenant.CodeTimestampReplay:       http.StatusUnauthorized,
	tenant.CodeTimestampFuture:       http.StatusUnauthorized,
	pipeline.CodeSignatureInvalid:    http.StatusUnauthorized,
	tenant.CodeAccessDenied:          http.StatusForbidden,
	tenant.CodeInsufficientRoles:     http.StatusForbidden,
	tenant.CodeTenantMismatch:        http.StatusForbidden,
	tenant.CodeSuspiciousPattern:     http.StatusForbidden,
	tenant.CodeTenantNotFound:        http.StatusForbidden,
	tenant.CodeRateLimited:           http.StatusTooManyRequests,
	pipeline.CodeUnknownTool:         http.StatusNotFound,
	pipeline.CodeApplicationNotFound: http.StatusNotFound,
	pipeline.CodeInvalidParameters:   http.StatusBadRequest,
	pipeline.CodeGRCUnavailable:      http.StatusServiceUnavailable,
	pipeline.CodeGRCNotConfigured:    http.StatusServiceUnavailable,
	pipeline.CodeInternal:            http.StatusInternalServerError,
}

// statusFor maps a tool error code to an HTTP status; remaining validator
// codes are malformed requests
func statusFor(resp pipeline.ToolResponse) int {
	if resp.Success || resp.Error == nil {
		return http.StatusOK
	}
	if status, ok := statusByCode[resp.Error.Code]; ok {
		return status
	}
	return http.StatusBadRequest
}

func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	s.writeSuccess(w, s.pipeline.Tools())
}

func (s *Server) handleExecuteTool(w http.ResponseWriter, r *http.Request) {
	var body executeRequest
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp := s.pipeline.ExecuteTool(r.Context(), pipeline.ToolRequest{
		ToolName:         body.ToolName,
		SessionToken:     bearerToken(r),
		Parameters:       body.Parameters,
		Context:          body.Context,
		RequestTimestamp: body.RequestTimestamp,
		ClientIP:         reqcontext.ClientIP(r.Context()),
		Signed:           body.Signed,
	})
	s.writeJSON(w, statusFor(resp), resp)
}

func (s *Server) handleSignTool(w http.ResponseWriter, r *http.Request) {
	var body signRequest
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	signed, err := s.pipeline.SignToolRequest(r.Context(), bearerToken(r), body.ToolName, body.Parameters)
	if err != nil {
		if code := tenant.CodeOf(err); code != "" {
			s.writeError(w, http.StatusUnauthorized, code)
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeSuccess(w, signed)
}

// handleMask runs mask_text through the pipeline so the caller is validated
// and the call is audited like any other tool
func (s *Server) handleMask(w http.ResponseWriter, r *http.Request) {
	var body maskRequest
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp := s.pipeline.ExecuteTool(r.Context(), pipeline.ToolRequest{
		ToolName:     pipeline.ToolMaskText,
		SessionToken: bearerToken(r),
		Parameters:   map[string]any{"text": body.Text},
		ClientIP:     reqcontext.ClientIP(r.Context()),
	})
	if !resp.Success {
		s.writeJSON(w, statusFor(resp), resp)
		return
	}
	s.writeSuccess(w, resp.Result)
}
