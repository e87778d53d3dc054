package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/grcgate/grcgate/internal/audit"
	"github.com/grcgate/grcgate/internal/config"
	"github.com/grcgate/grcgate/internal/reqcontext"
	"github.com/grcgate/grcgate/internal/tenant"
)

// adminActor is the user id recorded on audit events from admin routes
const adminActor = "admin-api"

type verifyRequest struct {
	IDs []string `json:"ids,omitempty"`
}

type issueSessionRequest struct {
	TenantID string   `json:"tenant_id"`
	UserID   string   `json:"user_id"`
	Roles    []string `json:"roles"`
}

type revokeSessionRequest struct {
	Token string `json:"token"`
}

type detokenizeRequest struct {
	Text string `json:"text"`
}

func parseTime(q, name string) (time.Time, error) {
	if q == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, q)
	if err != nil {
		return time.Time{}, errors.New(name + " must be an RFC3339 timestamp")
	}
	return t, nil
}

func parseInt(q string) (int, error) {
	if q == "" {
		return 0, nil
	}
	return strconv.Atoi(q)
}

func filterFromQuery(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	f := audit.Filter{
		TenantID:  q.Get("tenant_id"),
		UserID:    q.Get("user_id"),
		EventType: audit.EventType(q.Get("event_type")),
	}
	if v := q.Get("severity"); v != "" {
		f.Severity = audit.ParseSeverity(v)
	}
	if v := q.Get("min_severity"); v != "" {
		f.MinSeverity = audit.ParseSeverity(v)
	}
	var err error
	if f.StartTime, err = parseTime(q.Get("start"), "start"); err != nil {
		return f, err
	}
	if f.EndTime, err = parseTime(q.Get("end"), "end"); err != nil {
		return f, err
	}
	if f.Limit, err = parseInt(q.Get("limit")); err != nil {
		return f, errors.New("limit must be a number")
	}
	if f.Offset, err = parseInt(q.Get("offset")); err != nil {
		return f, errors.New("offset must be a number")
	}
	f.Normalize()
	return f, nil
}

func (s *Server) handleQueryEvents(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, total, err := s.auditor.QueryEvents(r.Context(), f)
	if err != nil {
		s.logger.Errorw("Failed to query audit events", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to query audit events")
		return
	}
	if events == nil {
		events = []*audit.Event{}
	}
	s.writeSuccess(w, map[string]any{
		"events": events,
		"total":  total,
		"limit":  f.Limit,
		"offset": f.Offset,
	})
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	e, err := s.auditor.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, audit.ErrEventNotFound) {
			s.writeError(w, http.StatusNotFound, "audit event not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to read audit event")
		return
	}
	s.writeSuccess(w, e)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var body verifyRequest
	if r.ContentLength != 0 {
		if err := decode(w, r, &body); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	report, err := s.auditor.VerifyIntegrity(r.Context(), body.IDs)
	if err != nil {
		s.logger.Errorw("Audit verification failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "audit verification failed")
		return
	}
	s.writeSuccess(w, report)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.auditor.GenerateAuditSummary(r.Context(), r.URL.Query().Get("tenant_id"))
	if err != nil {
		s.logger.Errorw("Failed to build audit summary", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to build audit summary")
		return
	}
	s.writeSuccess(w, summary)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.validator.ListAccessRules(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list access rules")
		return
	}
	if rules == nil {
		rules = []*tenant.AccessRule{}
	}
	s.writeSuccess(w, rules)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.validator.GetAccessRule(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		s.writeRuleError(w, err)
		return
	}
	s.writeSuccess(w, rule)
}

func (s *Server) handlePutRule(w http.ResponseWriter, r *http.Request) {
	var rule tenant.AccessRule
	if err := decode(w, r, &rule); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid access rule")
		return
	}
	id := chi.URLParam(r, "tenantID")
	if rule.TenantID != "" && rule.TenantID != id {
		s.writeError(w, http.StatusBadRequest, "tenant_id does not match the path")
		return
	}
	rule.TenantID = id
	saved, err := s.validator.SetAccessRule(r.Context(), adminActor, rule)
	if err != nil {
		s.writeRuleError(w, err)
		return
	}
	s.writeSuccess(w, saved)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tenantID")
	if err := s.validator.DeleteAccessRule(r.Context(), adminActor, id); err != nil {
		s.writeRuleError(w, err)
		return
	}
	s.writeSuccess(w, map[string]string{"tenant_id": id, "action": "deleted"})
}

func (s *Server) writeRuleError(w http.ResponseWriter, err error) {
	var verr *tenant.ValidationError
	switch {
	case errors.Is(err, tenant.ErrRuleNotFound):
		s.writeError(w, http.StatusNotFound, "access rule not found")
	case errors.As(err, &verr):
		s.writeError(w, http.StatusBadRequest, verr.Message)
	default:
		s.logger.Errorw("Access rule operation failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "access rule operation failed")
	}
}

func (s *Server) handleGetPrivacy(w http.ResponseWriter, _ *http.Request) {
	s.writeSuccess(w, s.protector.Config())
}

// handlePutPrivacy swaps the privacy configuration without a restart
func (s *Server) handlePutPrivacy(w http.ResponseWriter, r *http.Request) {
	var cfg config.PrivacyConfig
	if err := decode(w, r, &cfg); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid privacy configuration")
		return
	}
	previous := s.protector.Config()
	if err := s.protector.UpdateConfig(&cfg); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	_, err := s.auditor.LogEvent(r.Context(), audit.Event{
		UserID:    adminActor,
		EventType: audit.EventConfigChange,
		Severity:  audit.SeverityMedium,
		ClientIP:  reqcontext.ClientIP(r.Context()),
		Details: map[string]any{
			"section":        "privacy",
			"masking_level":  cfg.MaskingLevel,
			"previous_level": previous.MaskingLevel,
			"tokenization":   cfg.EnableTokenization,
		},
	})
	if err != nil {
		s.logger.Errorw("Failed to audit privacy change", "error", err)
	}
	s.writeSuccess(w, s.protector.Config())
}

func (s *Server) handleIssueSession(w http.ResponseWriter, r *http.Request) {
	var body issueSessionRequest
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(body.TenantID) == "" || strings.TrimSpace(body.UserID) == "" {
		s.writeError(w, http.StatusBadRequest, "tenant_id and user_id are required")
		return
	}
	token, session, err := s.validator.Sessions().Issue(body.TenantID, body.UserID, body.Roles)
	if err != nil {
		s.logger.Errorw("Failed to issue session", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to issue session")
		return
	}
	s.writeSuccess(w, map[string]any{"token": token, "session": session})
}

func (s *Server) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	var body revokeSessionRequest
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validator.Sessions().RevokeSession(body.Token); err != nil {
		s.writeError(w, http.StatusBadRequest, "session token is not valid")
		return
	}
	s.writeSuccess(w, map[string]string{"action": "revoked"})
}

// handleDetokenize restores tokenized values for an administrator. Every
// call is audited at high severity because it re-exposes protected data.
func (s *Server) handleDetokenize(w http.ResponseWriter, r *http.Request) {
	var body detokenizeRequest
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	_, err := s.auditor.LogEvent(r.Context(), audit.Event{
		UserID:    adminActor,
		EventType: audit.EventDetokenize,
		Severity:  audit.SeverityHigh,
		ClientIP:  reqcontext.ClientIP(r.Context()),
		Details:   map[string]any{"length": len(body.Text)},
	})
	if err != nil {
		s.logger.Errorw("Failed to audit detokenize", "error", err)
		s.writeError(w, http.StatusInternalServerError, "audit unavailable")
		return
	}
	s.writeSuccess(w, map[string]string{"text": s.protector.DetokenizeString(r.Context(), body.Text)})
}
