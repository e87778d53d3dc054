package tenant

import (
	"errors"
	"fmt"

	"github.com/grcgate/grcgate/internal/audit"
)

// Validation failure codes
const (
	CodeInvalidUserID        = "INVALID_USER_ID"
	CodeInvalidTenantID      = "INVALID_TENANT_ID"
	CodeInvalidSessionToken  = "INVALID_SESSION_TOKEN"
	CodeInvalidRoles         = "INVALID_ROLES"
	CodeTimestampFuture      = "TIMESTAMP_FUTURE"
	CodeTimestampReplay      = "TIMESTAMP_REPLAY"
	CodeRateLimited          = "RATE_LIMITED"
	CodeTenantNotFound       = "TENANT_NOT_FOUND"
	CodeAccessDenied         = "ACCESS_DENIED"
	CodeInsufficientRoles    = "INSUFFICIENT_ROLES"
	CodeInvalidSessionFormat = "INVALID_SESSION_FORMAT"
	CodeSessionExpired       = "SESSION_EXPIRED"
	CodeTenantMismatch       = "TENANT_MISMATCH"
	CodeSuspiciousPattern    = "SUSPICIOUS_PATTERN"
)

// ErrRuleNotFound is returned by rule stores for unknown tenants
var ErrRuleNotFound = errors.New("access rule not found")

// ValidationError rejects a tenant access attempt
type ValidationError struct {
	Code     string
	TenantID string
	UserID   string
	Severity audit.Severity
	Message  string
}

func newValidationError(code, tenantID, userID, format string, args ...any) *ValidationError {
	return &ValidationError{
		Code:     code,
		TenantID: tenantID,
		UserID:   userID,
		Severity: audit.ViolationSeverity(code),
		Message:  fmt.Sprintf(format, args...),
	}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("tenant validation failed: %s: %s", e.Code, e.Message)
}

// CodeOf returns the validation code carried by err, or ""
func CodeOf(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ""
}
