// Package audit keeps the append-only, hash-chained audit trail of every
// tenant validation, tool execution and security violation.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// Severity of an audit event
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from low (1) to critical (4); unknown values rank 0
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// ParseSeverity accepts any case and returns "" for unknown values
func ParseSeverity(s string) Severity {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if sev.Rank() == 0 {
		return ""
	}
	return sev
}

// EventType classifies audit events
type EventType string

const (
	EventTenantAccessGranted EventType = "tenant_access_granted"
	EventSecurityViolation   EventType = "security_violation"
	EventToolExecution       EventType = "tool_execution"
	EventAccessRuleChange    EventType = "access_rule_change"
	EventConfigChange        EventType = "config_change"
	EventDetokenize          EventType = "detokenize"
)

// Event is one audit record. Once appended its content is covered by
// IntegrityHash, which also covers the hash of the previous event.
type Event struct {
	ID            string         `json:"id"`
	Sequence      uint64         `json:"sequence"`
	TenantID      string         `json:"tenant_id"`
	UserID        string         `json:"user_id"`
	EventType     EventType      `json:"event_type"`
	Severity      Severity       `json:"severity"`
	Details       map[string]any `json:"details,omitempty"`
	ClientIP      string         `json:"client_ip,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	PrevHash      string         `json:"prev_hash"`
	IntegrityHash string         `json:"integrity_hash"`
}

// hashedContent is the part of an event covered by its hash. Struct fields
// marshal in declaration order and map keys sorted, so the encoding is stable.
type hashedContent struct {
	ID        string         `json:"id"`
	Sequence  uint64         `json:"sequence"`
	TenantID  string         `json:"tenant_id"`
	UserID    string         `json:"user_id"`
	EventType EventType      `json:"event_type"`
	Severity  Severity       `json:"severity"`
	Details   map[string]any `json:"details,omitempty"`
	ClientIP  string         `json:"client_ip,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// ComputeHash returns sha256(prevHash | canonical content) in hex
func ComputeHash(prevHash string, e *Event) (string, error) {
	content, err := json.Marshal(hashedContent{
		ID:        e.ID,
		Sequence:  e.Sequence,
		TenantID:  e.TenantID,
		UserID:    e.UserID,
		EventType: e.EventType,
		Severity:  e.Severity,
		Details:   e.Details,
		ClientIP:  e.ClientIP,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write([]byte{'|'})
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// GenesisHash derives the chain seed that precedes the first event
func GenesisHash(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// ViolationSeverity maps a violation code to its audit severity
func ViolationSeverity(code string) Severity {
	switch code {
	case "TIMESTAMP_REPLAY", "TIMESTAMP_FUTURE", "SUSPICIOUS_PATTERN", "ACCESS_DENIED",
		"TENANT_MISMATCH", "SIGNATURE_INVALID", "AUDIT_CHAIN_BROKEN":
		return SeverityCritical
	case "SESSION_EXPIRED":
		return SeverityHigh
	case "INSUFFICIENT_ROLES", "INVALID_SESSION_FORMAT", "RATE_LIMITED":
		return SeverityMedium
	}
	if strings.HasPrefix(code, "INVALID_") {
		return SeverityMedium
	}
	return SeverityLow
}
