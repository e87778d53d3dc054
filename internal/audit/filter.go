package audit

import "time"

const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// Filter selects audit events. Zero fields match everything.
type Filter struct {
	TenantID  string
	UserID    string
	EventType EventType
	// MinSeverity keeps events at or above this severity
	MinSeverity Severity
	// Severity keeps events of exactly this severity
	Severity  Severity
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Offset    int
}

// Normalize applies default and maximum limits
func (f *Filter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultQueryLimit
	}
	if f.Limit > MaxQueryLimit {
		f.Limit = MaxQueryLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// Matches reports whether e satisfies the filter
func (f *Filter) Matches(e *Event) bool {
	if f.TenantID != "" && e.TenantID != f.TenantID {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.MinSeverity != "" && e.Severity.Rank() < f.MinSeverity.Rank() {
		return false
	}
	if !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && e.Timestamp.After(f.EndTime) {
		return false
	}
	return true
}
