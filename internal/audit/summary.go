package audit

import (
	"context"
	"time"
)

// Summary aggregates one tenant's audit trail
type Summary struct {
	TenantID      string            `json:"tenant_id"`
	TotalEvents   int               `json:"total_events"`
	ByEventType   map[EventType]int `json:"by_event_type"`
	BySeverity    map[Severity]int  `json:"by_severity"`
	Violations    int               `json:"violations"`
	ViolationsBy  map[Severity]int  `json:"violations_by_severity"`
	RiskScore     int               `json:"risk_score"`
	SecurityScore int               `json:"security_score"`
	FirstEvent    *time.Time        `json:"first_event,omitempty"`
	LastEvent     *time.Time        `json:"last_event,omitempty"`
	GeneratedAt   time.Time         `json:"generated_at"`
}

var severityWeights = map[Severity]int{
	SeverityCritical: 25,
	SeverityHigh:     10,
	SeverityMedium:   5,
	SeverityLow:      1,
}

// GenerateAuditSummary counts a tenant's events and scores its violations:
// risk is the severity-weighted violation count capped at 100 and the
// security score is its complement
func (l *Logger) GenerateAuditSummary(ctx context.Context, tenantID string) (*Summary, error) {
	s := &Summary{
		TenantID:     tenantID,
		ByEventType:  make(map[EventType]int),
		BySeverity:   make(map[Severity]int),
		ViolationsBy: make(map[Severity]int),
		GeneratedAt:  l.now().UTC(),
	}

	risk := 0
	err := l.store.Iterate(ctx, func(e *Event) error {
		if e.TenantID != tenantID {
			return nil
		}
		s.TotalEvents++
		s.ByEventType[e.EventType]++
		s.BySeverity[e.Severity]++
		if e.EventType == EventSecurityViolation {
			s.Violations++
			s.ViolationsBy[e.Severity]++
			risk += severityWeights[e.Severity]
		}
		ts := e.Timestamp
		if s.FirstEvent == nil || ts.Before(*s.FirstEvent) {
			s.FirstEvent = &ts
		}
		if s.LastEvent == nil || ts.After(*s.LastEvent) {
			s.LastEvent = &ts
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if risk > 100 {
		risk = 100
	}
	s.RiskScore = risk
	s.SecurityScore = 100 - risk
	return s, nil
}
