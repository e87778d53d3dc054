// Package tenant derives tenant identity from authenticated sessions and
// decides whether a user may act inside a tenant.
package tenant

import (
	"slices"
	"strings"
	"time"
)

// SourceTrustedSession marks contexts derived from a verified session
const SourceTrustedSession = "trusted-session"

// Platform-owner roles may cross tenant boundaries
const (
	RolePlatformOwner = "PlatformOwner"
	RoleSuperAdmin    = "SuperAdmin"
)

// TenantContext is the identity of one request. It is only ever built from a
// verified session and is never persisted.
type TenantContext struct {
	TenantID    string    `json:"tenant_id"`
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id"`
	RequestID   string    `json:"request_id"`
	Roles       []string  `json:"roles"`
	ExtractedAt time.Time `json:"extracted_at"`
	Source      string    `json:"source"`
	Validated   bool      `json:"validated"`
}

// IsPlatformOwner reports whether the context carries a cross-tenant role
func (c TenantContext) IsPlatformOwner() bool {
	return hasPlatformOwnerRole(c.Roles)
}

// AccessRequest is one access attempt to validate
type AccessRequest struct {
	TenantID         string
	UserID           string
	SessionToken     string
	UserRoles        []string
	RequestTimestamp time.Time
	RequestID        string
	ClientIP         string
}

// AccessRule says who may act inside a tenant. A tenant has at most one rule.
type AccessRule struct {
	TenantID          string    `json:"tenant_id" yaml:"tenant_id" toml:"tenant_id"`
	AllowedUserIDs    []string  `json:"allowed_user_ids" yaml:"allowed_user_ids" toml:"allowed_user_ids"`
	RequiredRoles     []string  `json:"required_roles" yaml:"required_roles" toml:"required_roles"`
	CrossTenantAccess bool      `json:"cross_tenant_access" yaml:"cross_tenant_access" toml:"cross_tenant_access"`
	LastUpdated       time.Time `json:"last_updated" yaml:"last_updated,omitempty" toml:"last_updated,omitempty"`
}

// normalize trims and de-duplicates the rule's sets so they compare as sets
func (r *AccessRule) normalize() {
	r.TenantID = strings.TrimSpace(r.TenantID)
	r.AllowedUserIDs = dedupe(r.AllowedUserIDs)
	r.RequiredRoles = dedupe(r.RequiredRoles)
}

// AllowsUser reports whether userID is listed
func (r *AccessRule) AllowsUser(userID string) bool {
	return slices.Contains(r.AllowedUserIDs, userID)
}

// SatisfiedBy reports whether roles include at least one required role.
// A rule with no required roles is satisfied by any role.
func (r *AccessRule) SatisfiedBy(roles []string) bool {
	if len(r.RequiredRoles) == 0 {
		return true
	}
	for _, required := range r.RequiredRoles {
		if hasRole(roles, required) {
			return true
		}
	}
	return false
}

func hasRole(roles []string, want string) bool {
	for _, r := range roles {
		if strings.EqualFold(strings.TrimSpace(r), want) {
			return true
		}
	}
	return false
}

func hasPlatformOwnerRole(roles []string) bool {
	return hasRole(roles, RolePlatformOwner) || hasRole(roles, RoleSuperAdmin)
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}
