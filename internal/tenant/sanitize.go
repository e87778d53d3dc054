package tenant

import (
	"slices"
	"strings"
)

var tenantKeys = map[string]struct{}{
	"tenant_id":       {},
	"tenantid":        {},
	"tenant":          {},
	"organization_id": {},
	"organizationid":  {},
	"org_id":          {},
	"orgid":           {},
	"x-tenant-id":     {},
}

func isTenantKey(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	if _, ok := tenantKeys[k]; ok {
		return true
	}
	return strings.Contains(k, "tenant")
}

// SanitizeRequest returns a copy of params without client-supplied tenant
// identifiers at any depth, and the sorted paths of the removed keys
func SanitizeRequest(params map[string]any) (map[string]any, []string) {
	var removed []string
	out, _ := sanitizeValue(params, "", &removed).(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	slices.Sort(removed)
	return out, removed
}

func sanitizeValue(v any, path string, removed *[]string) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			p := k
			if path != "" {
				p = path + "." + k
			}
			if isTenantKey(k) {
				*removed = append(*removed, p)
				continue
			}
			out[k] = sanitizeValue(child, p, removed)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = sanitizeValue(child, path, removed)
		}
		return out
	default:
		return v
	}
}
