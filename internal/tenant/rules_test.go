package tenant

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func testRuleStores(t *testing.T) map[string]RuleStore {
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "rules.db"), 0o600, &bbolt.Options{Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	bolt, err := NewBoltRuleStore(db)
	require.NoError(t, err)
	return map[string]RuleStore{"memory": NewMemoryRuleStore(), "bolt": bolt}
}

func TestRuleStores(t *testing.T) {
	ctx := context.Background()
	for name, store := range testRuleStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(ctx, "tenant-acme")
			assert.ErrorIs(t, err, ErrRuleNotFound)

			rule := &AccessRule{
				TenantID:       "tenant-acme",
				AllowedUserIDs: []string{"u1"},
				RequiredRoles:  []string{"Analyst"},
				LastUpdated:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			}
			require.NoError(t, store.Put(ctx, rule))
			rule.AllowedUserIDs[0] = "mutated"

			got, err := store.Get(ctx, "tenant-acme")
			require.NoError(t, err)
			assert.Equal(t, []string{"u1"}, got.AllowedUserIDs)
			assert.True(t, got.LastUpdated.Equal(rule.LastUpdated))

			// one rule per tenant
			require.NoError(t, store.Put(ctx, &AccessRule{TenantID: "tenant-acme", AllowedUserIDs: []string{"u2"}}))
			require.NoError(t, store.Put(ctx, &AccessRule{TenantID: "tenant-beta"}))
			all, err := store.List(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "tenant-acme", all[0].TenantID)
			assert.Equal(t, []string{"u2"}, all[0].AllowedUserIDs)

			require.NoError(t, store.Delete(ctx, "tenant-acme"))
			assert.ErrorIs(t, store.Delete(ctx, "tenant-acme"), ErrRuleNotFound)
		})
	}
}

const yamlRules = `
rules:
  - tenant_id: tenant-acme
    allowed_user_ids: [user-001, user-002, user-001]
    required_roles: [TenantOwner]
  - tenant_id: tenant-globex
    allowed_user_ids: [user-777]
    cross_tenant_access: true
`

const tomlRules = `
[[rules]]
tenant_id = "tenant-acme"
allowed_user_ids = ["user-002", "user-001"]
required_roles = ["TenantOwner"]

[[rules]]
tenant_id = "tenant-globex"
allowed_user_ids = ["user-777"]
cross_tenant_access = true
`

const jsonRules = `{"rules":[
 {"tenant_id":"tenant-acme","allowed_user_ids":["user-001","user-002"],"required_roles":["TenantOwner"]},
 {"tenant_id":"tenant-globex","allowed_user_ids":["user-777"],"cross_tenant_access":true}
]}`

func TestLoadRulesFile(t *testing.T) {
	dir := t.TempDir()
	for ext, body := range map[string]string{".yaml": yamlRules, ".toml": tomlRules, ".json": jsonRules} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(dir, "rules"+ext)
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

			rules, err := LoadRulesFile(path)
			require.NoError(t, err)
			require.Len(t, rules, 2)
			assert.Equal(t, "tenant-acme", rules[0].TenantID)
			assert.Equal(t, []string{"user-001", "user-002"}, rules[0].AllowedUserIDs)
			assert.Equal(t, []string{"TenantOwner"}, rules[0].RequiredRoles)
			assert.True(t, rules[1].CrossTenantAccess)
		})
	}
}

func TestParseRules_Errors(t *testing.T) {
	_, err := ParseRules([]byte("rules: [{allowed_user_ids: [a]}]"), ".yaml")
	assert.ErrorContains(t, err, "tenant_id is required")

	_, err = ParseRules([]byte("rules: [{tenant_id: a}, {tenant_id: a}]"), "yml")
	assert.ErrorContains(t, err, "duplicate tenant")

	_, err = ParseRules([]byte("x"), ".ini")
	assert.Error(t, err)

	_, err = ParseRules([]byte("[[rules]\n"), ".toml")
	assert.Error(t, err)

	_, err = LoadRulesFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSanitizeRequest(t *testing.T) {
	in := map[string]any{
		"application": "Risk Register",
		"tenant_id":   "tenant-evil",
		"tenantId":    "tenant-evil",
		"filters": map[string]any{
			"org_id":        "x",
			"X-Tenant-ID":   "y",
			"status":        "Open",
			"targetTenants": []any{"a"},
		},
		"items": []any{
			map[string]any{"organization_id": "z", "name": "keep"},
		},
	}

	out, removed := SanitizeRequest(in)
	assert.Equal(t, map[string]any{
		"application": "Risk Register",
		"filters":     map[string]any{"status": "Open"},
		"items":       []any{map[string]any{"name": "keep"}},
	}, out)
	assert.Equal(t, []string{
		"filters.X-Tenant-ID",
		"filters.org_id",
		"filters.targetTenants",
		"items.organization_id",
		"tenantId",
		"tenant_id",
	}, removed)
	assert.Equal(t, "tenant-evil", in["tenant_id"], "input is not modified")

	out, removed = SanitizeRequest(nil)
	assert.Empty(t, out)
	assert.Empty(t, removed)
}
