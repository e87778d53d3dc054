package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, "", cfg.DataDir)
	assert.True(t, cfg.EnableMCP)
	assert.Equal(t, MaskingModerate, cfg.Privacy.MaskingLevel)
	assert.Equal(t, 24*time.Hour, cfg.Privacy.TokenMaxAge.Duration())
	assert.Equal(t, 5*time.Minute, cfg.Tenant.ReplayWindow.Duration())
	assert.Equal(t, 3, cfg.Tenant.AnomalyMaxTenants)
	assert.Equal(t, AuditStoreBolt, cfg.Audit.Store)
	assert.Empty(t, cfg.Connections)
	require.NoError(t, cfg.Validate())
}

func TestDuration_JSON(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"20m"`), &d))
	assert.Equal(t, 20*time.Minute, d.Duration())

	require.NoError(t, json.Unmarshal([]byte(`1000000000`), &d))
	assert.Equal(t, time.Second, d.Duration())

	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &d))

	b, err := json.Marshal(Duration(90 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(b))
}

func TestValidate_Connections(t *testing.T) {
	tests := []struct {
		name    string
		conns   []*ArcherConnection
		wantErr string
	}{
		{
			name: "valid connection gets defaults",
			conns: []*ArcherConnection{
				{Name: "prod", BaseURL: "https://archer.example.com/", InstanceName: "GRC", Username: "svc", TenantIDs: []string{"t1"}},
			},
		},
		{
			name: "missing tenants",
			conns: []*ArcherConnection{
				{Name: "prod", BaseURL: "https://archer.example.com", InstanceName: "GRC", Username: "svc"},
			},
			wantErr: "at least one tenant id",
		},
		{
			name: "tenant mapped twice",
			conns: []*ArcherConnection{
				{Name: "a", BaseURL: "https://a", InstanceName: "GRC", Username: "svc", TenantIDs: []string{"t1"}},
				{Name: "b", BaseURL: "https://b", InstanceName: "GRC", Username: "svc", TenantIDs: []string{"t1"}},
			},
			wantErr: "mapped to both",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Connections = tt.conns
			err := cfg.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			conn := cfg.ConnectionForTenant("t1")
			require.NotNil(t, conn)
			assert.Equal(t, "https://archer.example.com", conn.BaseURL)
			assert.Equal(t, 30*time.Second, conn.RequestTimeout.Duration())
			assert.Equal(t, 20*time.Minute, conn.SessionTTL.Duration())
			assert.Equal(t, 3, conn.MaxAttempts)
			assert.Nil(t, cfg.ConnectionForTenant("t2"))
		})
	}
}

func TestValidate_Privacy(t *testing.T) {
	p := &PrivacyConfig{MaskingLevel: "STRICT"}
	require.NoError(t, p.Validate())
	assert.Equal(t, MaskingStrict, p.MaskingLevel)

	p = &PrivacyConfig{MaskingLevel: "paranoid"}
	assert.Error(t, p.Validate())

	p = &PrivacyConfig{CustomPatterns: []CustomPattern{{Name: "bad", Regex: "(["}}}
	assert.Error(t, p.Validate())
}

func TestPrivacyConfig_Clone(t *testing.T) {
	p := &PrivacyConfig{WhitelistFields: []string{"status"}}
	c := p.Clone()
	c.WhitelistFields[0] = "changed"
	assert.Equal(t, "status", p.WhitelistFields[0])
}

func TestLoad_YAMLFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grcgate.yaml")
	content := `
data_dir: ` + dir + `
privacy:
  masking_level: light
  token_max_age: 2h
  whitelist_fields: [risk_score]
connections:
  - name: prod
    base_url: https://archer.example.com
    instance_name: GRC
    username: svc
    password: ${env:ARCHER_PASSWORD}
    tenant_ids: [tenant-a]
    request_timeout: 10s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	t.Setenv("GRCGATE_LOGGING_LEVEL", "debug")
	t.Setenv("GRCGATE_PRIVACY_ENABLE_TOKENIZATION", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, MaskingLight, cfg.Privacy.MaskingLevel)
	assert.True(t, cfg.Privacy.EnableTokenization)
	assert.Equal(t, 2*time.Hour, cfg.Privacy.TokenMaxAge.Duration())
	assert.Equal(t, []string{"risk_score"}, cfg.Privacy.WhitelistFields)
	assert.Equal(t, "debug", cfg.Logging.Level)
	require.Len(t, cfg.Connections, 1)
	assert.Equal(t, "${env:ARCHER_PASSWORD}", cfg.Connections[0].Password)
	assert.Equal(t, 10*time.Second, cfg.Connections[0].RequestTimeout.Duration())
	// untouched defaults survive a partial file
	assert.Equal(t, 5*time.Minute, cfg.Tenant.ReplayWindow.Duration())
}

func TestLoad_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(path, nil, 0600))
	t.Setenv("GRCGATE_DATA_DIR", dir)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, MaskingModerate, cfg.Privacy.MaskingLevel)
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "grcgate.json")

	cfg := DefaultConfig()
	cfg.DataDir = dir
	cfg.Privacy.MaskingLevel = MaskingStrict
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, MaskingStrict, loaded.Privacy.MaskingLevel)
}
