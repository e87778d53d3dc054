package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/grcgate/grcgate/internal/config"
	"github.com/grcgate/grcgate/internal/pipeline"
	"github.com/grcgate/grcgate/internal/tenant"
)

const seedRules = `
rules:
  - tenant_id: tenant-acme
    allowed_user_ids: [user-001]
    required_roles: [Analyst]
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	rulesPath := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(rulesPath, []byte(seedRules), 0o600))

	t.Setenv("GRCGATE_TEST_SESSION_SECRET", "server-test-session-secret-0123456789")
	t.Setenv("GRCGATE_TEST_SIGNING_KEY", "server-test-signing-key-0123456789")

	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Listen = "127.0.0.1:0"
	cfg.APIKey = "server-test-admin-key"
	cfg.Logging = nil
	cfg.Tenant.SessionSecret = "${env:GRCGATE_TEST_SESSION_SECRET}"
	cfg.Tenant.RulesFile = rulesPath
	cfg.Signing.Key = "${env:GRCGATE_TEST_SIGNING_KEY}"
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := New(context.Background(), cfg, zaptest.NewLogger(t), "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func TestNew_ResolvesSecretsAndSeedsRules(t *testing.T) {
	cfg := testConfig(t)
	s := newTestServer(t, cfg)

	assert.Equal(t, "server-test-session-secret-0123456789", cfg.Tenant.SessionSecret)
	assert.Equal(t, "server-test-signing-key-0123456789", cfg.Signing.Key)

	rule, err := s.validator.GetAccessRule(context.Background(), "tenant-acme")
	require.NoError(t, err)
	assert.Equal(t, []string{"user-001"}, rule.AllowedUserIDs)
}

func TestNew_StoredRulesWinOverSeedFile(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	s, err := New(ctx, cfg, zaptest.NewLogger(t), "test")
	require.NoError(t, err)
	_, err = s.validator.SetAccessRule(ctx, "admin-api", tenant.AccessRule{
		TenantID:       "tenant-acme",
		AllowedUserIDs: []string{"user-009"},
	})
	require.NoError(t, err)
	require.NoError(t, s.Shutdown(ctx))

	reopened := testConfig(t)
	reopened.DataDir = cfg.DataDir
	reopened.Tenant.RulesFile = cfg.Tenant.RulesFile
	s = newTestServer(t, reopened)
	rule, err := s.validator.GetAccessRule(ctx, "tenant-acme")
	require.NoError(t, err)
	assert.Equal(t, []string{"user-009"}, rule.AllowedUserIDs)
}

func TestNew_FailsClosedWithoutSecrets(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tenant.SessionSecret = ""
	_, err := New(context.Background(), cfg, zaptest.NewLogger(t), "test")
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.Signing.Key = "short"
	_, err = New(context.Background(), cfg, zaptest.NewLogger(t), "test")
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.Signing.Key = "${env:GRCGATE_TEST_UNSET_VARIABLE}"
	_, err = New(context.Background(), cfg, zaptest.NewLogger(t), "test")
	assert.Error(t, err)
}

func TestHandler_ExecutesToolEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	s := newTestServer(t, cfg)

	token, _, err := s.validator.Sessions().Issue("tenant-acme", "user-001", []string{"Analyst"})
	require.NoError(t, err)

	stamp := time.Now().UTC().Format(time.RFC3339)
	body := `{"tool_name":"mask_text","parameters":{"text":"reach me at jane.doe@example.com"},"request_timestamp":"` + stamp + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tools/execute", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp pipeline.ToolResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.NotContains(t, w.Body.String(), "jane.doe@example.com")

	// archer_list_applications has no connection for this tenant
	req = httptest.NewRequest(http.MethodPost, "/api/v1/tools/execute",
		strings.NewReader(`{"tool_name":"archer_list_applications","request_timestamp":"`+stamp+`"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())
}

func TestHandler_ReadinessNeedsArcherConnection(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "no Archer connections configured")
}

func TestServe_StopsOnCancel(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
	assert.True(t, s.IsRunning())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.False(t, s.IsRunning())
	assert.NoError(t, s.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestListen_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, err = listen(ln.Addr().String())
	var inUse *PortInUseError
	require.True(t, errors.As(err, &inUse), "got %v", err)
	assert.Equal(t, ln.Addr().String(), inUse.Address)
}

func TestCheckListenAddress(t *testing.T) {
	for _, addr := range []string{"", "8080", "127.0.0.1:70000", "127.0.0.1:http"} {
		assert.Error(t, checkListenAddress(addr), addr)
	}
	assert.NoError(t, checkListenAddress("127.0.0.1:8080"))
	assert.NoError(t, checkListenAddress(":0"))
}
