package secret

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/grcgate/grcgate/internal/config"
)

func TestParseRef(t *testing.T) {
	ref, err := ParseRef("${env:ARCHER_PASSWORD}")
	require.NoError(t, err)
	assert.Equal(t, Ref{Scheme: SchemeEnv, Name: "ARCHER_PASSWORD", Raw: "${env:ARCHER_PASSWORD}"}, ref)
	assert.Equal(t, "env:ARCHER_PASSWORD", ref.String())

	_, err = ParseRef("plain-value")
	assert.Error(t, err)
	_, err = ParseRef("prefix-${env:X}")
	assert.Error(t, err, "embedded references are expanded, not parsed")

	assert.True(t, HasRef("prefix-${keyring:archer}"))
	assert.False(t, HasRef("$env:archer"))
}

func TestExpand_Env(t *testing.T) {
	ctx := context.Background()
	t.Setenv("GRC_TEST_USER", "svc")
	t.Setenv("GRC_TEST_PASS", "s3cret")
	r := NewResolver()

	out, err := r.Expand(ctx, "${env:GRC_TEST_USER}:${env:GRC_TEST_PASS}")
	require.NoError(t, err)
	assert.Equal(t, "svc:s3cret", out)

	out, err = r.Expand(ctx, "literal")
	require.NoError(t, err)
	assert.Equal(t, "literal", out)

	_, err = r.Expand(ctx, "${env:GRC_TEST_MISSING}")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.Expand(ctx, "${vault:x}")
	assert.ErrorContains(t, err, "no source")
}

func TestKeyringSource(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()
	r := NewResolver()

	w, err := r.Writable(SchemeKeyring)
	require.NoError(t, err)
	require.NoError(t, w.Store(ctx, "archer-prod", "pa55"))

	got, err := r.Resolve(ctx, Ref{Scheme: SchemeKeyring, Name: "archer-prod"})
	require.NoError(t, err)
	assert.Equal(t, "pa55", got)

	require.NoError(t, w.Delete(ctx, "archer-prod"))
	_, err = r.Resolve(ctx, Ref{Scheme: SchemeKeyring, Name: "archer-prod"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, w.Delete(ctx, "archer-prod"), ErrNotFound)

	_, err = r.Writable(SchemeEnv)
	assert.ErrorContains(t, err, "read-only")
}

type staticSource map[string]string

func (s staticSource) Lookup(_ context.Context, name string) (string, error) {
	if v, ok := s[name]; ok {
		return v, nil
	}
	return "", ErrNotFound
}

func TestResolveConfig(t *testing.T) {
	keyring.MockInit()
	require.NoError(t, keyring.Set(KeyringService, "archer", "from-keyring"))
	t.Setenv("GRC_TEST_SIGNING", "sign-key")

	cfg := config.DefaultConfig()
	cfg.Signing.Key = "${env:GRC_TEST_SIGNING}"
	cfg.Tenant.SessionSecret = "inline"
	cfg.Connections = []*config.ArcherConnection{{Name: "prod", Username: "${vault:svc}", Password: "${keyring:archer}"}}

	r := NewResolver()
	r.Register("vault", staticSource{"svc": "svc-archer"})
	require.NoError(t, r.ResolveConfig(context.Background(), cfg))
	assert.Equal(t, "sign-key", cfg.Signing.Key)
	assert.Equal(t, "inline", cfg.Tenant.SessionSecret)
	assert.Equal(t, "svc-archer", cfg.Connections[0].Username)
	assert.Equal(t, "from-keyring", cfg.Connections[0].Password)

	cfg.APIKey = "${env:GRC_TEST_NOPE}"
	err := NewResolver().ResolveConfig(context.Background(), cfg)
	assert.ErrorContains(t, err, "api_key")
}
