package privacy

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/grcgate/grcgate/internal/config"
	"github.com/grcgate/grcgate/internal/record"
)

func newTestProtector(t *testing.T, level string, tokenize bool, opts ...Option) *Protector {
	t.Helper()
	cfg := config.DefaultPrivacyConfig()
	cfg.MaskingLevel = level
	cfg.EnableTokenization = tokenize
	p, err := NewProtector(cfg, NewMemoryTokenStore(), zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestProtectString_ModerateContactLine(t *testing.T) {
	ctx := context.Background()
	p := newTestProtector(t, config.MaskingModerate, false)

	in := "Contact: jane.doe@example.com, (555) 123-4567"
	out := p.ProtectString(ctx, in)

	assert.Equal(t, "Contact: jane****************, (55***********", out)
	assert.Equal(t, out, p.ProtectString(ctx, out), "re-masking must not change the output")
}

func TestMaskPartial(t *testing.T) {
	tests := []struct {
		level string
		in    string
		want  string
	}{
		{config.MaskingLight, "secret", "s****t"},
		{config.MaskingLight, "ab", "**"},
		{config.MaskingLight, "é漢字", "é*字"},
		{config.MaskingModerate, "a", "*"},
		{config.MaskingModerate, "abcd", "a***"},
		{config.MaskingModerate, "abcdefghij", "ab********"},
		{config.MaskingModerate, "abcdefghijklmnopqrstuvwxyz", "abcd" + strings.Repeat("*", 22)},
	}
	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.in, func(t *testing.T) {
			got := maskPartial(tt.level, tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, maskPartial(tt.level, got))
		})
	}
}

func TestProtect_RecordShapeAndFields(t *testing.T) {
	ctx := context.Background()
	p := newTestProtector(t, config.MaskingStrict, false)

	in := record.Object(record.Fields{
		"Owner Name":   record.String("Jane Doe"),
		"Owner Email":  record.String("jane@example.com"),
		"Risk Score":   record.Number(87),
		"Status":       record.String("Open"),
		"Phone Number": record.Number(5551234567),
		"Description":  record.String("Escalated by Smith, John via 10.1.2.3"),
		"Is Active":    record.Bool(true),
		"Account":      record.Null(),
		"Contacts": record.Array(
			record.Object(record.Fields{"email": record.String("a@b.io")}),
		),
	})

	out := p.Protect(ctx, in, "")

	get := func(v record.Value, k string) record.Value {
		f, ok := v.Get(k)
		require.True(t, ok, k)
		return f
	}
	assert.Equal(t, "[MASKED_NAME]", get(out, "Owner Name").Str())
	assert.Equal(t, "[MASKED_EMAIL]", get(out, "Owner Email").Str())
	assert.Equal(t, float64(87), get(out, "Risk Score").Num())
	assert.Equal(t, "Open", get(out, "Status").Str())
	assert.Equal(t, "[MASKED_PHONE]", get(out, "Phone Number").Str())
	assert.Equal(t, "Escalated by [MASKED_NAME] via [MASKED_IP_ADDRESS]", get(out, "Description").Str())
	assert.True(t, get(out, "Is Active").Bool())
	assert.True(t, get(out, "Account").IsNull())

	contacts := get(out, "Contacts").Items()
	require.Len(t, contacts, 1)
	assert.Equal(t, "[MASKED_EMAIL]", get(contacts[0], "email").Str())

	assert.True(t, out.Equal(p.Protect(ctx, out, "")))
	// input untouched
	assert.Equal(t, "Jane Doe", get(in, "Owner Name").Str())
}

func TestProtect_StrictTypeHintFallbacks(t *testing.T) {
	ctx := context.Background()
	p := newTestProtector(t, config.MaskingStrict, false)

	out := p.Protect(ctx, record.String("123-45-6789"), "vendor_account_ref")
	assert.Equal(t, "[MASKED_ACCOUNT]", out.Str(), "field name still wins when it carries a hint")

	require.NoError(t, p.UpdateConfig(&config.PrivacyConfig{
		MaskingLevel:          config.MaskingStrict,
		CustomSensitiveFields: []string{"vendor_ref"},
	}))
	// no hint in the field name, so the pattern decides
	assert.Equal(t, "[MASKED_SSN]", p.Protect(ctx, record.String("123-45-6789"), "vendor_ref").Str())
	assert.Equal(t, "[MASKED_NUMBER]", p.Protect(ctx, record.Number(42), "vendor_ref").Str())
	assert.Equal(t, "[MASKED_TEXT]", p.Protect(ctx, record.String("blue"), "vendor_ref").Str())
}

func TestProtect_NumericCardNumberInPlainField(t *testing.T) {
	ctx := context.Background()
	in := record.FromAny(map[string]any{
		"Reference":      float64(4539578763621486),
		"Reference Text": "4539578763621486",
		"Legacy Ref":     float64(378282246310005),
		"Risk Score":     float64(87),
		"Record Count":   float64(1234567890123),
	})

	tests := []struct {
		level string
		card  string
		amex  string
	}{
		{config.MaskingLight, "4**************6", "3*************5"},
		{config.MaskingModerate, "4539************", "378************"},
		{config.MaskingStrict, "[MASKED_CREDIT_CARD]", "[MASKED_CREDIT_CARD]"},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			out := newTestProtector(t, tt.level, false).Protect(ctx, in, "")

			ref, _ := out.Get("Reference")
			require.Equal(t, record.KindString, ref.Kind())
			assert.Equal(t, tt.card, ref.Str())
			text, _ := out.Get("Reference Text")
			assert.Equal(t, ref.Str(), text.Str(), "numbers and strings are protected alike")
			legacy, _ := out.Get("Legacy Ref")
			assert.Equal(t, tt.amex, legacy.Str())

			// numbers without a detection keep their type
			score, _ := out.Get("Risk Score")
			assert.Equal(t, float64(87), score.Num())
			count, _ := out.Get("Record Count")
			assert.Equal(t, record.KindNumber, count.Kind())

			assert.True(t, out.Equal(newTestProtector(t, tt.level, false).Protect(ctx, out, "")))
		})
	}
}

func TestUpdateConfig(t *testing.T) {
	ctx := context.Background()
	p := newTestProtector(t, config.MaskingModerate, false)

	assert.Equal(t, "Code", p.Protect(ctx, record.String("Code"), "project_code").Str())

	require.NoError(t, p.UpdateConfig(&config.PrivacyConfig{
		MaskingLevel:          config.MaskingLight,
		CustomSensitiveFields: []string{"project_code"},
	}))
	assert.Equal(t, "C**e", p.Protect(ctx, record.String("Code"), "project_code").Str())
	assert.Equal(t, config.MaskingLight, p.Config().MaskingLevel)

	assert.Error(t, p.UpdateConfig(&config.PrivacyConfig{MaskingLevel: "bogus"}))
	assert.Equal(t, config.MaskingLight, p.Config().MaskingLevel, "invalid update leaves config in place")
	assert.Error(t, p.UpdateConfig(nil))
}

func TestTokenization(t *testing.T) {
	ctx := context.Background()
	p := newTestProtector(t, config.MaskingModerate, true)

	out := p.Protect(ctx, record.Object(record.Fields{
		"email": record.String("jane@example.com"),
		"notes": record.String("call 555-123-4567 today"),
	}), "")

	email, _ := out.Get("email")
	require.True(t, IsToken(email.Str()), email.Str())
	assert.Equal(t, TokenFor("jane@example.com"), email.Str())

	original, err := p.Detokenize(ctx, email.Str())
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", original)

	notes, _ := out.Get("notes")
	assert.NotContains(t, notes.Str(), "555-123-4567")
	assert.Equal(t, "call 555-123-4567 today", p.DetokenizeString(ctx, notes.Str()))

	assert.True(t, out.Equal(p.Protect(ctx, out, "")), "tokens are not re-tokenized")
}

func TestDetokenize_EvictedByAge(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p := newTestProtector(t, config.MaskingModerate, true, WithClock(func() time.Time { return now }))

	token, err := p.Tokenize(ctx, "123-45-6789", "ssn")
	require.NoError(t, err)

	now = now.Add(23 * time.Hour)
	_, err = p.Detokenize(ctx, token)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = p.Detokenize(ctx, token)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	_, err = p.Detokenize(ctx, "not-a-token")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestPurgeExpiredTokens(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryTokenStore()
	p, err := NewProtector(nil, store, zap.NewNop(), WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Tokenize(ctx, "old", "f")
	require.NoError(t, err)
	now = now.Add(25 * time.Hour)
	_, err = p.Tokenize(ctx, "new", "f")
	require.NoError(t, err)

	n, err := p.PurgeExpiredTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	size, _ := store.Len(ctx)
	assert.Equal(t, 1, size)
}

type failingStore struct{ MemoryTokenStore }

func (*failingStore) Put(context.Context, TokenEntry) error { return errors.New("disk full") }

func TestTokenizationFailureFallsBackToPlaceholder(t *testing.T) {
	cfg := config.DefaultPrivacyConfig()
	cfg.EnableTokenization = true
	p, err := NewProtector(cfg, &failingStore{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer p.Close()

	out := p.Protect(context.Background(), record.String("jane@example.com"), "email")
	assert.Equal(t, "[MASKED_EMAIL]", out.Str())
}

func TestProtectAuthData(t *testing.T) {
	p := newTestProtector(t, config.MaskingModerate, false)

	out := p.ProtectAuthData(context.Background(), record.Object(record.Fields{
		"username":      record.String("svc-archer"),
		"password":      record.String("hunter2"),
		"Session Token": record.String("abc.def.ghi"),
		"client_secret": record.String("xyz"),
		"instance":      record.String("GRC-PROD"),
	}))

	for _, k := range []string{"password", "Session Token", "client_secret"} {
		v, _ := out.Get(k)
		assert.Equal(t, "", v.Str(), k)
	}
	instance, _ := out.Get("instance")
	assert.Equal(t, "GRC-PROD", instance.Str())
	username, _ := out.Get("username")
	assert.Equal(t, "sv********", username.Str())
}

func TestProtectErrorData(t *testing.T) {
	p := newTestProtector(t, config.MaskingStrict, false)

	in := record.FromAny(map[string]any{
		"message": "login failed for jane@example.com",
		"config": map[string]any{
			"url": "https://archer.example.com/api/core/content",
			"headers": map[string]any{
				"Authorization": `Archer session-id="ABC123"`,
				"Accept":        "application/json",
			},
		},
		"response": map[string]any{
			"status": 500,
			"data":   map[string]any{"UserName": "jdoe"},
			"body":   "raw body",
			"headers": map[string]any{
				"Set-Cookie": "sid=1",
			},
		},
	})

	out := p.ProtectErrorData(context.Background(), in).Any().(map[string]any)

	assert.Equal(t, "login failed for [MASKED_EMAIL]", out["message"])
	headers := out["config"].(map[string]any)["headers"].(map[string]any)
	assert.NotContains(t, headers, "Authorization")
	assert.Equal(t, "application/json", headers["Accept"])

	resp := out["response"].(map[string]any)
	assert.NotContains(t, resp, "data")
	assert.NotContains(t, resp, "body")
	assert.Equal(t, float64(500), resp["status"])
	assert.Empty(t, resp["headers"])
}

func TestProtectError(t *testing.T) {
	p := newTestProtector(t, config.MaskingStrict, false)
	msg := p.ProtectError(context.Background(), errors.New(`archer: 401 for session-id="S3CR3T" user jane@example.com`))
	assert.NotContains(t, msg, "S3CR3T")
	assert.NotContains(t, msg, "jane@example.com")
	assert.Equal(t, "", p.ProtectError(context.Background(), nil))
}
