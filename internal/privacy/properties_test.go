package privacy

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/grcgate/grcgate/internal/config"
	"github.com/grcgate/grcgate/internal/record"
)

var piiSamples = []string{
	"jane.doe@example.com",
	"r.ortiz+audit@corp.example.org",
	"(555) 123-4567",
	"555.987.6543",
	"123-45-6789",
	"4111 1111 1111 1111",
	"5555-5555-5555-4444",
	"3F2504E0-4F89-11D3-9A0C-0305E82C3301",
	"10.20.30.40",
	"Smith, John",
	"Dr. Alice Walker",
	"John Q. Public",
}

var fillerWords = []string{"risk", "review", "control", "pending", "escalated", "by", "and", "see", "vendor", "q3"}

var freeTextFields = []string{"notes", "summary", "finding", "remarks", "comments"}

var sensitiveFields = []string{"owner_email", "contact_phone", "Owner Name", "ssn", "card_number"}

// Luhn-valid card numbers exactly representable as float64
var cardNumbers = []float64{4539578763621486, 378282246310005, 5555555555554444, 6011000990139424, 4222222222222}

var plainRefFields = []string{"Reference", "Legacy Ref", "Vendor Ref"}

var birthFields = []string{"date_of_birth", "Birth Date", "DOB"}

var levels = []string{config.MaskingLight, config.MaskingModerate, config.MaskingStrict}

func sentence(t *rapid.T, label string) (string, []string) {
	n := rapid.IntRange(1, 3).Draw(t, label+"_n")
	var parts, used []string
	for i := 0; i < n; i++ {
		parts = append(parts, rapid.SampledFrom(fillerWords).Draw(t, label+"_filler"))
		sample := rapid.SampledFrom(piiSamples).Draw(t, label+"_sample")
		parts = append(parts, sample)
		used = append(used, sample)
	}
	parts = append(parts, rapid.SampledFrom(fillerWords).Draw(t, label+"_tail"))
	return strings.Join(parts, " "), used
}

// piiRecord draws a GRC-shaped record mixing free text, sensitive fields,
// number-typed card numbers, time-typed birth dates and nested arrays,
// returning the raw samples it embeds
func piiRecord(t *rapid.T) (record.Value, []string) {
	fields := record.Fields{
		"Risk Score": record.Number(float64(rapid.IntRange(0, 100).Draw(t, "score"))),
		"Status":     record.String(rapid.SampledFrom([]string{"Open", "Closed"}).Draw(t, "status")),
	}
	var samples []string

	for i, n := 0, rapid.IntRange(1, 3).Draw(t, "free_fields"); i < n; i++ {
		text, used := sentence(t, "free")
		fields[rapid.SampledFrom(freeTextFields).Draw(t, "free_name")] = record.String(text)
		samples = append(samples, used...)
	}
	if rapid.Bool().Draw(t, "with_sensitive") {
		sample := rapid.SampledFrom(piiSamples).Draw(t, "sensitive_value")
		fields[rapid.SampledFrom(sensitiveFields).Draw(t, "sensitive_name")] = record.String(sample)
		samples = append(samples, sample)
	}
	if rapid.Bool().Draw(t, "with_numeric_card") {
		card := rapid.SampledFrom(cardNumbers).Draw(t, "card")
		fields[rapid.SampledFrom(plainRefFields).Draw(t, "card_field")] = record.Number(card)
		samples = append(samples, strconv.FormatFloat(card, 'f', -1, 64))
	}
	if rapid.Bool().Draw(t, "with_birth_date") {
		born := time.Date(rapid.IntRange(1940, 2005).Draw(t, "birth_year"), time.Month(rapid.IntRange(1, 12).Draw(t, "birth_month")),
			rapid.IntRange(1, 28).Draw(t, "birth_day"), 0, 0, 0, 0, time.UTC)
		fields[rapid.SampledFrom(birthFields).Draw(t, "birth_field")] = record.Time(born)
		samples = append(samples, born.Format("2006-01-02"))
	}
	if rapid.Bool().Draw(t, "with_nested") {
		text, used := sentence(t, "nested")
		fields["Contacts"] = record.Array(record.Object(record.Fields{"details": record.String(text)}))
		samples = append(samples, used...)
	}
	return record.Object(fields), samples
}

func rapidProtector(t *rapid.T, level string, tokenize bool) *Protector {
	cfg := config.DefaultPrivacyConfig()
	cfg.MaskingLevel = level
	cfg.EnableTokenization = tokenize
	p, err := NewProtector(cfg, NewMemoryTokenStore(), zap.NewNop())
	if err != nil {
		t.Fatalf("new protector: %v", err)
	}
	return p
}

func render(t *rapid.T, v record.Value) string {
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}

func TestProperty_NoRawPIIInOutput(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		level := rapid.SampledFrom(levels).Draw(t, "level")
		tokenize := rapid.Bool().Draw(t, "tokenize")
		p := rapidProtector(t, level, tokenize)
		defer p.Close()

		in, samples := piiRecord(t)
		out := render(t, p.Protect(context.Background(), in, ""))
		for _, sample := range samples {
			if strings.Contains(out, sample) {
				t.Fatalf("level %s tokenize=%v leaked %q in %s", level, tokenize, sample, out)
			}
		}
	})
}

func TestProperty_ProtectIsIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		level := rapid.SampledFrom(levels).Draw(t, "level")
		tokenize := rapid.Bool().Draw(t, "tokenize")
		p := rapidProtector(t, level, tokenize)
		defer p.Close()

		in, _ := piiRecord(t)
		ctx := context.Background()
		once := p.Protect(ctx, in, "")
		twice := p.Protect(ctx, once, "")
		if !once.Equal(twice) {
			t.Fatalf("not idempotent at %s:\n once: %s\ntwice: %s", level, render(t, once), render(t, twice))
		}
	})
}

func TestProperty_TokenRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		cfg := config.DefaultPrivacyConfig()
		cfg.EnableTokenization = true
		p, err := NewProtector(cfg, NewMemoryTokenStore(), zap.NewNop(), WithClock(func() time.Time { return now }))
		if err != nil {
			t.Fatalf("new protector: %v", err)
		}
		defer p.Close()

		ctx := context.Background()
		value := rapid.String().Draw(t, "value")
		token, err := p.Tokenize(ctx, value, rapid.SampledFrom(sensitiveFields).Draw(t, "field"))
		if err != nil {
			t.Fatalf("tokenize: %v", err)
		}
		if !IsToken(token) {
			t.Fatalf("bad token shape %q", token)
		}

		now = now.Add(time.Duration(rapid.Int64Range(0, int64(24*time.Hour)).Draw(t, "age")))
		got, err := p.Detokenize(ctx, token)
		if err != nil {
			t.Fatalf("detokenize: %v", err)
		}
		if got != value {
			t.Fatalf("round trip: got %q want %q", got, value)
		}
	})
}

func TestTokenFor_Deterministic(t *testing.T) {
	require.Equal(t, TokenFor("123-45-6789"), TokenFor("123-45-6789"))
	require.NotEqual(t, TokenFor("123-45-6789"), TokenFor("123-45-6780"))
}
