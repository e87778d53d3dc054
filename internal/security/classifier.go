package security

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"

	"github.com/grcgate/grcgate/internal/config"
	"github.com/grcgate/grcgate/internal/security/patterns"
)

// DefaultSensitiveSubstrings flag a field when its normalized name contains any of them
var DefaultSensitiveSubstrings = []string{
	"password", "passwd", "secret", "token", "email", "name", "phone", "mobile",
	"account", "ssn", "social_security", "address", "license", "passport",
	"dob", "birth", "credit_card", "card_number", "iban", "tax_id",
}

// DefaultWhitelist lists analytic fields that stay readable even though their
// names may contain a sensitive substring
var DefaultWhitelist = []string{
	"risk_score", "inherent_risk", "residual_risk", "severity", "status", "priority",
	"likelihood", "impact", "financial_impact", "risk_rating", "control_status",
	"category", "type", "id", "tracking_id", "created_date", "updated_date",
	"application_name",
}

// protectedRegion matches output of a previous protection pass. Pattern
// matches that touch these regions are ignored so protection is idempotent.
var protectedRegion = regexp.MustCompile(`\[MASKED_[A-Z_]+\]|tok_[0-9a-f]{16}|\*+`)

// fieldTypeHints map a field-name substring to a strict placeholder type.
// Order matters: the first hit wins.
var fieldTypeHints = []struct {
	substr string
	hint   string
}{
	{"social_security", TypeSSN},
	{"ssn", TypeSSN},
	{"email", TypeEmail},
	{"phone", TypePhone},
	{"mobile", TypePhone},
	{"credit_card", TypeCreditCard},
	{"card_number", TypeCreditCard},
	{"password", TypeCredential},
	{"passwd", TypeCredential},
	{"secret", TypeCredential},
	{"token", TypeCredential},
	{"address", TypeAddress},
	{"birth", TypeDateOfBirth},
	{"dob", TypeDateOfBirth},
	{"iban", TypeAccount},
	{"account", TypeAccount},
	{"passport", TypeIDNumber},
	{"license", TypeIDNumber},
	{"tax_id", TypeIDNumber},
	{"name", TypeName},
}

var nameShaped = regexp.MustCompile(`^[A-Z][a-z]+(?:,? [A-Z][a-z.]*)+$`)

// Classifier decides whether field names and string values are sensitive.
// It is safe for concurrent use; Reload swaps the rule set atomically.
type Classifier struct {
	mu          sync.RWMutex
	sensitive   []string
	whitelist   map[string]struct{}
	patterns    []*patterns.Pattern
	scanContent bool
	logger      *zap.Logger
}

// NewClassifier creates a classifier from the privacy configuration.
// Invalid custom patterns are logged and skipped.
func NewClassifier(cfg *config.PrivacyConfig, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Classifier{logger: logger}
	c.Reload(cfg)
	return c
}

// Reload replaces the rule set. It returns the custom pattern errors, which
// are also logged.
func (c *Classifier) Reload(cfg *config.PrivacyConfig) []error {
	if cfg == nil {
		cfg = config.DefaultPrivacyConfig()
	}

	sensitive := append([]string(nil), DefaultSensitiveSubstrings...)
	for _, s := range cfg.CustomSensitiveFields {
		if n := NormalizeFieldName(s); n != "" {
			sensitive = append(sensitive, n)
		}
	}

	whitelist := make(map[string]struct{}, len(DefaultWhitelist)+len(cfg.WhitelistFields))
	for _, w := range DefaultWhitelist {
		whitelist[w] = struct{}{}
	}
	for _, w := range cfg.WhitelistFields {
		whitelist[NormalizeFieldName(w)] = struct{}{}
	}

	all := patterns.GetAllPatterns()
	custom, errs := patterns.LoadCustomPatterns(cfg.CustomPatterns)
	for _, err := range errs {
		c.logger.Warn("Skipping invalid custom pattern", zap.Error(err))
	}
	all = append(all, custom...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Priority < all[j].Priority })

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sensitive = sensitive
	c.whitelist = whitelist
	c.patterns = all
	c.scanContent = !cfg.DisableContentScan
	return errs
}

// NormalizeFieldName lower-cases a field or display name and joins words with
// underscores, so "Email Address" and "email-address" compare equal.
func NormalizeFieldName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' || r == '.' {
			return '_'
		}
		return r
	}, name)
}

// IsWhitelisted reports whether the field is exempt from field-level masking
func (c *Classifier) IsWhitelisted(fieldName string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.whitelist[NormalizeFieldName(fieldName)]
	return ok
}

// IsSensitiveField reports whether values under fieldName must be protected
// as a whole
func (c *Classifier) IsSensitiveField(fieldName string) bool {
	n := NormalizeFieldName(fieldName)
	if n == "" {
		return false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.whitelist[n]; ok {
		return false
	}
	for _, s := range c.sensitive {
		if strings.Contains(n, s) {
			return true
		}
	}
	return false
}

// ScanEnabled reports whether content scanning of non-sensitive fields is on
func (c *Classifier) ScanEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scanContent
}

// Scan finds sensitive spans in content. Overlapping matches are merged into
// one detection typed after the longest match; matches touching output of a
// previous protection pass are ignored.
func (c *Classifier) Scan(content string) *Result {
	result := NewResult()
	if content == "" {
		return result
	}

	c.mu.RLock()
	pats := c.patterns
	c.mu.RUnlock()

	protected := protectedRegion.FindAllStringIndex(content, -1)

	var spans []patterns.Span
	for _, p := range pats {
		for _, s := range p.FindAll(content) {
			if s.End <= s.Start || intersects(s, protected) {
				continue
			}
			spans = append(spans, s)
		}
	}
	if len(spans) == 0 {
		return result
	}

	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End > spans[j].End
	})

	cur := spans[0]
	best := spans[0]
	flush := func() {
		result.AddDetection(Detection{
			Start:           cur.Start,
			End:             cur.End,
			Type:            best.Pattern.Name,
			Category:        best.Pattern.Category,
			IsLikelyExample: best.Pattern.IsKnownExample(content[best.Start:best.End]),
		})
	}
	for _, s := range spans[1:] {
		if s.Start < cur.End {
			if s.End > cur.End {
				cur.End = s.End
			}
			if longer(s, best) {
				best = s
			}
			continue
		}
		flush()
		cur, best = s, s
	}
	flush()

	return result
}

// ContainsSensitive reports whether content has at least one sensitive span
func (c *Classifier) ContainsSensitive(content string) bool {
	return c.Scan(content).Detected
}

// FieldTypeHint derives the strict placeholder type from a field name, or ""
func FieldTypeHint(fieldName string) string {
	n := NormalizeFieldName(fieldName)
	if n == "" {
		return ""
	}
	for _, h := range fieldTypeHints {
		if strings.Contains(n, h.substr) {
			return h.hint
		}
	}
	return ""
}

// ContentTypeHint is the last-resort type for a value: digits only is NUMBER,
// anything with "@" is EMAIL, name-shaped text is NAME, the rest TEXT.
func ContentTypeHint(value string) string {
	v := strings.TrimSpace(value)
	if v != "" && strings.IndexFunc(v, func(r rune) bool { return !unicode.IsDigit(r) }) < 0 {
		return TypeNumber
	}
	if strings.Contains(v, "@") {
		return TypeEmail
	}
	if nameShaped.MatchString(v) {
		return TypeName
	}
	return TypeText
}

// TypeHint applies the strict placeholder precedence: field name, then the
// longest pattern match in value, then content heuristics.
func (c *Classifier) TypeHint(fieldName, value string) string {
	if h := FieldTypeHint(fieldName); h != "" {
		return h
	}
	if r := c.Scan(value); r.Detected {
		best := r.Detections[0]
		for _, d := range r.Detections[1:] {
			if d.End-d.Start > best.End-best.Start {
				best = d
			}
		}
		return best.TypeHint()
	}
	return ContentTypeHint(value)
}

func intersects(s patterns.Span, regions [][]int) bool {
	for _, r := range regions {
		if s.Start < r[1] && r[0] < s.End {
			return true
		}
	}
	return false
}

func longer(a, b patterns.Span) bool {
	la, lb := a.End-a.Start, b.End-b.Start
	if la != lb {
		return la > lb
	}
	return a.Pattern.Priority < b.Pattern.Priority
}
