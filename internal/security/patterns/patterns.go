// Package patterns provides the regex rules used to find personally
// identifying content and credentials inside free text.
package patterns

import (
	"regexp"
	"strings"
)

// Category of pattern. Categories double as the type hint used by strict
// masking placeholders.
type Category string

const (
	CategoryEmail      Category = "email"
	CategoryPhone      Category = "phone"
	CategorySSN        Category = "ssn"
	CategoryCreditCard Category = "credit_card"
	CategoryIPAddress  Category = "ip_address"
	CategoryGUID       Category = "guid"
	CategoryName       Category = "name"
	CategoryCredential Category = "credential"
	CategoryCustom     Category = "custom"
)

// Pattern is one detection rule. A rule matches either by regex or by a
// case-insensitive keyword list, which is compiled to a regex on Build.
type Pattern struct {
	Name        string
	Category    Category
	Description string
	// Priority breaks ties when two patterns match the same span; lower wins.
	Priority int

	regex     *regexp.Regexp
	keywords  []string
	validator func(match string) bool
	// normalize canonicalizes a match before the known-example lookup
	normalize func(match string) string
	examples  map[string]struct{}
}

// Span is the half-open byte range [Start, End) of one match
type Span struct {
	Start   int
	End     int
	Pattern *Pattern
}

func (s Span) Text(content string) string {
	return content[s.Start:s.End]
}

// Match returns the text of every validated match
func (p *Pattern) Match(content string) []string {
	var out []string
	for _, s := range p.FindAll(content) {
		out = append(out, s.Text(content))
	}
	return out
}

// FindAll returns every validated match in content, left to right. When the
// regex has a capture group, group 1 is the match (e.g. the token after
// "Bearer ").
func (p *Pattern) FindAll(content string) []Span {
	if p.regex == nil {
		return nil
	}
	var spans []Span
	for _, loc := range p.regex.FindAllStringSubmatchIndex(content, -1) {
		start, end := loc[0], loc[1]
		if len(loc) >= 4 && loc[2] >= 0 {
			start, end = loc[2], loc[3]
		}
		if !p.IsValid(content[start:end]) {
			continue
		}
		spans = append(spans, Span{Start: start, End: end, Pattern: p})
	}
	return spans
}

func (p *Pattern) IsValid(match string) bool {
	return p.validator == nil || p.validator(match)
}

// IsKnownExample reports whether match is a published test value, such as a
// processor's sandbox card number
func (p *Pattern) IsKnownExample(match string) bool {
	if len(p.examples) == 0 {
		return false
	}
	if p.normalize != nil {
		match = p.normalize(match)
	}
	_, ok := p.examples[match]
	return ok
}

// PatternBuilder assembles a Pattern
type PatternBuilder struct {
	p *Pattern
}

// NewPattern starts a custom-category pattern with the lowest priority
func NewPattern(name string) *PatternBuilder {
	return &PatternBuilder{p: &Pattern{
		Name:     name,
		Category: CategoryCustom,
		Priority: 100,
		examples: make(map[string]struct{}),
	}}
}

func (b *PatternBuilder) WithRegex(expr string) *PatternBuilder {
	b.p.regex = regexp.MustCompile(expr)
	return b
}

func (b *PatternBuilder) WithCompiledRegex(re *regexp.Regexp) *PatternBuilder {
	b.p.regex = re
	return b
}

func (b *PatternBuilder) WithKeywords(keywords ...string) *PatternBuilder {
	b.p.keywords = keywords
	return b
}

func (b *PatternBuilder) WithCategory(c Category) *PatternBuilder {
	b.p.Category = c
	return b
}

func (b *PatternBuilder) WithPriority(priority int) *PatternBuilder {
	b.p.Priority = priority
	return b
}

func (b *PatternBuilder) WithDescription(d string) *PatternBuilder {
	b.p.Description = d
	return b
}

func (b *PatternBuilder) WithValidator(fn func(string) bool) *PatternBuilder {
	b.p.validator = fn
	return b
}

func (b *PatternBuilder) WithKnownExamples(examples ...string) *PatternBuilder {
	for _, ex := range examples {
		b.p.examples[ex] = struct{}{}
	}
	return b
}

func (b *PatternBuilder) WithNormalizer(fn func(string) string) *PatternBuilder {
	b.p.normalize = fn
	return b
}

// Build compiles keywords, if any, into a case-insensitive alternation
func (b *PatternBuilder) Build() *Pattern {
	if b.p.regex == nil && len(b.p.keywords) > 0 {
		quoted := make([]string, 0, len(b.p.keywords))
		for _, kw := range b.p.keywords {
			if kw != "" {
				quoted = append(quoted, regexp.QuoteMeta(kw))
			}
		}
		if len(quoted) > 0 {
			b.p.regex = regexp.MustCompile(`(?i)(?:` + strings.Join(quoted, "|") + `)`)
		}
	}
	return b.p
}
