package patterns

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/grcgate/grcgate/internal/config"
)

// CustomPatternError rejects one tenant-supplied pattern definition
type CustomPatternError struct {
	PatternName string
	Message     string
}

func (e *CustomPatternError) Error() string {
	return fmt.Sprintf("custom pattern %q: %s", e.PatternName, e.Message)
}

var categoryAliases = map[string]Category{
	"email":       CategoryEmail,
	"phone":       CategoryPhone,
	"ssn":         CategorySSN,
	"credit_card": CategoryCreditCard,
	"ip":          CategoryIPAddress,
	"ip_address":  CategoryIPAddress,
	"guid":        CategoryGUID,
	"uuid":        CategoryGUID,
	"name":        CategoryName,
	"credential":  CategoryCredential,
	"secret":      CategoryCredential,
}

// LoadCustomPatterns compiles the privacy config's custom patterns. Invalid
// definitions are reported and skipped so one typo does not disable the
// rest. Custom patterns rank after every built-in pattern on overlap.
func LoadCustomPatterns(defs []config.CustomPattern) ([]*Pattern, []error) {
	var (
		out  []*Pattern
		errs []error
	)
	for _, def := range defs {
		p, err := compileCustom(def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, p)
	}
	return out, errs
}

func compileCustom(def config.CustomPattern) (*Pattern, error) {
	reject := func(msg string) error {
		name := def.Name
		if name == "" {
			name = "(empty)"
		}
		return &CustomPatternError{PatternName: name, Message: msg}
	}

	switch {
	case def.Name == "":
		return nil, reject("name is required")
	case def.Regex == "" && len(def.Keywords) == 0:
		return nil, reject("needs a regex or keywords")
	case def.Regex != "" && len(def.Keywords) > 0:
		return nil, reject("regex and keywords are mutually exclusive")
	}

	category, ok := categoryAliases[strings.ToLower(def.Category)]
	if !ok {
		category = CategoryCustom
	}
	b := NewPattern(def.Name).
		WithCategory(category).
		WithDescription("Custom pattern " + def.Name)

	if def.Regex == "" {
		return b.WithKeywords(def.Keywords...).Build(), nil
	}
	re, err := regexp.Compile(def.Regex)
	if err != nil {
		return nil, reject("invalid regex: " + err.Error())
	}
	return b.WithCompiledRegex(re).Build(), nil
}
