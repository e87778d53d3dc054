package archer

import (
	"fmt"
	"html"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/grcgate/grcgate/internal/config"
	"github.com/grcgate/grcgate/internal/record"
)

const (
	dateLayout     = "Jan 2, 2006"
	dateTimeLayout = "Jan 2, 2006 3:04 PM"
)

var (
	freeTextHints = []string{"description", "comments", "comment", "notes", "details", "summary"}
	dateHints     = []string{"date", "time", "created", "updated", "modified", "due"}
	currencyHints = []string{"cost", "amount", "price", "budget", "loss", "impact", "value", "revenue"}

	dateTimeLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05",
		"1/2/2006 3:04:05 PM",
		"1/2/2006 3:04 PM",
	}
	dateOnlyLayouts = []string{"2006-01-02", "1/2/2006"}

	breakRe = regexp.MustCompile(`(?i)<br\s*/?>|</p>`)
	tagRe   = regexp.MustCompile(`<[^>]*>`)
)

// Transformer rewrites raw Archer records into display-name records and
// normalizes currency, date and rich-text values
type Transformer struct {
	printer *message.Printer
	code    string
	symbol  string
	scale   int
}

// NewTransformer builds a transformer for the configured locale and currency
func NewTransformer(cfg *config.TransformConfig) (*Transformer, error) {
	locale, code := "en-US", "USD"
	if cfg != nil {
		if cfg.Locale != "" {
			locale = cfg.Locale
		}
		if cfg.Currency != "" {
			code = cfg.Currency
		}
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("invalid locale %q: %w", locale, err)
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return nil, fmt.Errorf("invalid currency %q: %w", code, err)
	}
	scale, _ := currency.Standard.Rounding(unit)

	t := &Transformer{
		printer: message.NewPrinter(tag),
		code:    unit.String(),
		scale:   scale,
	}
	// the CLDR symbol for the locale; currencies without one render as their code
	t.symbol = t.printer.Sprint(currency.Symbol(unit))
	if t.symbol == "" || t.symbol == t.code {
		t.symbol = t.code + " "
	}
	return t, nil
}

// DefaultTransformer formats for en-US and USD
func DefaultTransformer() *Transformer {
	t, err := NewTransformer(nil)
	if err != nil {
		panic(err)
	}
	return t
}

// Transform rewrites the keys of an object record through mapping and formats
// each value by its display name. Non-object values are returned unchanged.
func (t *Transformer) Transform(raw record.Value, mapping FieldMapping) record.Value {
	if raw.Kind() != record.KindObject {
		return raw
	}
	fields := raw.Fields()
	aliases := make([]string, 0, len(fields))
	for alias := range fields {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	out := make(record.Fields, len(fields))
	for _, alias := range aliases {
		name := mapping.DisplayName(alias)
		if _, taken := out[name]; taken {
			name = alias
		}
		out[name] = t.FormatValue(name, fields[alias])
	}
	return record.Object(out)
}

// FormatValue applies the formatting rule selected by the field name.
// Values that do not fit the rule are left alone.
func (t *Transformer) FormatValue(fieldName string, v record.Value) record.Value {
	name := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(fieldName), " ", "_"))
	switch {
	case containsAny(name, freeTextHints):
		if v.Kind() == record.KindString {
			return record.String(StripHTML(v.Str()))
		}
	case containsAny(name, dateHints) || strings.HasSuffix(name, "_at"):
		if s, ok := formatDate(v); ok {
			return record.String(s)
		}
	case containsAny(name, currencyHints):
		if amount, ok := numeric(v); ok {
			return record.String(t.FormatCurrency(amount))
		}
	}
	return v
}

// FormatCurrency renders amount with the currency symbol and locale grouping
func (t *Transformer) FormatCurrency(amount float64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = math.Abs(amount)
	}
	return sign + t.symbol + t.printer.Sprint(number.Decimal(amount, number.Scale(t.scale)))
}

// StripHTML converts rich text to plain text: line breaks become newlines,
// tags are dropped and entities decoded
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}
	s = breakRe.ReplaceAllString(s, "\n")
	s = tagRe.ReplaceAllString(s, "")
	return strings.TrimSpace(html.UnescapeString(s))
}

func formatDate(v record.Value) (string, bool) {
	switch v.Kind() {
	case record.KindTime:
		return renderTime(v.Time()), true
	case record.KindString:
		s := strings.TrimSpace(v.Str())
		for _, layout := range dateOnlyLayouts {
			if tm, err := time.Parse(layout, s); err == nil {
				return tm.Format(dateLayout), true
			}
		}
		for _, layout := range dateTimeLayouts {
			if tm, err := time.Parse(layout, s); err == nil {
				return renderTime(tm), true
			}
		}
	}
	return "", false
}

func renderTime(tm time.Time) string {
	if tm.Hour() == 0 && tm.Minute() == 0 && tm.Second() == 0 && tm.Nanosecond() == 0 {
		return tm.Format(dateLayout)
	}
	return tm.Format(dateTimeLayout)
}

func numeric(v record.Value) (float64, bool) {
	switch v.Kind() {
	case record.KindNumber:
		return v.Num(), true
	case record.KindString:
		s := strings.ReplaceAll(strings.TrimSpace(v.Str()), ",", "")
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	return 0, false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
