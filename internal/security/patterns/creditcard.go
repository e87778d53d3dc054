package patterns

import (
	"strings"
	"unicode"
)

// issuerRange is an inclusive IIN prefix range of one card network
type issuerRange struct {
	lo, hi string
}

// Visa, Mastercard (incl. 2-series), Amex, Discover, JCB and Diners
var issuerRanges = []issuerRange{
	{"4", "4"},
	{"51", "55"}, {"2221", "2720"},
	{"34", "34"}, {"37", "37"},
	{"6011", "6011"}, {"644", "649"}, {"65", "65"},
	{"35", "35"},
	{"30", "30"}, {"36", "36"}, {"38", "39"},
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

// creditCardPattern finds card numbers printed as 4-4-4-4, Amex 4-6-5 or an
// unbroken 13-19 digit run; fixed groupings keep a card from swallowing
// neighbouring numbers. Test cards published by networks and processors are
// flagged as known examples.
func creditCardPattern() *Pattern {
	return NewPattern("credit_card").
		WithRegex(`\b(?:\d{4}[ \-]){3}\d{4}\b|\b\d{4}[ \-]\d{6}[ \-]\d{5}\b|\b\d{13,19}\b`).
		WithCategory(CategoryCreditCard).
		WithPriority(40).
		WithDescription("Payment card number").
		WithValidator(isCardNumber).
		WithNormalizer(digitsOnly).
		WithKnownExamples(
			"4111111111111111", "4242424242424242", "5555555555554444",
			"378282246310005", "6011111111111117", "3566002020360505",
		).
		Build()
}

func isCardNumber(candidate string) bool {
	digits := digitsOnly(candidate)
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	return knownIssuer(digits) && LuhnValid(digits)
}

func knownIssuer(digits string) bool {
	for _, r := range issuerRanges {
		if len(digits) < len(r.lo) {
			continue
		}
		prefix := digits[:len(r.lo)]
		if prefix >= r.lo && prefix <= r.hi {
			return true
		}
	}
	return false
}

// LuhnValid reports whether an all-digit string passes the mod 10 check
func LuhnValid(digits string) bool {
	sum := 0
	for i := 0; i < len(digits); i++ {
		n := int(digits[len(digits)-1-i] - '0')
		if i%2 == 1 {
			if n *= 2; n > 9 {
				n -= 9
			}
		}
		sum += n
	}
	return sum%10 == 0
}
