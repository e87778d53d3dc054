package privacy

import (
	"regexp"
	"strings"

	"github.com/grcgate/grcgate/internal/config"
)

const maskRune = '*'

var placeholderRe = regexp.MustCompile(`^\[MASKED_[A-Z_]+\]$`)

// Placeholder renders the strict masking form for a type hint
func Placeholder(typeHint string) string {
	return "[MASKED_" + typeHint + "]"
}

// IsPlaceholder reports whether s is a strict masking placeholder
func IsPlaceholder(s string) bool {
	return placeholderRe.MatchString(s)
}

// isProtected reports whether s is already the output of a protection pass
// that must not be processed again
func isProtected(s string) bool {
	return IsPlaceholder(s) || IsToken(s)
}

// maskPartial applies light or moderate masking. The result has the same
// rune length as s, so masking a masked value is a no-op.
func maskPartial(level, s string) string {
	runes := []rune(s)
	n := len(runes)
	if n == 0 {
		return s
	}

	var keepHead, keepTail int
	switch level {
	case config.MaskingLight:
		if n > 2 {
			keepHead, keepTail = 1, 1
		}
	default: // moderate
		keepHead = n / 4
		if keepHead < 1 {
			keepHead = 1
		}
		if keepHead > 4 {
			keepHead = 4
		}
		if n == 1 {
			keepHead = 0
		}
	}

	var b strings.Builder
	b.Grow(len(s))
	for i, r := range runes {
		if i < keepHead || i >= n-keepTail {
			b.WriteRune(r)
			continue
		}
		b.WriteRune(maskRune)
	}
	return b.String()
}
