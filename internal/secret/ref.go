// Package secret expands ${scheme:name} references in credential-bearing
// configuration values. The env scheme reads process environment variables
// and the keyring scheme reads the OS keyring under the "grcgate" service.
package secret

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	SchemeEnv     = "env"
	SchemeKeyring = "keyring"
)

var refPattern = regexp.MustCompile(`\$\{([^:}]+):([^}]+)\}`)

// Ref is one ${scheme:name} occurrence inside a configuration value
type Ref struct {
	Scheme string
	Name   string
	Raw    string
}

func (r Ref) String() string {
	return r.Scheme + ":" + r.Name
}

// ParseRef parses a value that must be exactly one reference
func ParseRef(s string) (Ref, error) {
	m := refPattern.FindStringSubmatch(s)
	if m == nil || m[0] != strings.TrimSpace(s) {
		return Ref{}, fmt.Errorf("not a secret reference: %q", s)
	}
	return Ref{Scheme: strings.TrimSpace(m[1]), Name: strings.TrimSpace(m[2]), Raw: m[0]}, nil
}

// HasRef reports whether s contains at least one reference
func HasRef(s string) bool {
	return refPattern.MatchString(s)
}

func findRefs(s string) []Ref {
	matches := refPattern.FindAllStringSubmatch(s, -1)
	refs := make([]Ref, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, Ref{Scheme: strings.TrimSpace(m[1]), Name: strings.TrimSpace(m[2]), Raw: m[0]})
	}
	return refs
}
