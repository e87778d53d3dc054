package archer

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrLoginFailed is returned when Archer rejects the configured credentials
	ErrLoginFailed = errors.New("archer login failed")
	// ErrUnavailable marks timeouts, transport failures and 5xx responses.
	// Callers must not treat it as an empty result.
	ErrUnavailable = errors.New("archer unavailable")
	// ErrNotConfigured is returned when a tenant has no Archer connection
	ErrNotConfigured = errors.New("no archer connection configured for tenant")
)

// HTTPError is a non-2xx response from Archer
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("archer %s %s: status %d", e.Method, e.Path, e.StatusCode)
}

// Unwrap classifies 5xx responses as ErrUnavailable
func (e *HTTPError) Unwrap() error {
	if e.StatusCode >= 500 {
		return ErrUnavailable
	}
	return nil
}

// IsNotFound reports whether err is a 404 from Archer
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == 404
}

func isUnauthorized(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == 401
}

// ApplicationNotFoundError lists the application names that were available
// when a lookup failed or matched more than one application
type ApplicationNotFoundError struct {
	Name      string
	Available []string
	Ambiguous bool
}

func (e *ApplicationNotFoundError) Error() string {
	names := append([]string(nil), e.Available...)
	sort.Strings(names)
	if e.Ambiguous {
		return fmt.Sprintf("application %q is ambiguous, matches: %s", e.Name, strings.Join(names, ", "))
	}
	return fmt.Sprintf("application %q not found, available: %s", e.Name, strings.Join(names, ", "))
}
