// Package security classifies field names and string content as sensitive.
// It decides what must be protected; internal/privacy decides how.
package security

import "github.com/grcgate/grcgate/internal/security/patterns"

// Strict masking type hints used in [MASKED_<TYPE>] placeholders
const (
	TypeEmail       = "EMAIL"
	TypePhone       = "PHONE"
	TypeSSN         = "SSN"
	TypeCreditCard  = "CREDIT_CARD"
	TypeIPAddress   = "IP_ADDRESS"
	TypeGUID        = "GUID"
	TypeName        = "NAME"
	TypeCredential  = "CREDENTIAL"
	TypeAddress     = "ADDRESS"
	TypeDateOfBirth = "DATE_OF_BIRTH"
	TypeAccount     = "ACCOUNT"
	TypeIDNumber    = "ID_NUMBER"
	TypeNumber      = "NUMBER"
	TypeText        = "TEXT"
	TypeCustom      = "CUSTOM"
)

// Detection is one sensitive span found in a string. Start and End are byte
// offsets, End exclusive.
type Detection struct {
	Start    int               `json:"start"`
	End      int               `json:"end"`
	Type     string            `json:"type"`     // pattern name, e.g. "email"
	Category patterns.Category `json:"category"` // e.g. "credit_card"

	// IsLikelyExample indicates if the match is a known test/example value
	IsLikelyExample bool `json:"is_likely_example"`
}

// TypeHint returns the placeholder type for the detection
func (d Detection) TypeHint() string {
	return CategoryTypeHint(d.Category)
}

// Result is the outcome of scanning one string
type Result struct {
	// Detected is true if any sensitive data was found
	Detected bool `json:"detected"`

	// Detections are non-overlapping and sorted by Start
	Detections []Detection `json:"detections,omitempty"`
}

// NewResult creates a new empty Result
func NewResult() *Result {
	return &Result{
		Detected:   false,
		Detections: make([]Detection, 0),
	}
}

// AddDetection adds a detection to the result
func (r *Result) AddDetection(d Detection) {
	r.Detections = append(r.Detections, d)
	r.Detected = true
}

// DetectionTypes returns a unique list of detection types found
func (r *Result) DetectionTypes() []string {
	if !r.Detected || len(r.Detections) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var types []string
	for _, d := range r.Detections {
		if !seen[d.Type] {
			seen[d.Type] = true
			types = append(types, d.Type)
		}
	}
	return types
}

// CategoryTypeHint maps a pattern category to a placeholder type
func CategoryTypeHint(c patterns.Category) string {
	switch c {
	case patterns.CategoryEmail:
		return TypeEmail
	case patterns.CategoryPhone:
		return TypePhone
	case patterns.CategorySSN:
		return TypeSSN
	case patterns.CategoryCreditCard:
		return TypeCreditCard
	case patterns.CategoryIPAddress:
		return TypeIPAddress
	case patterns.CategoryGUID:
		return TypeGUID
	case patterns.CategoryName:
		return TypeName
	case patterns.CategoryCredential:
		return TypeCredential
	default:
		return TypeCustom
	}
}
