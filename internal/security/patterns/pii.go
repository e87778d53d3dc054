package patterns

import (
	"net"
	"strings"
)

// Built-in patterns are evaluated in priority order when spans overlap:
// email, guid, ssn, credit card, phone, ip address, names, credentials.

func emailPattern() *Pattern {
	return NewPattern("email").
		WithRegex(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`).
		WithCategory(CategoryEmail).
		WithPriority(10).
		WithDescription("Email address").
		WithNormalizer(strings.ToLower).
		WithKnownExamples("user@example.com", "test@example.com").
		Build()
}

func guidPattern() *Pattern {
	return NewPattern("guid").
		WithRegex(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`).
		WithCategory(CategoryGUID).
		WithPriority(20).
		WithDescription("GUID / UUID").
		WithNormalizer(strings.ToLower).
		Build()
}

func ssnPattern() *Pattern {
	return NewPattern("ssn").
		WithRegex(`\b\d{3}-\d{2}-\d{4}\b`).
		WithCategory(CategorySSN).
		WithPriority(30).
		WithDescription("US social security number").
		WithValidator(validateSSN).
		Build()
}

// validateSSN rejects area 000/666/9xx, group 00 and serial 0000
func validateSSN(s string) bool {
	if len(s) != 11 {
		return false
	}
	area, group, serial := s[0:3], s[4:6], s[7:11]
	if area == "000" || area == "666" || area[0] == '9' {
		return false
	}
	return group != "00" && serial != "0000"
}

func phonePattern() *Pattern {
	return NewPattern("phone").
		WithRegex(`(?:\+?1[ .\-]?)?(?:\(\d{3}\)|\b\d{3})[ .\-]?\d{3}[ .\-]\d{4}\b`).
		WithCategory(CategoryPhone).
		WithPriority(50).
		WithDescription("North American phone number").
		Build()
}

func ipv4Pattern() *Pattern {
	return NewPattern("ipv4").
		WithRegex(`\b(?:\d{1,3}\.){3}\d{1,3}\b`).
		WithCategory(CategoryIPAddress).
		WithPriority(60).
		WithDescription("IPv4 address").
		WithValidator(func(s string) bool { return net.ParseIP(s) != nil }).
		Build()
}

func nameLastFirstPattern() *Pattern {
	return NewPattern("name_last_first").
		WithRegex(`\b[A-Z][a-z]+, [A-Z][a-z]+\b`).
		WithCategory(CategoryName).
		WithPriority(70).
		WithDescription(`Person name written as "Last, First"`).
		Build()
}

func nameTitledPattern() *Pattern {
	return NewPattern("name_titled").
		WithRegex(`\b(?:Mr|Mrs|Ms|Dr|Prof)\.? [A-Z][a-z]+(?: [A-Z][a-z]+)?\b`).
		WithCategory(CategoryName).
		WithPriority(71).
		WithDescription("Person name with an honorific").
		Build()
}

func nameInitialPattern() *Pattern {
	return NewPattern("name_middle_initial").
		WithRegex(`\b[A-Z][a-z]+ [A-Z]\. [A-Z][a-z]+\b`).
		WithCategory(CategoryName).
		WithPriority(72).
		WithDescription(`Person name written as "First M. Last"`).
		Build()
}

// GetPIIPatterns returns the personal data patterns
func GetPIIPatterns() []*Pattern {
	return []*Pattern{
		emailPattern(),
		guidPattern(),
		ssnPattern(),
		creditCardPattern(),
		phonePattern(),
		ipv4Pattern(),
		nameLastFirstPattern(),
		nameTitledPattern(),
		nameInitialPattern(),
	}
}

// GetAllPatterns returns every built-in pattern sorted by priority
func GetAllPatterns() []*Pattern {
	all := GetPIIPatterns()
	all = append(all, GetCredentialPatterns()...)
	return all
}
