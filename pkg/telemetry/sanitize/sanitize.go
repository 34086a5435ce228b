// Package sanitize strips sensitive data from telemetry payloads before they
// are queued.
//
// There is one profile per pipeline. Their deny-lists differ and are kept as
// shipped: Analytics targets contact and identity data, ErrorContext targets
// credentials and additionally bounds string length.
package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"

	platformstrings "neurotravel/pkg/platform/strings"
	"neurotravel/pkg/telemetry"
)

const (
	// RedactedMarker replaces string values that look like personal data.
	RedactedMarker = "[REDACTED]"
	// TruncatedMarker is appended to error-context strings cut at MaxContextLength.
	TruncatedMarker = "...[truncated]"
	// MaxContextLength is the longest error-context string kept verbatim, in runes.
	MaxContextLength = 1000
)

var (
	analyticsDenyList    = []string{"password", "email", "phone", "address", "ssn", "credit_card"}
	errorContextDenyList = []string{"password", "token", "key", "secret", "auth", "session"}
)

// detectors flag values that carry personal data even under an innocent key.
var detectors = []*regexp.Regexp{
	regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), // email
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),                              // SSN
	regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`),         // card number
}

// Profile is one sanitization policy. The zero value drops nothing and only
// runs the value detectors.
type Profile struct {
	name     string
	denyList []string
	// maxLength truncates strings longer than this many runes; 0 disables.
	maxLength int
}

var (
	// Analytics is applied to event properties.
	Analytics = Profile{name: "analytics", denyList: analyticsDenyList}
	// ErrorContext is applied to error-report contexts.
	ErrorContext = Profile{name: "error_context", denyList: errorContextDenyList, maxLength: MaxContextLength}
)

// Name identifies the profile in logs.
func (p Profile) Name() string { return p.name }

// Sanitize returns a new map with sensitive keys dropped and sensitive string
// values redacted. The input is not modified. Values that are not strings pass
// through unchanged.
func (p Profile) Sanitize(properties map[string]any) map[string]any {
	sanitized := make(map[string]any, len(properties))
	for key, value := range properties {
		if p.IsSensitiveKey(key) {
			continue
		}
		s, ok := value.(string)
		if !ok {
			sanitized[key] = value
			continue
		}
		if ContainsSensitiveData(s) {
			sanitized[key] = RedactedMarker
			continue
		}
		sanitized[key] = p.truncate(s)
	}
	return sanitized
}

// IsSensitiveKey reports whether key contains any deny-list entry,
// case-insensitively.
func (p Profile) IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, sensitive := range p.denyList {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}

func (p Profile) truncate(s string) string {
	if p.maxLength <= 0 || utf8.RuneCountInString(s) <= p.maxLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:p.maxLength]) + TruncatedMarker
}

// ContainsSensitiveData reports whether s matches any personal-data detector.
func ContainsSensitiveData(s string) bool {
	for _, pattern := range detectors {
		if pattern.MatchString(s) {
			return true
		}
	}
	return false
}

// UserProperties keeps only the fields analytics is allowed to see about a
// user, as a property map for the user_identified event.
func UserProperties(props telemetry.UserProperties) map[string]any {
	out := make(map[string]any, 4)
	if props.UserType != "" {
		out["userType"] = props.UserType
	}
	if needs := platformstrings.DedupeAndTrimLower(props.AccessibilityNeeds); len(needs) > 0 {
		out["accessibilityNeeds"] = needs
	}
	if props.CommunicationPreference != "" {
		out["communicationPreference"] = props.CommunicationPreference
	}
	if props.RegistrationDate != "" {
		out["registrationDate"] = props.RegistrationDate
	}
	return out
}
