// Package telemetry holds the record types shared by the analytics and
// error/performance pipelines. Records are plain values: they are built,
// sanitized and stamped before they enter a queue and are not mutated after.
package telemetry

import "time"

// Stream identifies one delivery channel to the collector. Each stream has its
// own queue, flush policy and endpoint.
type Stream string

const (
	StreamAnalytics   Stream = "analytics"
	StreamErrors      Stream = "errors"
	StreamPerformance Stream = "performance"
)

// streamRoutes maps each stream to its collector path and JSON envelope key.
var streamRoutes = map[Stream]struct {
	path     string
	envelope string
}{
	StreamAnalytics:   {path: "/api/analytics", envelope: "events"},
	StreamErrors:      {path: "/api/errors", envelope: "errors"},
	StreamPerformance: {path: "/api/performance", envelope: "metrics"},
}

// Path returns the collector path that accepts this stream's batches.
func (s Stream) Path() string { return streamRoutes[s].path }

// EnvelopeKey returns the top-level JSON key wrapping a batch of this stream.
func (s Stream) EnvelopeKey() string { return streamRoutes[s].envelope }

// IsValid reports whether s is a known stream.
func (s Stream) IsValid() bool {
	_, ok := streamRoutes[s]
	return ok
}

// Streams lists every known stream in a stable order.
func Streams() []Stream {
	return []Stream{StreamAnalytics, StreamErrors, StreamPerformance}
}

// Severity is a coarse priority tag on error reports. It changes flush timing
// (critical flushes immediately), never delivery guarantees.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid reports whether s is one of the four known severities.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Event is one analytics record.
type Event struct {
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties"`
	Timestamp  int64          `json:"timestamp"` // ms since epoch
	UserID     string         `json:"userId,omitempty"`
	SessionID  string         `json:"sessionId"`
}

// ErrorReport is one captured application error.
type ErrorReport struct {
	ID        string         `json:"id"`
	Message   string         `json:"message"`
	Stack     string         `json:"stack,omitempty"`
	URL       string         `json:"url"`
	UserAgent string         `json:"userAgent"`
	Timestamp int64          `json:"timestamp"`
	UserID    string         `json:"userId,omitempty"`
	SessionID string         `json:"sessionId"`
	Severity  Severity       `json:"severity"`
	Context   map[string]any `json:"context"`
	// Resolved is always false on reports produced here. It stays on the wire
	// for collector compatibility; nothing in this module resolves reports.
	Resolved bool `json:"resolved"`
}

// PerformanceMetric is one timing or gauge sample.
type PerformanceMetric struct {
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	URL       string  `json:"url"`
	UserID    string  `json:"userId,omitempty"`
	SessionID string  `json:"sessionId"`
}

// UserProperties describes the bound user. Only the analytics-relevant subset
// ever leaves the process (see sanitize.UserProperties).
type UserProperties struct {
	UserType                string   `json:"userType,omitempty"` // free, premium, pro
	NeurodivergentType      string   `json:"neurodivergentType,omitempty"`
	AccessibilityNeeds      []string `json:"accessibilityNeeds,omitempty"`
	CommunicationPreference string   `json:"communicationPreference,omitempty"`
	RegistrationDate        string   `json:"registrationDate,omitempty"`
}

// Millis converts t to the millisecond epoch used on the wire.
func Millis(t time.Time) int64 { return t.UnixMilli() }

// Analytics event names emitted by this module.
const (
	EventUserIdentified           = "user_identified"
	EventPageView                 = "page_view"
	EventUserAction               = "user_action"
	EventFeatureUsed              = "feature_used"
	EventErrorOccurred            = "error_occurred"
	EventPerformanceMetric        = "performance_metric"
	EventAccessibilityFeatureUsed = "accessibility_feature_used"
	EventCrisisIntervention       = "crisis_intervention"
)

// Performance metric names recorded on load.
const (
	MetricPageLoadTime     = "page_load_time"
	MetricDOMInteractive   = "dom_interactive"
	MetricDOMContentLoaded = "dom_content_loaded"
)
