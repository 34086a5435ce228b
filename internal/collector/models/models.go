// Package models holds the collector's view of ingested telemetry.
package models

import (
	"time"

	"neurotravel/pkg/telemetry"
)

// Envelope is the JSON body of an ingest request. Exactly one field is
// populated, matching the route it was posted to.
type Envelope struct {
	Events  []telemetry.Event             `json:"events,omitempty"`
	Errors  []telemetry.ErrorReport       `json:"errors,omitempty"`
	Metrics []telemetry.PerformanceMetric `json:"metrics,omitempty"`
}

// Len returns the number of records for stream.
func (e *Envelope) Len(stream telemetry.Stream) int {
	if e == nil {
		return 0
	}
	switch stream {
	case telemetry.StreamAnalytics:
		return len(e.Events)
	case telemetry.StreamErrors:
		return len(e.Errors)
	case telemetry.StreamPerformance:
		return len(e.Metrics)
	}
	return 0
}

// Client is the parsed form of a user agent string.
type Client struct {
	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browserVersion,omitempty"`
	OS             string `json:"os,omitempty"`
	Mobile         bool   `json:"mobile"`
	Bot            bool   `json:"bot"`
}

// ErrorRecord is an error report as stored by the collector.
type ErrorRecord struct {
	telemetry.ErrorReport
	Client   Client `json:"client"`
	ClientIP string `json:"clientIp,omitempty"`
}

// Batch is one accepted ingest request, ready for the sinks. Only the slice
// matching Stream is populated.
type Batch struct {
	Stream     telemetry.Stream
	SessionID  string
	ReceivedAt time.Time
	Events     []telemetry.Event
	Errors     []ErrorRecord
	Metrics    []telemetry.PerformanceMetric
}

// Len returns the number of records in the batch.
func (b *Batch) Len() int {
	switch b.Stream {
	case telemetry.StreamAnalytics:
		return len(b.Events)
	case telemetry.StreamErrors:
		return len(b.Errors)
	case telemetry.StreamPerformance:
		return len(b.Metrics)
	}
	return 0
}

