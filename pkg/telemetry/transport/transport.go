// Package transport delivers drained batches to the collector.
package transport

import (
	"context"
	"fmt"

	"neurotravel/pkg/platform/sentinel"
	"neurotravel/pkg/telemetry"
)

// Mode selects the transport strategy once, at construction.
type Mode string

const (
	// ModeDevelopment logs batches and never touches the network.
	ModeDevelopment Mode = "development"
	// ModeProduction posts batches to the collector.
	ModeProduction Mode = "production"
)

// Batch is one drained set of records bound for a single stream endpoint.
type Batch struct {
	Stream    telemetry.Stream
	SessionID string
	Records   any // []telemetry.Event, []telemetry.ErrorReport or []telemetry.PerformanceMetric
	Size      int
}

// NewBatch wraps records for stream.
func NewBatch[T any](stream telemetry.Stream, sessionID string, records []T) Batch {
	return Batch{Stream: stream, SessionID: sessionID, Records: records, Size: len(records)}
}

// Transport sends one batch. A nil error means the collector accepted it.
// Implementations never retry; retry policy belongs to the flusher.
type Transport interface {
	Send(ctx context.Context, batch Batch) error
}

// New builds the transport for mode. collectorURL is required in production.
func New(mode Mode, collectorURL string, opts ...Option) (Transport, error) {
	cfg := newConfig(opts)
	switch mode {
	case ModeDevelopment, "":
		return NewLog(cfg.logger), nil
	case ModeProduction:
		if collectorURL == "" {
			return nil, fmt.Errorf("production transport needs a collector URL: %w", sentinel.ErrInvalidState)
		}
		return newHTTP(collectorURL, cfg), nil
	default:
		return nil, fmt.Errorf("unknown transport mode %q: %w", mode, sentinel.ErrInvalidState)
	}
}
