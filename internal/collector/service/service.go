// Package service turns decoded ingest requests into stored batches.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"neurotravel/internal/collector/models"
	"neurotravel/internal/platform/metrics"
	"neurotravel/pkg/platform/httputil"
	"neurotravel/pkg/platform/middleware/auth"
	"neurotravel/pkg/platform/middleware/metadata"
	"neurotravel/pkg/platform/middleware/requesttime"
	"neurotravel/pkg/telemetry"
)

// Rejection reasons recorded on the rejected-requests counter.
const (
	ReasonEmpty          = "empty"
	ReasonStreamMismatch = "stream_mismatch"
	ReasonSinkFailure    = "sink_failure"
)

// Sink persists or forwards accepted batches.
type Sink interface {
	Name() string
	Write(ctx context.Context, batch *models.Batch) error
}

// Pinger is implemented by sinks with a health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

var (
	ErrEmptyBatch     = httputil.New(httputil.CodeBadRequest, "batch contains no records")
	ErrUnknownStream  = httputil.New(httputil.CodeNotFound, "unknown stream")
	ErrStreamMismatch = httputil.New(httputil.CodeUnauthorized, "token is not valid for this stream")
)

// Service validates and stamps ingest batches and hands them to a Sink.
type Service struct {
	sink    Sink
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New constructs a Service writing to sink.
func New(sink Sink, opts ...Option) *Service {
	s := &Service{sink: sink, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest accepts one envelope for stream and returns how many records were
// stored. Request-scoped time, client metadata and token claims are read
// from ctx.
func (s *Service) Ingest(ctx context.Context, stream telemetry.Stream, env *models.Envelope) (int, error) {
	if !stream.IsValid() {
		return 0, ErrUnknownStream
	}
	n := env.Len(stream)
	if n == 0 {
		s.metrics.IncRejected(string(stream), ReasonEmpty)
		return 0, ErrEmptyBatch
	}
	if scoped := auth.GetStream(ctx); scoped != "" && scoped != string(stream) {
		s.metrics.IncRejected(string(stream), ReasonStreamMismatch)
		return 0, ErrStreamMismatch
	}

	batch := s.buildBatch(ctx, stream, env)

	start := time.Now()
	err := s.sink.Write(ctx, batch)
	s.metrics.ObserveIngest(string(stream), time.Since(start).Seconds())
	if err != nil {
		s.metrics.IncRejected(string(stream), ReasonSinkFailure)
		s.logger.ErrorContext(ctx, "failed to store telemetry batch",
			"stream", stream,
			"records", n,
			"sink", s.sink.Name(),
			"error", err,
		)
		return 0, fmt.Errorf("store %s batch: %w", stream, err)
	}

	s.metrics.AddAccepted(string(stream), n)
	s.logger.DebugContext(ctx, "telemetry batch stored",
		"stream", stream,
		"records", n,
		"session_id", batch.SessionID,
	)
	return n, nil
}

// Health checks the sink when it supports it.
func (s *Service) Health(ctx context.Context) error {
	if p, ok := s.sink.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (s *Service) buildBatch(ctx context.Context, stream telemetry.Stream, env *models.Envelope) *models.Batch {
	batch := &models.Batch{
		Stream:     stream,
		SessionID:  auth.GetSessionID(ctx),
		ReceivedAt: requesttime.Now(ctx).UTC(),
	}
	switch stream {
	case telemetry.StreamAnalytics:
		batch.Events = env.Events
	case telemetry.StreamPerformance:
		batch.Metrics = env.Metrics
	case telemetry.StreamErrors:
		clientIP := metadata.GetClientIP(ctx)
		fallbackUA := metadata.GetUserAgent(ctx)
		batch.Errors = make([]models.ErrorRecord, 0, len(env.Errors))
		for _, report := range env.Errors {
			if report.UserAgent == "" {
				report.UserAgent = fallbackUA
			}
			batch.Errors = append(batch.Errors, models.ErrorRecord{
				ErrorReport: report,
				Client:      ParseUserAgent(report.UserAgent),
				ClientIP:    clientIP,
			})
		}
	}
	if batch.SessionID == "" {
		batch.SessionID = firstSessionID(batch)
	}
	return batch
}

func firstSessionID(b *models.Batch) string {
	switch {
	case len(b.Events) > 0:
		return b.Events[0].SessionID
	case len(b.Errors) > 0:
		return b.Errors[0].SessionID
	case len(b.Metrics) > 0:
		return b.Metrics[0].SessionID
	}
	return ""
}
