// Package flush moves queued telemetry to the transport. A Flusher owns one
// stream's queue; a Scheduler decides when flushers run.
package flush

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"neurotravel/pkg/telemetry"
	"neurotravel/pkg/telemetry/metrics"
	"neurotravel/pkg/telemetry/queue"
	"neurotravel/pkg/telemetry/transport"
)

// DefaultSendTimeout bounds a single transport call.
const DefaultSendTimeout = 10 * time.Second

const tracerName = "neurotravel/pkg/telemetry/flush"

// ErrFlushInProgress is returned when a flush is triggered while the previous
// send for the same stream has not settled. The queued data is picked up by
// the next trigger.
var ErrFlushInProgress = errors.New("flush already in progress")

// Trigger names what caused a flush attempt.
type Trigger string

const (
	TriggerTick      Trigger = "tick"
	TriggerThreshold Trigger = "threshold"
	TriggerSeverity  Trigger = "severity"
	TriggerShutdown  Trigger = "shutdown"
	TriggerManual    Trigger = "manual"
)

// Flushable is the type-erased view of a Flusher the Scheduler drives.
type Flushable interface {
	Stream() telemetry.Stream
	Flush(ctx context.Context, trigger Trigger) error
	Len() int
	Clear() int
}

type flusherConfig struct {
	timeout   time.Duration
	sessionID func() string
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

// Option configures a Flusher.
type Option func(*flusherConfig)

// WithSendTimeout bounds each transport call. Non-positive values are ignored.
func WithSendTimeout(d time.Duration) Option {
	return func(c *flusherConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithSessionID supplies the session stamped on outgoing batches.
func WithSessionID(fn func() string) Option {
	return func(c *flusherConfig) {
		c.sessionID = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *flusherConfig) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *flusherConfig) {
		c.metrics = m
	}
}

// WithTracer overrides the tracer. Defaults to the global provider's tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *flusherConfig) {
		c.tracer = tracer
	}
}

// Flusher drains one stream's queue into its transport. At most one send per
// stream is in flight; a failed batch goes back to the head of the queue.
type Flusher[T any] struct {
	stream    telemetry.Stream
	queue     *queue.Queue[T]
	transport transport.Transport
	inFlight  atomic.Bool
	cfg       flusherConfig
}

// NewFlusher builds a flusher for stream over q.
func NewFlusher[T any](stream telemetry.Stream, q *queue.Queue[T], tr transport.Transport, opts ...Option) *Flusher[T] {
	cfg := flusherConfig{
		timeout:   DefaultSendTimeout,
		sessionID: func() string { return "" },
		logger:    slog.Default(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Flusher[T]{stream: stream, queue: q, transport: tr, cfg: cfg}
}

// Stream returns the stream this flusher delivers.
func (f *Flusher[T]) Stream() telemetry.Stream { return f.stream }

// Enqueue adds a record and returns the queue length afterwards.
func (f *Flusher[T]) Enqueue(record T) int {
	if f.queue.Enqueue(record) {
		f.cfg.metrics.AddDropped(f.stream, metrics.DropOverflow, 1)
	}
	f.cfg.metrics.IncEnqueued(f.stream)
	n := f.queue.Len()
	f.cfg.metrics.SetQueueDepth(f.stream, n)
	return n
}

// Len returns the number of queued records.
func (f *Flusher[T]) Len() int { return f.queue.Len() }

// Clear discards everything queued without sending it.
func (f *Flusher[T]) Clear() int {
	n := f.queue.Clear()
	f.cfg.metrics.AddDropped(f.stream, metrics.DropOptOut, n)
	f.cfg.metrics.SetQueueDepth(f.stream, 0)
	return n
}

// Flush drains the queue and sends the batch. On failure the batch is requeued
// ahead of newer records, subject to the queue's requeue cap, and the
// transport error is returned. A batch whose queue was cleared during the
// send is discarded instead of requeued.
func (f *Flusher[T]) Flush(ctx context.Context, trigger Trigger) error {
	if !f.inFlight.CompareAndSwap(false, true) {
		f.cfg.metrics.IncFlush(f.stream, string(trigger), metrics.ResultSkipped)
		return ErrFlushInProgress
	}
	defer f.inFlight.Store(false)

	batch, gen := f.queue.Drain()
	if len(batch) == 0 {
		f.cfg.metrics.IncFlush(f.stream, string(trigger), metrics.ResultEmpty)
		return nil
	}

	ctx, span := f.cfg.tracer.Start(ctx, "telemetry.flush",
		trace.WithAttributes(
			attribute.String("telemetry.stream", string(f.stream)),
			attribute.String("telemetry.trigger", string(trigger)),
			attribute.Int("telemetry.batch_size", len(batch)),
		),
	)
	defer span.End()

	sendCtx, cancel := context.WithTimeout(ctx, f.cfg.timeout)
	defer cancel()

	err := f.transport.Send(sendCtx, transport.NewBatch(f.stream, f.cfg.sessionID(), batch))
	if err != nil {
		dropped, requeued := f.queue.RequeueFrontAt(gen, batch)
		if requeued {
			f.cfg.metrics.AddDropped(f.stream, metrics.DropRequeueCap, dropped)
		} else {
			// Cleared by an opt-out while the send was in flight.
			f.cfg.metrics.AddDropped(f.stream, metrics.DropOptOut, dropped)
		}
		f.cfg.metrics.IncFlush(f.stream, string(trigger), metrics.ResultFailed)
		f.cfg.metrics.SetQueueDepth(f.stream, f.queue.Len())
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		f.cfg.logger.WarnContext(ctx, "telemetry flush failed, batch requeued",
			"stream", f.stream,
			"trigger", trigger,
			"batch_size", len(batch),
			"dropped", dropped,
			"error", err,
		)
		return fmt.Errorf("flush %s: %w", f.stream, err)
	}

	f.cfg.metrics.IncFlush(f.stream, string(trigger), metrics.ResultSent)
	f.cfg.metrics.AddDelivered(f.stream, len(batch))
	f.cfg.metrics.SetQueueDepth(f.stream, f.queue.Len())
	f.cfg.logger.DebugContext(ctx, "telemetry batch delivered",
		"stream", f.stream,
		"trigger", trigger,
		"batch_size", len(batch),
	)
	return nil
}
