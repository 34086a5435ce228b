package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"neurotravel/internal/collector/models"
	"neurotravel/internal/platform/metrics"
	"neurotravel/pkg/platform/circuit"
)

// Sink is a write target for accepted batches.
type Sink interface {
	Name() string
	Write(ctx context.Context, batch *models.Batch) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// DefaultSecondaryTimeout bounds one write to a secondary sink.
const DefaultSecondaryTimeout = 2 * time.Second

// Fanout writes each batch to a primary sink and, best effort, to any number
// of secondary sinks. Only the primary's outcome is returned. Each secondary
// sits behind a circuit breaker so a dead broker costs one failed write per
// cooldown instead of one per batch, and each secondary write has its own
// deadline so a slow broker delays a response by at most that much.
type Fanout struct {
	primary          Sink
	secondaries      []secondary
	secondaryTimeout time.Duration
	logger           *slog.Logger
	metrics          *metrics.Metrics
}

type secondary struct {
	sink    Sink
	breaker *circuit.Breaker
}

type FanoutOption func(*Fanout)

func WithFanoutLogger(logger *slog.Logger) FanoutOption {
	return func(f *Fanout) {
		f.logger = logger
	}
}

func WithFanoutMetrics(m *metrics.Metrics) FanoutOption {
	return func(f *Fanout) {
		f.metrics = m
	}
}

// WithSecondaryTimeout overrides DefaultSecondaryTimeout.
func WithSecondaryTimeout(d time.Duration) FanoutOption {
	return func(f *Fanout) {
		if d > 0 {
			f.secondaryTimeout = d
		}
	}
}

// WithSecondary adds a best-effort sink guarded by a breaker built from opts.
func WithSecondary(s Sink, opts ...circuit.Option) FanoutOption {
	return func(f *Fanout) {
		f.secondaries = append(f.secondaries, secondary{
			sink:    s,
			breaker: circuit.New(s.Name(), opts...),
		})
	}
}

// NewFanout creates a fan-out around primary.
func NewFanout(primary Sink, opts ...FanoutOption) *Fanout {
	f := &Fanout{primary: primary, secondaryTimeout: DefaultSecondaryTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fanout) Name() string { return f.primary.Name() }

// Write stores batch in every sink concurrently and returns the primary's
// error. Secondary writes are cut off after the secondary timeout and count
// as failures.
func (f *Fanout) Write(ctx context.Context, batch *models.Batch) error {
	var (
		g          errgroup.Group
		primaryErr error
	)
	g.Go(func() error {
		if err := f.primary.Write(ctx, batch); err != nil {
			f.metrics.IncSinkFailure(f.primary.Name())
			primaryErr = fmt.Errorf("%s: %w", f.primary.Name(), err)
		}
		return nil
	})
	for _, sec := range f.secondaries {
		if !sec.breaker.Allow() {
			f.metrics.IncSinkFailure(sec.sink.Name())
			continue
		}
		g.Go(func() error {
			f.writeSecondary(ctx, sec, batch)
			return nil
		})
	}
	_ = g.Wait()
	return primaryErr
}

func (f *Fanout) writeSecondary(ctx context.Context, sec secondary, batch *models.Batch) {
	name := sec.sink.Name()
	ctx, cancel := context.WithTimeout(ctx, f.secondaryTimeout)
	defer cancel()
	if err := sec.sink.Write(ctx, batch); err != nil {
		f.metrics.IncSinkFailure(name)
		_, change := sec.breaker.RecordFailure()
		f.logger.WarnContext(ctx, "secondary sink write failed",
			"sink", name,
			"stream", batch.Stream,
			"records", batch.Len(),
			"error", err,
		)
		if change.Opened {
			f.logger.ErrorContext(ctx, "secondary sink circuit opened", "sink", name)
		}
		return
	}
	if _, change := sec.breaker.RecordSuccess(); change.Closed {
		f.logger.InfoContext(ctx, "secondary sink circuit closed", "sink", name)
	}
}

// Ping checks the primary sink.
func (f *Fanout) Ping(ctx context.Context) error {
	if p, ok := f.primary.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// States reports the breaker position of every secondary sink.
func (f *Fanout) States() map[string]circuit.State {
	out := make(map[string]circuit.State, len(f.secondaries))
	for _, sec := range f.secondaries {
		out[sec.sink.Name()] = sec.breaker.State()
	}
	return out
}

