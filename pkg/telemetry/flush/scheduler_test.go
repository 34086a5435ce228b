package flush

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"neurotravel/pkg/platform/clock"
	"neurotravel/pkg/platform/sentinel"
	"neurotravel/pkg/telemetry"
	"neurotravel/pkg/telemetry/queue"
	"neurotravel/pkg/telemetry/transport"
	"neurotravel/pkg/telemetry/transport/mocks"
)

// countingFlusher counts flush attempts per trigger and records the order streams are
// flushed in.
type countingFlusher struct {
	mu      sync.Mutex
	stream  telemetry.Stream
	counts  map[Trigger]int
	journal *[]telemetry.Stream
	err     error
}

func newCountingFlusher(stream telemetry.Stream, journal *[]telemetry.Stream) *countingFlusher {
	return &countingFlusher{stream: stream, counts: make(map[Trigger]int), journal: journal}
}

func (p *countingFlusher) Stream() telemetry.Stream { return p.stream }
func (p *countingFlusher) Len() int                 { return 0 }
func (p *countingFlusher) Clear() int               { return 0 }

func (p *countingFlusher) Flush(_ context.Context, trigger Trigger) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[trigger]++
	if p.journal != nil {
		*p.journal = append(*p.journal, p.stream)
	}
	return p.err
}

func (p *countingFlusher) count(trigger Trigger) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[trigger]
}

type SchedulerSuite struct {
	suite.Suite
	ctx    context.Context
	clock  *clock.FakeClock
	logger *slog.Logger
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerSuite))
}

func (s *SchedulerSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *SchedulerSuite) newScheduler(interval time.Duration, flushers ...Flushable) *Scheduler {
	return NewScheduler(interval, flushers,
		WithClock(s.clock),
		WithDispatcher(SyncDispatcher),
		WithSchedulerLogger(s.logger),
	)
}

func (s *SchedulerSuite) TestOnTick_FlushesEveryStreamInOrder() {
	var journal []telemetry.Stream
	errs := newCountingFlusher(telemetry.StreamErrors, &journal)
	perf := newCountingFlusher(telemetry.StreamPerformance, &journal)
	sched := s.newScheduler(DefaultMonitorInterval, errs, perf)

	s.NoError(sched.OnTick(s.ctx))

	s.Equal([]telemetry.Stream{telemetry.StreamErrors, telemetry.StreamPerformance}, journal)
}

func (s *SchedulerSuite) TestOnTick_JoinsFailuresButIgnoresSkips() {
	errs := newCountingFlusher(telemetry.StreamErrors, nil)
	errs.err = sentinel.ErrRejected
	perf := newCountingFlusher(telemetry.StreamPerformance, nil)
	perf.err = ErrFlushInProgress
	sched := s.newScheduler(DefaultMonitorInterval, errs, perf)

	err := sched.OnTick(s.ctx)

	s.ErrorIs(err, sentinel.ErrRejected)
	s.False(errors.Is(err, ErrFlushInProgress))
}

func (s *SchedulerSuite) TestRun_TicksOnInterval() {
	analytics := newCountingFlusher(telemetry.StreamAnalytics, nil)
	sched := s.newScheduler(DefaultAnalyticsInterval, analytics)

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()
	s.clock.WaitForTickers(1)

	s.clock.Advance(DefaultAnalyticsInterval - time.Second)
	s.Never(func() bool { return analytics.count(TriggerTick) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	s.clock.Advance(time.Second)
	s.Eventually(func() bool { return analytics.count(TriggerTick) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	s.NoError(<-done)
}

func (s *SchedulerSuite) TestOnSeverityEscalation_FlushesBeforeNextTick() {
	ctrl := gomock.NewController(s.T())
	mockTransport := mocks.NewMockTransport(ctrl)

	errorsQueue := queue.New[telemetry.ErrorReport](100, 50)
	perfQueue := queue.New[telemetry.PerformanceMetric](100, 100)
	errorsFlusher := NewFlusher(telemetry.StreamErrors, errorsQueue, mockTransport, WithLogger(s.logger))
	perfFlusher := NewFlusher(telemetry.StreamPerformance, perfQueue, mockTransport, WithLogger(s.logger))
	sched := s.newScheduler(DefaultMonitorInterval, errorsFlusher, perfFlusher)

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	go func() { _ = sched.Run(ctx) }()
	s.clock.WaitForTickers(1)

	errorsFlusher.Enqueue(telemetry.ErrorReport{ID: "e1", Severity: telemetry.SeverityCritical})
	perfFlusher.Enqueue(telemetry.PerformanceMetric{Name: "m"})

	mockTransport.EXPECT().Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, b transport.Batch) error {
			s.Equal(telemetry.StreamErrors, b.Stream)
			return nil
		}).Times(1)

	sched.OnSeverityEscalation(s.ctx, telemetry.StreamErrors)

	s.Zero(errorsFlusher.Len(), "critical error flushed without a tick")
	s.Equal(1, perfFlusher.Len(), "other streams wait for the tick")
}

func (s *SchedulerSuite) TestOnThresholdReached_FlushesOnlyThatStream() {
	analytics := newCountingFlusher(telemetry.StreamAnalytics, nil)
	sched := s.newScheduler(DefaultAnalyticsInterval, analytics)

	sched.OnThresholdReached(s.ctx, telemetry.StreamAnalytics)
	sched.OnThresholdReached(s.ctx, telemetry.StreamErrors) // not scheduled here

	s.Equal(1, analytics.count(TriggerThreshold))
	s.Zero(analytics.count(TriggerTick))
}

func (s *SchedulerSuite) TestOnShutdownSignal_WaitsForDispatchedFlushes() {
	ctrl := gomock.NewController(s.T())
	mockTransport := mocks.NewMockTransport(ctrl)
	q := queue.New[int](10, 10)
	f := NewFlusher(telemetry.StreamAnalytics, q, mockTransport, WithLogger(s.logger))
	sched := NewScheduler(DefaultAnalyticsInterval, []Flushable{f},
		WithClock(s.clock),
		WithDispatcher(GoDispatcher),
		WithSchedulerLogger(s.logger),
	)

	entered := make(chan struct{})
	release := make(chan struct{})
	var sent [][]int
	var mu sync.Mutex
	record := func(b transport.Batch) {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, b.Records.([]int))
	}
	gomock.InOrder(
		mockTransport.EXPECT().Send(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, b transport.Batch) error {
				close(entered)
				<-release
				record(b)
				return nil
			}),
		mockTransport.EXPECT().Send(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, b transport.Batch) error {
				record(b)
				return nil
			}),
	)

	f.Enqueue(1)
	sched.OnThresholdReached(s.ctx, telemetry.StreamAnalytics)
	<-entered
	f.Enqueue(2)

	shutdown := make(chan error, 1)
	go func() { shutdown <- sched.OnShutdownSignal(s.ctx) }()
	s.Never(func() bool { return len(shutdown) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	close(release)
	s.NoError(<-shutdown)

	mu.Lock()
	defer mu.Unlock()
	s.Equal([][]int{{1}, {2}}, sent)
}

func (s *SchedulerSuite) TestOnShutdownSignal_StopsOutOfBandFlushes() {
	analytics := newCountingFlusher(telemetry.StreamAnalytics, nil)
	sched := s.newScheduler(DefaultAnalyticsInterval, analytics)

	s.NoError(sched.OnShutdownSignal(s.ctx))
	s.NoError(sched.OnShutdownSignal(s.ctx))
	sched.OnThresholdReached(s.ctx, telemetry.StreamAnalytics)

	s.Equal(1, analytics.count(TriggerShutdown))
	s.Zero(analytics.count(TriggerThreshold))
}

func (s *SchedulerSuite) TestOnShutdownSignal_GivesUpWhenContextExpires() {
	q := queue.New[int](10, 10)
	blocking := &blockingTransport{release: make(chan struct{}), entered: make(chan struct{})}
	f := NewFlusher(telemetry.StreamAnalytics, q, blocking, WithLogger(s.logger))
	sched := NewScheduler(DefaultAnalyticsInterval, []Flushable{f},
		WithClock(s.clock),
		WithSchedulerLogger(s.logger),
	)
	defer close(blocking.release)

	f.Enqueue(1)
	sched.OnThresholdReached(s.ctx, telemetry.StreamAnalytics)
	<-blocking.entered

	ctx, cancel := context.WithTimeout(s.ctx, 20*time.Millisecond)
	defer cancel()
	s.ErrorIs(sched.OnShutdownSignal(ctx), context.DeadlineExceeded)
}

type blockingTransport struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (b *blockingTransport) Send(context.Context, transport.Batch) error {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return nil
}
