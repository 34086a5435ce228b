package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"neurotravel/pkg/platform/clock"
	"neurotravel/pkg/platform/sentinel"
	"neurotravel/pkg/telemetry"
	"neurotravel/pkg/telemetry/flush"
	"neurotravel/pkg/telemetry/identity"
	"neurotravel/pkg/telemetry/optout"
	"neurotravel/pkg/telemetry/prefs"
	"neurotravel/pkg/telemetry/sanitize"
	"neurotravel/pkg/telemetry/transport"
	"neurotravel/pkg/telemetry/transport/mocks"
)

var start = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type stackErr struct{ msg, stack string }

func (e stackErr) Error() string { return e.msg }
func (e stackErr) Stack() string { return e.stack }

type MonitorSuite struct {
	suite.Suite
	ctx           context.Context
	ctrl          *gomock.Controller
	mockTransport *mocks.MockTransport
	clock         *clock.FakeClock
	gate          *optout.Gate
	binder        *identity.Binder
	monitor       *Monitor
}

func TestMonitorSuite(t *testing.T) {
	suite.Run(t, new(MonitorSuite))
}

func (s *MonitorSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.mockTransport = mocks.NewMockTransport(s.ctrl)
	s.clock = clock.Fake(start)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	gate, err := optout.Load(s.ctx, prefs.NewInMemoryStore(), optout.WithLogger(logger))
	s.Require().NoError(err)
	s.gate = gate
	s.binder = identity.NewBinder()
	s.monitor = New(s.gate, s.binder, s.mockTransport,
		WithClock(s.clock),
		WithLogger(logger),
		WithDispatcher(flush.SyncDispatcher),
		WithLocation("https://app.neurotravel.example/plan"),
		WithUserAgent("test-agent"),
	)
}

func (s *MonitorSuite) captureBatches() (*[]telemetry.ErrorReport, *[]telemetry.PerformanceMetric) {
	var (
		reports []telemetry.ErrorReport
		metrics []telemetry.PerformanceMetric
	)
	s.mockTransport.EXPECT().Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, b transport.Batch) error {
			switch b.Stream {
			case telemetry.StreamErrors:
				reports = b.Records.([]telemetry.ErrorReport)
			case telemetry.StreamPerformance:
				metrics = b.Records.([]telemetry.PerformanceMetric)
			}
			return nil
		}).AnyTimes()
	return &reports, &metrics
}

func (s *MonitorSuite) TestCaptureError_BuildsReport() {
	s.binder.Bind("user-7", telemetry.UserProperties{})
	id := s.monitor.CaptureError(s.ctx, stackErr{msg: "boom", stack: "main.go:12"}, telemetry.SeverityHigh, map[string]any{
		"apiKey":    "abc",
		"component": "TripPlanning",
		"detail":    strings.Repeat("x", 1001),
	})

	reports, _ := s.captureBatches()
	s.Require().NoError(s.monitor.Flush(s.ctx))

	s.Require().Len(*reports, 1)
	r := (*reports)[0]
	s.Equal(id, r.ID)
	_, err := uuid.Parse(r.ID)
	s.NoError(err)
	s.Equal("boom", r.Message)
	s.Equal("main.go:12", r.Stack)
	s.Equal("https://app.neurotravel.example/plan", r.URL)
	s.Equal("test-agent", r.UserAgent)
	s.Equal(start.UnixMilli(), r.Timestamp)
	s.Equal("user-7", r.UserID)
	s.Equal(s.binder.SessionID(), r.SessionID)
	s.Equal(telemetry.SeverityHigh, r.Severity)
	s.False(r.Resolved)
	s.NotContains(r.Context, "apiKey")
	s.Equal("TripPlanning", r.Context["component"])
	s.Equal(strings.Repeat("x", 1000)+sanitize.TruncatedMarker, r.Context["detail"])
}

func (s *MonitorSuite) TestCaptureError_Defaults() {
	s.Run("nil error is ignored", func() {
		s.Empty(s.monitor.CaptureError(s.ctx, nil, telemetry.SeverityLow, nil))
	})

	s.Run("unknown severity becomes medium and stack is captured", func() {
		s.monitor.CaptureError(s.ctx, errors.New("plain"), telemetry.Severity("fatal"), nil)
		reports, _ := s.captureBatches()
		s.Require().NoError(s.monitor.Flush(s.ctx))
		s.Require().Len(*reports, 1)
		s.Equal(telemetry.SeverityMedium, (*reports)[0].Severity)
		s.Contains((*reports)[0].Stack, "goroutine")
	})

	s.Run("report IDs are unique", func() {
		a := s.monitor.ReportError(s.ctx, errors.New("a"), nil)
		b := s.monitor.ReportError(s.ctx, errors.New("b"), nil)
		s.NotEqual(a, b)
	})
}

func (s *MonitorSuite) TestCriticalError_FlushesBeforeNextTick() {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	go func() { _ = s.monitor.Scheduler().Run(ctx) }()
	s.clock.WaitForTickers(1)

	s.monitor.RecordPerformance(s.ctx, "dom_interactive", 120)

	var flushes int
	s.mockTransport.EXPECT().Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, b transport.Batch) error {
			s.Equal(telemetry.StreamErrors, b.Stream)
			flushes++
			return nil
		}).Times(1)

	s.monitor.ReportCriticalError(s.ctx, errors.New("payment function unreachable"), nil)

	s.Equal(1, flushes, "critical report delivered without advancing the clock")
	errs, perf := s.monitor.Pending()
	s.Zero(errs)
	s.Equal(1, perf)
}

func (s *MonitorSuite) TestCriticalError_FailureFollowsNormalRequeuePath() {
	s.mockTransport.EXPECT().Send(gomock.Any(), gomock.Any()).Return(sentinel.ErrRejected)

	id := s.monitor.ReportCriticalError(s.ctx, errors.New("down"), nil)

	s.NotEmpty(id)
	errs, _ := s.monitor.Pending()
	s.Equal(1, errs)
}

func (s *MonitorSuite) TestErrorRequeueCap() {
	for i := range 80 {
		s.monitor.ReportError(s.ctx, errors.New("e"), map[string]any{"i": i})
	}
	s.mockTransport.EXPECT().Send(gomock.Any(), gomock.Any()).Return(sentinel.ErrUnavailable).Times(1)

	s.Error(s.monitor.Flush(s.ctx))

	errs, _ := s.monitor.Pending()
	s.Equal(DefaultErrorRequeueCap, errs)
}

func (s *MonitorSuite) TestRecordPerformance() {
	s.monitor.RecordPerformance(s.ctx, "page_load_time", 300)
	s.monitor.RecordPerformance(s.ctx, "page_load_time", 500)

	_, metrics := s.captureBatches()
	s.Require().NoError(s.monitor.Flush(s.ctx))

	s.Require().Len(*metrics, 2)
	m := (*metrics)[0]
	s.Equal("page_load_time", m.Name)
	s.Equal(300.0, m.Value)
	s.Equal(s.binder.SessionID(), m.SessionID)
	s.Equal("https://app.neurotravel.example/plan", m.URL)

	avg, ok := s.monitor.Timings().Average("page_load_time")
	s.True(ok)
	s.Equal(400.0, avg)
}

func (s *MonitorSuite) TestDisableEnable() {
	s.monitor.Disable()
	s.Empty(s.monitor.ReportError(s.ctx, errors.New("x"), nil))
	s.monitor.RecordPerformance(s.ctx, "x", 1)
	errs, perf := s.monitor.Pending()
	s.Zero(errs + perf)

	s.monitor.Enable()
	s.NotEmpty(s.monitor.ReportError(s.ctx, errors.New("x"), nil))
}

func (s *MonitorSuite) TestOptOut_DiscardsBothQueues() {
	s.monitor.ReportError(s.ctx, errors.New("x"), nil)
	s.monitor.RecordPerformance(s.ctx, "x", 1)

	s.Require().NoError(s.gate.OptOut(s.ctx))

	errs, perf := s.monitor.Pending()
	s.Zero(errs + perf)
	s.Empty(s.monitor.ReportCriticalError(s.ctx, errors.New("y"), nil))

	s.Require().NoError(s.gate.OptIn(s.ctx))
	errs, perf = s.monitor.Pending()
	s.Zero(errs + perf)
}

func (s *MonitorSuite) TestOptOut_ConcurrentCaptureLeavesNothingQueued() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	for round := range 200 {
		gate, err := optout.Load(s.ctx, prefs.NewInMemoryStore(), optout.WithLogger(logger))
		s.Require().NoError(err)
		m := New(gate, identity.NewBinder(), s.mockTransport,
			WithClock(s.clock),
			WithLogger(logger),
			WithMaxQueueSize(1000),
		)

		stop := make(chan struct{})
		var wg sync.WaitGroup
		for i := range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
						if i%2 == 0 {
							m.ReportError(s.ctx, errors.New("itinerary sync failed"), nil)
						} else {
							m.RecordPerformance(s.ctx, "route_render", 12)
						}
					}
				}
			}()
		}

		s.Require().NoError(gate.OptOut(s.ctx))
		close(stop)
		wg.Wait()

		errs, perf := m.Pending()
		s.Require().Zero(errs+perf, "round %d: records captured around opt-out survived", round)
	}
}

func (s *MonitorSuite) TestMeasure() {
	s.monitor.Measure(s.ctx, "render", func() { s.clock.Advance(15 * time.Millisecond) })

	err := s.monitor.MeasureErr(s.ctx, "fetch", func() error {
		s.clock.Advance(40 * time.Millisecond)
		return sentinel.ErrUnavailable
	})
	s.ErrorIs(err, sentinel.ErrUnavailable)

	s.NoError(s.monitor.MeasureErr(s.ctx, "save", func() error { return nil }))

	reports, metrics := s.captureBatches()
	s.Require().NoError(s.monitor.Flush(s.ctx))

	names := make([]string, 0, len(*metrics))
	for _, m := range *metrics {
		names = append(names, m.Name)
	}
	s.Equal([]string{"function_render", "function_fetch_error", "function_save"}, names)
	s.Equal(15.0, (*metrics)[0].Value)
	s.Equal(40.0, (*metrics)[1].Value)

	s.Require().Len(*reports, 1)
	s.Equal(telemetry.SeverityMedium, (*reports)[0].Severity)
	s.Equal(map[string]any{"function": "fetch"}, (*reports)[0].Context)
}

func (s *MonitorSuite) TestStartTiming() {
	stop := s.monitor.StartTiming(s.ctx, "wizard_step")
	s.clock.Advance(250 * time.Millisecond)
	stop()

	snap := s.monitor.Timings().Snapshot()
	s.Equal(TimingSummary{Average: 250, Latest: 250, Count: 1}, snap["wizard_step"])
}

func (s *MonitorSuite) TestRecover_ReportsAndRepanics() {
	s.PanicsWithValue("kaboom", func() {
		defer s.monitor.Recover(s.ctx)
		panic("kaboom")
	})

	reports, _ := s.captureBatches()
	s.Require().NoError(s.monitor.Flush(s.ctx))
	s.Require().Len(*reports, 1)
	s.Equal("panic: kaboom", (*reports)[0].Message)
	s.Equal(telemetry.SeverityHigh, (*reports)[0].Severity)
	s.Equal("panic", (*reports)[0].Context["type"])
}

func (s *MonitorSuite) TestHealth() {
	s.binder.Bind("user-9", telemetry.UserProperties{})
	s.monitor.RecordPerformance(s.ctx, "dom_interactive", 90)

	h := s.monitor.Health()

	s.Equal(start.UnixMilli(), h.Timestamp)
	s.Equal(s.binder.SessionID(), h.SessionID)
	s.Equal("user-9", h.UserID)
	s.Equal("test-agent", h.UserAgent)
	s.True(h.Enabled)
	s.Positive(h.Goroutines)
	s.NotZero(h.Memory.HeapSys)
	s.Equal(1, h.PendingMetrics)
	s.Equal(90.0, h.Timings["dom_interactive"].Latest)
}

func TestTimings_WindowKeepsNewestSamples(t *testing.T) {
	timings := NewTimings(3)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		timings.Record("m", v)
	}

	avg, ok := timings.Average("m")
	if !ok || avg != 4 {
		t.Fatalf("expected average 4 over the last three samples, got %v (ok=%v)", avg, ok)
	}
	if snap := timings.Snapshot()["m"]; snap.Count != 3 || snap.Latest != 5 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if _, ok := timings.Average("missing"); ok {
		t.Fatal("missing metric reported an average")
	}
}

func TestTimings_ConcurrentRecord(t *testing.T) {
	timings := NewTimings(DefaultTimingWindow)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				timings.Record("m", 1)
			}
		}()
	}
	wg.Wait()

	if got := timings.Snapshot()["m"].Count; got != DefaultTimingWindow {
		t.Fatalf("expected window to be full, got %d", got)
	}
}
