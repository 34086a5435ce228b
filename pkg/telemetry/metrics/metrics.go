// Package metrics exposes Prometheus counters for the telemetry pipelines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"neurotravel/pkg/telemetry"
)

// Drop reasons.
const (
	DropOverflow   = "overflow"
	DropRequeueCap = "requeue_cap"
	DropOptOut     = "opt_out"
)

// Flush results.
const (
	ResultSent    = "sent"
	ResultEmpty   = "empty"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

// Metrics holds Prometheus metrics for the client-side telemetry queues.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Enqueued   *prometheus.CounterVec
	Dropped    *prometheus.CounterVec
	Flushes    *prometheus.CounterVec
	Delivered  *prometheus.CounterVec
	QueueDepth *prometheus.GaugeVec
}

// New registers the telemetry metrics with reg. Pass prometheus.NewRegistry()
// in tests to avoid duplicate registration against the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Enqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "neurotravel_telemetry_enqueued_total",
			Help: "Total number of records accepted into a telemetry queue",
		}, []string{"stream"}),
		Dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "neurotravel_telemetry_dropped_total",
			Help: "Total number of records lost before delivery, by reason",
		}, []string{"stream", "reason"}),
		Flushes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "neurotravel_telemetry_flushes_total",
			Help: "Total number of flush attempts by trigger and result",
		}, []string{"stream", "trigger", "result"}),
		Delivered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "neurotravel_telemetry_delivered_total",
			Help: "Total number of records the transport reported as delivered",
		}, []string{"stream"}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "neurotravel_telemetry_queue_depth",
			Help: "Number of records currently queued",
		}, []string{"stream"}),
	}
}

// IncEnqueued increments the enqueued counter for stream.
func (m *Metrics) IncEnqueued(stream telemetry.Stream) {
	if m == nil {
		return
	}
	m.Enqueued.WithLabelValues(string(stream)).Inc()
}

// AddDropped adds n to the dropped counter for stream and reason.
func (m *Metrics) AddDropped(stream telemetry.Stream, reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Dropped.WithLabelValues(string(stream), reason).Add(float64(n))
}

// IncFlush records one flush attempt.
func (m *Metrics) IncFlush(stream telemetry.Stream, trigger, result string) {
	if m == nil {
		return
	}
	m.Flushes.WithLabelValues(string(stream), trigger, result).Inc()
}

// AddDelivered adds n to the delivered counter for stream.
func (m *Metrics) AddDelivered(stream telemetry.Stream, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Delivered.WithLabelValues(string(stream)).Add(float64(n))
}

// SetQueueDepth sets the queue depth gauge for stream.
func (m *Metrics) SetQueueDepth(stream telemetry.Stream, n int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(string(stream)).Set(float64(n))
}
