package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of the collector service.
type Metrics struct {
	RecordsAccepted  *prometheus.CounterVec
	RequestsRejected *prometheus.CounterVec
	SinkFailures     *prometheus.CounterVec
	IngestDuration   *prometheus.HistogramVec
}

// New creates and registers the collector metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RecordsAccepted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "neurotravel_collector_records_accepted_total",
			Help: "Total number of telemetry records accepted, by stream",
		}, []string{"stream"}),
		RequestsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "neurotravel_collector_requests_rejected_total",
			Help: "Total number of ingest requests rejected, by stream and reason",
		}, []string{"stream", "reason"}),
		SinkFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "neurotravel_collector_sink_failures_total",
			Help: "Total number of failed sink writes, by sink",
		}, []string{"sink"}),
		IngestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "neurotravel_collector_ingest_duration_seconds",
			Help:    "Time spent writing one batch to every sink",
			Buckets: prometheus.DefBuckets,
		}, []string{"stream"}),
	}
}

// AddAccepted adds n accepted records for stream.
func (m *Metrics) AddAccepted(stream string, n int) {
	if m == nil {
		return
	}
	m.RecordsAccepted.WithLabelValues(stream).Add(float64(n))
}

// IncRejected counts one rejected request.
func (m *Metrics) IncRejected(stream, reason string) {
	if m == nil {
		return
	}
	m.RequestsRejected.WithLabelValues(stream, reason).Inc()
}

// IncSinkFailure counts one failed sink write.
func (m *Metrics) IncSinkFailure(sink string) {
	if m == nil {
		return
	}
	m.SinkFailures.WithLabelValues(sink).Inc()
}

// ObserveIngest records how long a batch took to write.
func (m *Metrics) ObserveIngest(stream string, seconds float64) {
	if m == nil {
		return
	}
	m.IngestDuration.WithLabelValues(stream).Observe(seconds)
}
