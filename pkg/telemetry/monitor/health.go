package monitor

import (
	"runtime"

	"neurotravel/pkg/telemetry"
)

// MemoryStats is the heap subset of runtime.MemStats reported in Health.
type MemoryStats struct {
	HeapAlloc uint64 `json:"heapAlloc"`
	HeapSys   uint64 `json:"heapSys"`
	NextGC    uint64 `json:"nextGC"`
	NumGC     uint32 `json:"numGC"`
}

// Health is a point-in-time view of the process as the monitor sees it.
type Health struct {
	Timestamp      int64                    `json:"timestamp"`
	SessionID      string                   `json:"sessionId"`
	UserID         string                   `json:"userId,omitempty"`
	URL            string                   `json:"url"`
	UserAgent      string                   `json:"userAgent"`
	Enabled        bool                     `json:"enabled"`
	Goroutines     int                      `json:"goroutines"`
	Memory         MemoryStats              `json:"memory"`
	PendingErrors  int                      `json:"pendingErrors"`
	PendingMetrics int                      `json:"pendingMetrics"`
	Timings        map[string]TimingSummary `json:"timings"`
}

// Health returns the current process health snapshot.
func (m *Monitor) Health() Health {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	errs, perf := m.Pending()

	return Health{
		Timestamp:  telemetry.Millis(m.clock.Now()),
		SessionID:  m.binder.SessionID(),
		UserID:     m.binder.UserID(),
		URL:        m.location,
		UserAgent:  m.userAgent,
		Enabled:    m.enabled(),
		Goroutines: runtime.NumGoroutine(),
		Memory: MemoryStats{
			HeapAlloc: mem.HeapAlloc,
			HeapSys:   mem.HeapSys,
			NextGC:    mem.NextGC,
			NumGC:     mem.NumGC,
		},
		PendingErrors:  errs,
		PendingMetrics: perf,
		Timings:        m.timings.Snapshot(),
	}
}
