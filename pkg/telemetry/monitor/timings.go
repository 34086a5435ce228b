package monitor

import "sync"

// DefaultTimingWindow is how many recent samples are kept per metric.
const DefaultTimingWindow = 100

// TimingSummary describes the recent samples of one metric.
type TimingSummary struct {
	Average float64 `json:"average"`
	Latest  float64 `json:"latest"`
	Count   int     `json:"count"`
}

// Timings keeps a rolling window of recent samples per metric name.
type Timings struct {
	mu      sync.Mutex
	window  int
	samples map[string][]float64
}

func NewTimings(window int) *Timings {
	if window <= 0 {
		window = DefaultTimingWindow
	}
	return &Timings{window: window, samples: make(map[string][]float64)}
}

// Record adds a sample, evicting the oldest once the window is full.
func (t *Timings) Record(name string, value float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := append(t.samples[name], value)
	if len(s) > t.window {
		s = s[len(s)-t.window:]
	}
	t.samples[name] = s
}

// Average returns the mean of the recent samples of name.
func (t *Timings) Average(name string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.samples[name]
	if len(s) == 0 {
		return 0, false
	}
	return mean(s), true
}

// Snapshot summarizes every metric seen so far.
func (t *Timings) Snapshot() map[string]TimingSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]TimingSummary, len(t.samples))
	for name, s := range t.samples {
		out[name] = TimingSummary{Average: mean(s), Latest: s[len(s)-1], Count: len(s)}
	}
	return out
}

func mean(s []float64) float64 {
	var sum float64
	for _, v := range s {
		sum += v
	}
	return sum / float64(len(s))
}
