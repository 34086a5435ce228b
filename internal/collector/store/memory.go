// Package store persists ingested telemetry batches.
package store

import (
	"context"
	"sync"

	"neurotravel/internal/collector/models"
	"neurotravel/pkg/telemetry"
)

// DefaultMemoryRetention bounds each stream in the in-memory store.
const DefaultMemoryRetention = 10_000

// Memory keeps the most recent records of each stream in process memory.
type Memory struct {
	mu        sync.RWMutex
	retention int
	events    []telemetry.Event
	errors    []models.ErrorRecord
	metrics   []telemetry.PerformanceMetric
}

// NewMemory creates a store keeping at most retention records per stream.
func NewMemory(retention int) *Memory {
	if retention <= 0 {
		retention = DefaultMemoryRetention
	}
	return &Memory{retention: retention}
}

func (m *Memory) Name() string { return "memory" }

// Write appends the batch, dropping the oldest records past retention.
func (m *Memory) Write(_ context.Context, batch *models.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = keepLast(append(m.events, batch.Events...), m.retention)
	m.errors = keepLast(append(m.errors, batch.Errors...), m.retention)
	m.metrics = keepLast(append(m.metrics, batch.Metrics...), m.retention)
	return nil
}

func (m *Memory) Events() []telemetry.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]telemetry.Event(nil), m.events...)
}

func (m *Memory) Errors() []models.ErrorRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.ErrorRecord(nil), m.errors...)
}

func (m *Memory) Metrics() []telemetry.PerformanceMetric {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]telemetry.PerformanceMetric(nil), m.metrics...)
}

// Count returns how many records of stream are held.
func (m *Memory) Count(_ context.Context, stream telemetry.Stream) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch stream {
	case telemetry.StreamAnalytics:
		return len(m.events), nil
	case telemetry.StreamErrors:
		return len(m.errors), nil
	case telemetry.StreamPerformance:
		return len(m.metrics), nil
	}
	return 0, nil
}

func keepLast[T any](s []T, n int) []T {
	if len(s) <= n {
		return s
	}
	return append(s[:0:0], s[len(s)-n:]...)
}
