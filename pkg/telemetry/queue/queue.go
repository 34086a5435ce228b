// Package queue provides the bounded FIFO buffer behind each telemetry stream.
package queue

import "sync"

const (
	// DefaultMaxSize bounds every stream's queue unless configured otherwise.
	DefaultMaxSize = 100
)

// Queue is a bounded, thread-safe ring of records. When full, the oldest
// record is dropped to make room for a new one. A batch that failed delivery
// can be put back at the head with RequeueFront, bounded by a separate cap.
type Queue[T any] struct {
	mu         sync.Mutex
	items      []T
	head       int // next write position
	tail       int // next read position
	count      int
	capacity   int
	requeueCap int

	// generation advances on every Clear.
	generation uint64

	// Stats
	dropped int64
}

// New creates a queue holding at most capacity records, of which at most
// requeueCap may come from a single failed batch. Non-positive values fall
// back to DefaultMaxSize; requeueCap is clamped to capacity.
func New[T any](capacity, requeueCap int) *Queue[T] {
	if capacity <= 0 {
		capacity = DefaultMaxSize
	}
	if requeueCap <= 0 || requeueCap > capacity {
		requeueCap = capacity
	}
	return &Queue[T]{
		items:      make([]T, capacity),
		capacity:   capacity,
		requeueCap: requeueCap,
	}
}

// Enqueue appends a record, evicting the oldest one if the queue is full.
// Returns true when an eviction happened.
func (q *Queue[T]) Enqueue(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := false
	if q.count >= q.capacity {
		q.dropOldestLocked()
		evicted = true
	}

	q.items[q.head] = item
	q.head = (q.head + 1) % q.capacity
	q.count++
	return evicted
}

// DrainAll removes and returns every queued record in FIFO order. The swap
// happens under the lock, so a concurrent Enqueue lands either in the
// returned batch or in the now-empty queue, never in neither.
func (q *Queue[T]) DrainAll() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drainLocked()
}

// Drain is DrainAll that also returns the clear generation the batch was
// taken from, for use with RequeueFrontAt.
func (q *Queue[T]) Drain() ([]T, uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drainLocked(), q.generation
}

// RequeueFront puts an undelivered batch back ahead of everything queued
// since it was drained. Only the newest requeueCap records of the batch are
// kept; if the queue would then exceed capacity, further records are dropped
// oldest first. Returns how many records of the batch were dropped.
func (q *Queue[T]) RequeueFront(batch []T) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.requeueFrontLocked(batch)
}

// RequeueFrontAt is RequeueFront for a batch drained at generation gen. If
// the queue was cleared since, the whole batch is discarded and ok is false.
func (q *Queue[T]) RequeueFrontAt(gen uint64, batch []T) (dropped int, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.generation != gen {
		return len(batch), false
	}
	return q.requeueFrontLocked(batch), true
}

// Clear discards every queued record without delivering it and returns how
// many were discarded. Discards are not counted as drops. Batches drained
// before a Clear can no longer be requeued with RequeueFrontAt.
func (q *Queue[T]) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.count
	q.resetLocked()
	q.generation++
	return n
}

// Len returns the current number of queued records.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the maximum number of queued records.
func (q *Queue[T]) Cap() int { return q.capacity }

// RequeueCap returns the maximum number of records kept from a failed batch.
func (q *Queue[T]) RequeueCap() int { return q.requeueCap }

// Dropped returns the total number of records lost to overflow or the
// requeue cap.
func (q *Queue[T]) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *Queue[T]) drainLocked() []T {
	if q.count == 0 {
		return nil
	}
	batch := make([]T, q.count)
	for i := range batch {
		batch[i] = q.items[q.tail]
		q.tail = (q.tail + 1) % q.capacity
	}
	q.resetLocked()
	return batch
}

func (q *Queue[T]) requeueFrontLocked(batch []T) int {
	if len(batch) == 0 {
		return 0
	}
	keep := batch
	if len(keep) > q.requeueCap {
		keep = keep[len(keep)-q.requeueCap:]
	}
	if room := q.capacity - q.count; len(keep) > room {
		keep = keep[len(keep)-room:]
	}

	// Walk backwards so the batch keeps its original order at the head.
	for i := len(keep) - 1; i >= 0; i-- {
		q.tail = (q.tail - 1 + q.capacity) % q.capacity
		q.items[q.tail] = keep[i]
		q.count++
	}

	dropped := len(batch) - len(keep)
	q.dropped += int64(dropped)
	return dropped
}

func (q *Queue[T]) dropOldestLocked() {
	var zero T
	q.items[q.tail] = zero // release for GC
	q.tail = (q.tail + 1) % q.capacity
	q.count--
	q.dropped++
}

func (q *Queue[T]) resetLocked() {
	clear(q.items)
	q.head, q.tail, q.count = 0, 0, 0
}
