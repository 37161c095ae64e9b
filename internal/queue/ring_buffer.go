// Package queue provides the bounded in-memory buffer between ingestion
// and the analysis pipeline. When the buffer is full new entries are
// dropped and counted rather than blocking the ingest path.
package queue

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"sentinel-soc/internal/schema"
)

var (
	// ErrQueueFull is returned when attempting to push to a full queue.
	ErrQueueFull = errors.New("queue is full")
	// ErrQueueEmpty is returned when attempting to pop from an empty queue.
	ErrQueueEmpty = errors.New("queue is empty")
	// ErrQueueClosed is returned when attempting to use a closed queue.
	ErrQueueClosed = errors.New("queue is closed")
)

// DefaultCapacity is used when no capacity is configured.
const DefaultCapacity = 10000

// RingBuffer is a thread-safe circular buffer of log entries.
type RingBuffer struct {
	buffer []*schema.LogEntry
	size   int
	head   int
	tail   int
	count  int
	closed bool
	mu     sync.Mutex
	cond   *sync.Cond

	// Metrics (accessed atomically)
	totalPushed  uint64
	totalPopped  uint64
	totalDropped uint64
}

// NewRingBuffer creates a ring buffer with the specified capacity.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = DefaultCapacity
	}

	rb := &RingBuffer{
		buffer: make([]*schema.LogEntry, size),
		size:   size,
	}
	rb.cond = sync.NewCond(&rb.mu)
	return rb
}

// Push adds an entry to the queue. Returns ErrQueueFull when at
// capacity; the drop is counted so ingestion can report backpressure.
func (rb *RingBuffer) Push(entry *schema.LogEntry) error {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.closed {
		return ErrQueueClosed
	}

	if rb.count == rb.size {
		atomic.AddUint64(&rb.totalDropped, 1)
		return ErrQueueFull
	}

	rb.buffer[rb.tail] = entry
	rb.tail = (rb.tail + 1) % rb.size
	rb.count++
	atomic.AddUint64(&rb.totalPushed, 1)

	rb.cond.Signal()
	return nil
}

// Pop removes and returns one entry, or ErrQueueEmpty.
func (rb *RingBuffer) Pop() (*schema.LogEntry, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count == 0 {
		return nil, ErrQueueEmpty
	}
	return rb.popLocked(), nil
}

// PopBlocking removes and returns one entry, blocking until one is
// available or the queue is closed and drained.
func (rb *RingBuffer) PopBlocking() (*schema.LogEntry, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for rb.count == 0 && !rb.closed {
		rb.cond.Wait()
	}

	if rb.closed && rb.count == 0 {
		return nil, ErrQueueClosed
	}
	return rb.popLocked(), nil
}

// PopBatch removes up to max entries in arrival order. It returns
// immediately with whatever is available; an empty queue yields an
// empty batch, not an error, so pollers can sleep on their own terms.
func (rb *RingBuffer) PopBatch(max int) ([]*schema.LogEntry, error) {
	if max <= 0 {
		return nil, nil
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.closed && rb.count == 0 {
		return nil, ErrQueueClosed
	}

	n := rb.count
	if n > max {
		n = max
	}
	batch := make([]*schema.LogEntry, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, rb.popLocked())
	}
	return batch, nil
}

// PopWithTimeout removes and returns one entry, waiting up to timeout.
// Returns ErrQueueEmpty when nothing arrived in time.
func (rb *RingBuffer) PopWithTimeout(timeout time.Duration) (*schema.LogEntry, error) {
	deadline := time.Now().Add(timeout)

	rb.mu.Lock()
	defer rb.mu.Unlock()

	for rb.count == 0 && !rb.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrQueueEmpty
		}

		// Wake the wait when the deadline passes.
		timer := time.AfterFunc(remaining, func() {
			rb.mu.Lock()
			rb.cond.Broadcast()
			rb.mu.Unlock()
		})
		rb.cond.Wait()
		timer.Stop()
	}

	if rb.closed && rb.count == 0 {
		return nil, ErrQueueClosed
	}
	if rb.count == 0 {
		return nil, ErrQueueEmpty
	}
	return rb.popLocked(), nil
}

// popLocked removes the head entry. Caller holds rb.mu and has checked
// count > 0.
func (rb *RingBuffer) popLocked() *schema.LogEntry {
	entry := rb.buffer[rb.head]
	rb.buffer[rb.head] = nil // Allow GC
	rb.head = (rb.head + 1) % rb.size
	rb.count--
	atomic.AddUint64(&rb.totalPopped, 1)
	return entry
}

// Len returns the current number of entries in the queue.
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Cap returns the capacity of the queue.
func (rb *RingBuffer) Cap() int {
	return rb.size
}

// IsFull returns true if the queue is at capacity.
func (rb *RingBuffer) IsFull() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count == rb.size
}

// IsEmpty returns true if the queue is empty.
func (rb *RingBuffer) IsEmpty() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count == 0
}

// Close closes the queue and wakes up any waiting consumers. Entries
// already buffered remain poppable until drained.
func (rb *RingBuffer) Close() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.closed = true
	rb.cond.Broadcast()
}

// Metrics returns queue statistics.
func (rb *RingBuffer) Metrics() QueueMetrics {
	return QueueMetrics{
		Pushed:   atomic.LoadUint64(&rb.totalPushed),
		Popped:   atomic.LoadUint64(&rb.totalPopped),
		Dropped:  atomic.LoadUint64(&rb.totalDropped),
		Depth:    rb.Len(),
		Capacity: rb.size,
	}
}

// QueueMetrics holds statistics about queue operations.
type QueueMetrics struct {
	Pushed   uint64 `json:"pushed"`
	Popped   uint64 `json:"popped"`
	Dropped  uint64 `json:"dropped"`
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
}
