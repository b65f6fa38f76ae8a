package batch

import (
	"sync"
	"time"

	"github.com/garimto81/gfx-json/internal/domain"
)

// Accumulator buffers records destined for a bulk upsert under a size/time
// dual trigger. A drain always takes every buffered item at once; no item
// ever appears in two batches.
//
// The accumulator tracks time-since-last-flush but owns no timer; the
// orchestrator invokes Flush on its own schedule. All mutation goes through
// one mutex so the event path and the flush timer never produce
// overlapping batches.
type Accumulator struct {
	maxSize       int
	flushInterval time.Duration

	mu        sync.Mutex
	items     []*domain.ParsedRecord
	lastFlush time.Time
}

// NewAccumulator creates an accumulator that drains at maxSize buffered
// records, and reports Due after flushInterval has elapsed since the last
// drain.
func NewAccumulator(maxSize int, flushInterval time.Duration) *Accumulator {
	return &Accumulator{
		maxSize:       maxSize,
		flushInterval: flushInterval,
		items:         make([]*domain.ParsedRecord, 0, maxSize),
		lastFlush:     time.Now(),
	}
}

// Add buffers a record. When the size trigger fires on this call the whole
// buffer is drained and returned; otherwise nil is returned.
func (a *Accumulator) Add(record *domain.ParsedRecord) []*domain.ParsedRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.items = append(a.items, record)
	if len(a.items) >= a.maxSize {
		return a.drain()
	}
	return nil
}

// Flush drains and returns every buffered item. Returns nil when empty.
func (a *Accumulator) Flush() []*domain.ParsedRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.drain()
}

// FlushDue drains only if the time trigger has elapsed since the last drain.
func (a *Accumulator) FlushDue() []*domain.ParsedRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.items) == 0 || time.Since(a.lastFlush) < a.flushInterval {
		return nil
	}
	return a.drain()
}

// PendingCount returns the number of buffered records.
func (a *Accumulator) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.items)
}

// drain must be called with the mutex held
func (a *Accumulator) drain() []*domain.ParsedRecord {
	if len(a.items) == 0 {
		a.lastFlush = time.Now()
		return nil
	}
	batch := a.items
	a.items = make([]*domain.ParsedRecord, 0, a.maxSize)
	a.lastFlush = time.Now()
	return batch
}
