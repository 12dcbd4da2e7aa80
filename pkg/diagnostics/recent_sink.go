package diagnostics

import (
	"context"
	"sync"

	"github.com/polisai/polis-sandbox/pkg/domain"
)

// DefaultRecent is the history length used when NewRecentSink receives a
// non-positive capacity.
const DefaultRecent = 256

// RecentSink keeps the most recent records in a fixed-size circular buffer,
// evicting the oldest first.
type RecentSink struct {
	records  []domain.DiagnosticRecord
	head     int // oldest
	tail     int // next insert
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewRecentSink creates a sink retaining up to capacity records.
func NewRecentSink(capacity int) *RecentSink {
	if capacity <= 0 {
		capacity = DefaultRecent
	}
	return &RecentSink{
		records:  make([]domain.DiagnosticRecord, capacity),
		capacity: capacity,
	}
}

// Record implements domain.DiagnosticsSink.
func (r *RecentSink) Record(_ context.Context, rec domain.DiagnosticRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[r.tail] = rec
	r.tail = (r.tail + 1) % r.capacity

	if r.size < r.capacity {
		r.size++
	} else {
		r.head = (r.head + 1) % r.capacity
	}
}

// All returns the retained records from oldest to newest.
func (r *RecentSink) All() []domain.DiagnosticRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.DiagnosticRecord, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.records[(r.head+i)%r.capacity])
	}
	return out
}

// Last returns up to n records, newest first.
func (r *RecentSink) Last(n int) []domain.DiagnosticRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]domain.DiagnosticRecord, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.tail - 1 - i + 2*r.capacity) % r.capacity
		out = append(out, r.records[idx])
	}
	return out
}

// Len returns the number of retained records.
func (r *RecentSink) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Capacity returns the maximum number of retained records.
func (r *RecentSink) Capacity() int {
	return r.capacity
}

// Clear removes every retained record.
func (r *RecentSink) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.records)
	r.head = 0
	r.tail = 0
	r.size = 0
}
