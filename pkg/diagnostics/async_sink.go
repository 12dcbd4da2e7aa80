package diagnostics

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/polisai/polis-sandbox/pkg/domain"
	"github.com/polisai/polis-sandbox/pkg/telemetry"
)

// DefaultBuffer is the queue length used when NewAsyncSink receives a
// non-positive size.
const DefaultBuffer = 1024

// AsyncSink forwards records to another sink from a single background
// goroutine. Records arriving while the queue is full are dropped and counted.
type AsyncSink struct {
	next    domain.DiagnosticsSink
	logger  *slog.Logger
	queue   chan domain.DiagnosticRecord
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

// NewAsyncSink starts the forwarding goroutine. Close must be called to stop it.
func NewAsyncSink(next domain.DiagnosticsSink, buffer int, logger *slog.Logger) *AsyncSink {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &AsyncSink{
		next:   next,
		logger: logger,
		queue:  make(chan domain.DiagnosticRecord, buffer),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for rec := range s.queue {
		s.forward(rec)
	}
}

func (s *AsyncSink) forward(rec domain.DiagnosticRecord) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("Diagnostics consumer panicked", "panic", r)
		}
	}()
	// The caller's context may be gone by now.
	s.next.Record(context.Background(), rec)
}

// Record implements domain.DiagnosticsSink.
func (s *AsyncSink) Record(ctx context.Context, rec domain.DiagnosticRecord) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	select {
	case s.queue <- rec:
	default:
		s.dropped.Add(1)
		telemetry.RecordDiagnosticsDropped(ctx, 1)
	}
}

// Dropped returns the number of records discarded because the queue was full.
func (s *AsyncSink) Dropped() uint64 {
	return s.dropped.Load()
}

// Close stops accepting records and waits until queued ones are delivered or
// ctx ends.
func (s *AsyncSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
