// Package alert delivers abuse events from the limiters to an external sink.
//
// Delivery is fire-and-forget with no retry: a slow or failing sink must
// never delay or fail the consume path. Failures are swallowed by the sink
// implementation and optionally logged.
package alert

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"quell/internal/limiter/models"
)

// Sink receives abuse alerts. Implementations own their failure handling;
// Notify must not block the caller.
type Sink interface {
	Notify(ctx context.Context, event models.AlertEvent)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Notify(context.Context, models.AlertEvent) {}

// SlogSink logs alerts as structured audit-style events.
type SlogSink struct {
	logger *slog.Logger
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Notify(ctx context.Context, event models.AlertEvent) {
	s.logger.WarnContext(ctx, "abuse_alert",
		"alert_id", event.ID,
		"key", event.Key,
		"limiter_kind", event.LimiterKind,
		"reason", event.Reason,
		"observed_rate", event.ObservedRate,
		"limit", event.Limit,
		"severity", event.Severity,
		"occurred_at", event.OccurredAt,
		"log_type", "audit",
	)
}

// AsyncSink decouples alert delivery from the consume path with a bounded
// buffer. When the buffer is full events are dropped, never queued against
// the caller.
type AsyncSink struct {
	next    Sink
	events  chan models.AlertEvent
	wg      sync.WaitGroup
	logger  *slog.Logger
	dropped atomic.Int64

	mu     sync.RWMutex // guards closed against concurrent Notify/Close
	closed bool
}

// AsyncOption configures the AsyncSink.
type AsyncOption func(*AsyncSink)

// WithAsyncLogger sets a logger for drop reporting.
func WithAsyncLogger(logger *slog.Logger) AsyncOption {
	return func(s *AsyncSink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBuffer overrides the default buffer size of 256.
func WithBuffer(size int) AsyncOption {
	return func(s *AsyncSink) {
		if size > 0 {
			s.events = make(chan models.AlertEvent, size)
		}
	}
}

// NewAsync wraps next with a background delivery goroutine.
func NewAsync(next Sink, opts ...AsyncOption) *AsyncSink {
	s := &AsyncSink{
		next:   next,
		events: make(chan models.AlertEvent, 256),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.wg.Add(1)
	go s.deliver()
	return s
}

func (s *AsyncSink) deliver() {
	defer s.wg.Done()
	for event := range s.events {
		// Detached context: delivery outlives the request that raised the alert.
		s.next.Notify(context.Background(), event)
	}
}

// Notify enqueues the event, dropping it if the buffer is full or the sink
// is closed.
func (s *AsyncSink) Notify(_ context.Context, event models.AlertEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.events <- event:
	default:
		n := s.dropped.Add(1)
		s.logger.Warn("alert dropped, buffer full",
			"alert_id", event.ID,
			"reason", event.Reason,
			"dropped_total", n,
		)
	}
}

// Dropped returns the number of events discarded so far.
func (s *AsyncSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close drains pending events and stops the delivery goroutine.
func (s *AsyncSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.events)
	s.mu.Unlock()

	s.wg.Wait()
}
