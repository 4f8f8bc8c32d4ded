// Package window implements sliding-window admission control: each key keeps
// the timestamps of its admitted requests inside a trailing window and a new
// request is admitted only while the weighted count stays under the ceiling.
package window

import (
	"context"
	"log/slog"
	"time"

	"quell/internal/limiter/alert"
	"quell/internal/limiter/clock"
	"quell/internal/limiter/metrics"
	"quell/internal/limiter/models"
	"quell/internal/limiter/store"
	dErrors "quell/pkg/domain-errors"
)

// Config holds sliding-window parameters. Window and MaxRequests are
// required; the rest default in New.
type Config struct {
	// Window is the trailing interval over which requests are counted.
	Window time.Duration
	// MaxRequests is the admitted weight-unit ceiling per window.
	MaxRequests int
	// AbuseFactor scales MaxRequests into the abuse-alert threshold:
	// a denial fires an alert when the observed attempt count inside the
	// window exceeds AbuseFactor * MaxRequests. Defaults to 2.
	AbuseFactor float64
	// IdleThreshold is how long a key must sit with an empty window before
	// the reaper may evict it. Defaults to 3 * Window.
	IdleThreshold time.Duration
}

// entry is the per-key state. admitted carries one timestamp per admitted
// weight unit and is the quota-bearing state; attempts additionally includes
// denied weight units and only feeds abuse detection. Denials never touch
// admitted, so a denied call cannot change the admission outcome of the next.
type entry struct {
	admitted []time.Time
	attempts []time.Time
	lastSeen time.Time
}

// truncate drops timestamps at or before windowStart. The window is the
// half-open interval (windowStart, now].
func truncate(ts []time.Time, windowStart time.Time) []time.Time {
	i := 0
	for ; i < len(ts); i++ {
		if ts[i].After(windowStart) {
			break
		}
	}
	return ts[i:]
}

// Limiter is a sliding-window admission controller.
type Limiter struct {
	cfg     Config
	clock   clock.Clock
	sink    alert.Sink
	metrics *metrics.Metrics
	logger  *slog.Logger
	store   *store.Store[entry]
}

// Option configures the limiter.
type Option func(*Limiter)

func WithClock(c clock.Clock) Option {
	return func(l *Limiter) {
		if c != nil {
			l.clock = c
		}
	}
}

func WithSink(s alert.Sink) Option {
	return func(l *Limiter) {
		if s != nil {
			l.sink = s
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New validates the configuration and builds a limiter. Non-positive window
// or ceiling is fatal here, never at consume time.
func New(cfg Config, opts ...Option) (*Limiter, error) {
	if cfg.Window <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "window must be positive")
	}
	if cfg.MaxRequests <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "max requests must be positive")
	}
	if cfg.AbuseFactor < 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "abuse factor cannot be negative")
	}
	if cfg.AbuseFactor == 0 {
		cfg.AbuseFactor = 2
	}
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = 3 * cfg.Window
	}

	l := &Limiter{
		cfg:    cfg,
		clock:  clock.System(),
		sink:   alert.NopSink{},
		logger: slog.Default(),
		store:  store.New[entry](),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Kind reports the strategy identity.
func (l *Limiter) Kind() models.LimiterKind {
	return models.KindSlidingWindow
}

// Limit returns the configured per-window ceiling.
func (l *Limiter) Limit() int {
	return l.cfg.MaxRequests
}

// Consume decides admission for one request of the given weight. Denial is
// returned as a value; the only errors are invalid arguments.
func (l *Limiter) Consume(ctx context.Context, key string, weight int) (*models.ConsumeResult, error) {
	if key == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "key cannot be empty")
	}
	if weight <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "weight must be positive")
	}

	now := l.clock.Now()
	windowStart := now.Add(-l.cfg.Window)

	var (
		result   models.ConsumeResult
		observed int
	)

	l.store.Update(key, func() *entry { return &entry{} }, func(e *entry) {
		e.admitted = truncate(e.admitted, windowStart)
		e.attempts = truncate(e.attempts, windowStart)
		e.lastSeen = now

		// Abuse detection tracks every attempted weight unit, denied or not.
		for i := 0; i < weight; i++ {
			e.attempts = append(e.attempts, now)
		}
		observed = len(e.attempts)

		count := len(e.admitted)
		if count+weight > l.cfg.MaxRequests {
			resetAt := now.Add(l.cfg.Window)
			if count > 0 {
				resetAt = e.admitted[0].Add(l.cfg.Window)
			}
			result = models.ConsumeResult{
				Allowed:    false,
				Limit:      l.cfg.MaxRequests,
				Remaining:  0,
				ResetAt:    resetAt,
				RetryAfter: resetAt.Sub(now),
			}
			return
		}

		for i := 0; i < weight; i++ {
			e.admitted = append(e.admitted, now)
		}
		result = models.ConsumeResult{
			Allowed:   true,
			Limit:     l.cfg.MaxRequests,
			Remaining: l.cfg.MaxRequests - count - weight,
			ResetAt:   now.Add(l.cfg.Window),
		}
	})

	l.metrics.RecordDecision(string(models.KindSlidingWindow), result.Allowed)

	// The alert fires outside the store lock; the sink is fire-and-forget.
	if !result.Allowed && float64(observed) > l.cfg.AbuseFactor*float64(l.cfg.MaxRequests) {
		l.raiseAbuseAlert(ctx, key, observed, now)
	}

	return &result, nil
}

func (l *Limiter) raiseAbuseAlert(ctx context.Context, key string, observed int, now time.Time) {
	event, err := models.NewAlertEvent(key, models.KindSlidingWindow, models.ReasonRateLimitAbuse,
		float64(observed), float64(l.cfg.MaxRequests), models.SeverityHigh, now)
	if err != nil {
		l.logger.ErrorContext(ctx, "failed to build abuse alert", "error", err, "key", key)
		return
	}
	l.metrics.RecordAbuseAlert(models.ReasonRateLimitAbuse)
	l.sink.Notify(ctx, *event)
}

// Reset discards all state for a key. The next request behaves like first use.
func (l *Limiter) Reset(_ context.Context, key string) {
	l.store.Delete(key)
}

// Snapshot is a point-in-time view of a key's window, used by the admin surface.
type Snapshot struct {
	Count     int `json:"count"`
	Remaining int `json:"remaining"`
}

// Peek reports a key's current window occupancy without consuming quota.
func (l *Limiter) Peek(_ context.Context, key string) (Snapshot, bool) {
	now := l.clock.Now()
	windowStart := now.Add(-l.cfg.Window)

	var snap Snapshot
	found := l.store.View(key, func(e *entry) {
		e.admitted = truncate(e.admitted, windowStart)
		snap.Count = len(e.admitted)
		snap.Remaining = l.cfg.MaxRequests - snap.Count
	})
	return snap, found
}

// Reap evicts keys whose window is empty and which have been idle past the
// threshold, returning the number removed. A reaped key reused later starts
// fresh, indistinguishable from first use.
func (l *Limiter) Reap(now time.Time) int {
	windowStart := now.Add(-l.cfg.Window)
	evicted := l.store.Sweep(func(_ string, e *entry) bool {
		e.admitted = truncate(e.admitted, windowStart)
		e.attempts = truncate(e.attempts, windowStart)
		return len(e.admitted) == 0 && len(e.attempts) == 0 &&
			now.Sub(e.lastSeen) > l.cfg.IdleThreshold
	})
	l.metrics.SetTrackedKeys(string(models.KindSlidingWindow), l.store.Len())
	return evicted
}

// Name identifies this limiter in reaper logs.
func (l *Limiter) Name() string {
	return string(models.KindSlidingWindow)
}
