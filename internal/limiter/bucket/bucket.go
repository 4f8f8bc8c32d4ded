// Package bucket implements token-bucket admission control: each key holds a
// real-valued token count that refills continuously and is debited per
// admitted request. Refill is computed lazily on every consume, so
// correctness never depends on background scheduling.
package bucket

import (
	"context"
	"log/slog"
	"math"
	"time"

	"quell/internal/limiter/alert"
	"quell/internal/limiter/clock"
	"quell/internal/limiter/metrics"
	"quell/internal/limiter/models"
	"quell/internal/limiter/store"
	dErrors "quell/pkg/domain-errors"
)

// Config holds token-bucket parameters. Capacity and RefillRate are
// required; the rest default in New.
type Config struct {
	// Capacity is the maximum token count, and also the burst a fresh key
	// may spend immediately: buckets are created full.
	Capacity float64
	// RefillRate is tokens added per second of elapsed time.
	RefillRate float64
	// AbuseCostFraction scales Capacity into the abuse-alert threshold:
	// a denied cost above AbuseCostFraction * Capacity fires an alert.
	// Defaults to 0.8.
	AbuseCostFraction float64
	// IdleThreshold is how long a bucket may go untouched before the reaper
	// evicts it. Defaults to triple the full-refill time.
	IdleThreshold time.Duration
}

// entry is the per-key bucket state. Invariant: 0 <= tokens <= capacity.
type entry struct {
	tokens     float64
	lastRefill time.Time
}

// Limiter is a token-bucket admission controller.
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

// New validates the configuration and builds a limiter. Non-positive
// capacity or refill rate is fatal here, never at consume time.
func New(cfg Config, opts ...Option) (*Limiter, error) {
	if cfg.Capacity <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "capacity must be positive")
	}
	if cfg.RefillRate <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "refill rate must be positive")
	}
	if cfg.AbuseCostFraction < 0 || cfg.AbuseCostFraction > 1 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "abuse cost fraction must be in [0, 1]")
	}
	if cfg.AbuseCostFraction == 0 {
		cfg.AbuseCostFraction = 0.8
	}
	if cfg.IdleThreshold <= 0 {
		fullRefill := time.Duration(cfg.Capacity / cfg.RefillRate * float64(time.Second))
		cfg.IdleThreshold = 3 * fullRefill
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
	return models.KindTokenBucket
}

// Limit returns the bucket capacity as whole quota units.
func (l *Limiter) Limit() int {
	return int(l.cfg.Capacity)
}

// Consume decides admission for one request costing the given number of
// tokens. Refill always applies before the check; a denied call deducts
// nothing.
func (l *Limiter) Consume(ctx context.Context, key string, cost int) (*models.ConsumeResult, error) {
	if key == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "key cannot be empty")
	}
	if cost <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "cost must be positive")
	}

	now := l.clock.Now()
	var result models.ConsumeResult

	l.store.Update(key, func() *entry {
		// Fresh buckets start full, allowing an initial burst up to capacity.
		return &entry{tokens: l.cfg.Capacity, lastRefill: now}
	}, func(e *entry) {
		elapsed := now.Sub(e.lastRefill).Seconds()
		if elapsed > 0 {
			e.tokens = math.Min(l.cfg.Capacity, e.tokens+elapsed*l.cfg.RefillRate)
		}
		e.lastRefill = now

		fcost := float64(cost)
		if e.tokens < fcost {
			retryAfter := time.Duration(math.Ceil((fcost-e.tokens)/l.cfg.RefillRate*1000)) * time.Millisecond
			result = models.ConsumeResult{
				Allowed:    false,
				Limit:      int(l.cfg.Capacity),
				Remaining:  int(math.Floor(e.tokens)),
				ResetAt:    fullAt(now, e.tokens, l.cfg),
				RetryAfter: retryAfter,
			}
			return
		}

		e.tokens -= fcost
		result = models.ConsumeResult{
			Allowed:   true,
			Limit:     int(l.cfg.Capacity),
			Remaining: int(math.Floor(e.tokens)),
			ResetAt:   fullAt(now, e.tokens, l.cfg),
		}
	})

	l.metrics.RecordDecision(string(models.KindTokenBucket), result.Allowed)

	// The alert fires outside the store lock; the sink is fire-and-forget.
	if !result.Allowed && float64(cost) > l.cfg.AbuseCostFraction*l.cfg.Capacity {
		l.raiseAbuseAlert(ctx, key, cost, now)
	}

	return &result, nil
}

// fullAt is the instant the bucket refills back to capacity.
func fullAt(now time.Time, tokens float64, cfg Config) time.Time {
	deficit := cfg.Capacity - tokens
	if deficit <= 0 {
		return now
	}
	return now.Add(time.Duration(deficit / cfg.RefillRate * float64(time.Second)))
}

func (l *Limiter) raiseAbuseAlert(ctx context.Context, key string, cost int, now time.Time) {
	event, err := models.NewAlertEvent(key, models.KindTokenBucket, models.ReasonTokenBucketAbuse,
		float64(cost), l.cfg.Capacity, models.SeverityHigh, now)
	if err != nil {
		l.logger.ErrorContext(ctx, "failed to build abuse alert", "error", err, "key", key)
		return
	}
	l.metrics.RecordAbuseAlert(models.ReasonTokenBucketAbuse)
	l.sink.Notify(ctx, *event)
}

// Reset discards all state for a key. The next request sees a full bucket.
func (l *Limiter) Reset(_ context.Context, key string) {
	l.store.Delete(key)
}

// Snapshot is a point-in-time view of a key's bucket, used by the admin surface.
type Snapshot struct {
	Tokens    float64 `json:"tokens"`
	Remaining int     `json:"remaining"`
}

// Peek reports a key's current token level without consuming anything.
func (l *Limiter) Peek(_ context.Context, key string) (Snapshot, bool) {
	now := l.clock.Now()

	var snap Snapshot
	found := l.store.View(key, func(e *entry) {
		tokens := e.tokens
		if elapsed := now.Sub(e.lastRefill).Seconds(); elapsed > 0 {
			tokens = math.Min(l.cfg.Capacity, tokens+elapsed*l.cfg.RefillRate)
		}
		snap.Tokens = tokens
		snap.Remaining = int(math.Floor(tokens))
	})
	return snap, found
}

// Reap evicts buckets untouched for longer than the idle threshold,
// returning the number removed. A reaped key reused later starts with a
// full bucket, indistinguishable from first use.
func (l *Limiter) Reap(now time.Time) int {
	evicted := l.store.Sweep(func(_ string, e *entry) bool {
		return now.Sub(e.lastRefill) > l.cfg.IdleThreshold
	})
	l.metrics.SetTrackedKeys(string(models.KindTokenBucket), l.store.Len())
	return evicted
}

// Name identifies this limiter in reaper logs.
func (l *Limiter) Name() string {
	return string(models.KindTokenBucket)
}
