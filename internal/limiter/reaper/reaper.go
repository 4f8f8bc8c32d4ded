// Package reaper evicts idle per-key limiter state on a fixed interval so
// memory stays bounded under churning client populations. The sweep interval
// is configuration-supplied and independent of window or bucket sizing.
package reaper

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"quell/internal/limiter/clock"
	"quell/internal/limiter/metrics"
)

// Target is a store that can evict its idle keys. Both limiter strategies
// implement it; eviction serializes with in-flight consume calls through the
// store's own per-shard locks.
type Target interface {
	Name() string
	Reap(now time.Time) (evicted int)
}

// Option configures the Reaper.
type Option func(*Reaper)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reaper) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithInterval(interval time.Duration) Option {
	return func(r *Reaper) {
		if interval > 0 {
			r.interval = interval
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(r *Reaper) {
		if c != nil {
			r.clock = c
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reaper) {
		r.metrics = m
	}
}

// Reaper periodically sweeps its targets. It holds no locks of its own;
// each target yields between shards so sweeps never starve consume calls.
type Reaper struct {
	targets   []Target
	logger    *slog.Logger
	clock     clock.Clock
	interval  time.Duration
	metrics   *metrics.Metrics
	lastSweep atomic.Int64 // unix nanos of the last completed sweep
}

// New builds a reaper over the given targets with a 1 minute default interval.
func New(targets []Target, opts ...Option) *Reaper {
	r := &Reaper{
		targets:  targets,
		logger:   slog.Default(),
		clock:    clock.System(),
		interval: time.Minute,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start runs the sweep loop until the context is cancelled.
func (r *Reaper) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			evicted := r.RunOnce(ctx)
			duration := time.Since(start)

			r.logger.Info("reaper_sweep_completed",
				"evicted_keys", evicted,
				"duration_ms", duration.Milliseconds(),
			)
			r.metrics.RecordReaperRun("success", duration.Seconds())
			r.lastSweep.Store(r.clock.Now().UnixNano())

		case <-ctx.Done():
			r.logger.Info("reaper stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

// LastSweep reports when the loop last completed a sweep, or the zero time
// if it has not run yet. Health probes use it to detect a stalled loop.
func (r *Reaper) LastSweep() time.Time {
	n := r.lastSweep.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// RunOnce executes a single sweep over all targets and returns the total
// number of evicted keys. Tests call it directly with a fake clock.
func (r *Reaper) RunOnce(ctx context.Context) (evicted int) {
	now := r.clock.Now()
	for _, target := range r.targets {
		if ctx.Err() != nil {
			return evicted
		}
		n := target.Reap(now)
		evicted += n
		r.metrics.RecordReaperEvictions(target.Name(), n)
	}
	return evicted
}
