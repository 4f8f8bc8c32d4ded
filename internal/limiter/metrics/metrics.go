package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the admission-control engine.
type Metrics struct {
	Decisions             *prometheus.CounterVec
	AbuseAlerts           *prometheus.CounterVec
	TrackedKeys           *prometheus.GaugeVec
	ReaperRunsTotal       *prometheus.CounterVec
	ReaperEvictedTotal    *prometheus.CounterVec
	ReaperDurationSeconds prometheus.Histogram
}

// New registers limiter metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers limiter metrics on the given registerer.
// Tests pass a fresh registry to avoid duplicate registration.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quell_ratelimit_decisions_total",
			Help: "Total admission decisions by strategy and outcome",
		}, []string{"strategy", "outcome"}),
		AbuseAlerts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quell_ratelimit_abuse_alerts_total",
			Help: "Total abuse alerts raised by the limiters",
		}, []string{"reason"}),
		TrackedKeys: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "quell_ratelimit_tracked_keys",
			Help: "Current number of keys with live limiter state",
		}, []string{"strategy"}),
		ReaperRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quell_ratelimit_reaper_runs_total",
			Help: "Total number of reaper sweeps",
		}, []string{"status"}),
		ReaperEvictedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quell_ratelimit_reaper_evicted_keys_total",
			Help: "Total number of idle keys evicted by the reaper",
		}, []string{"strategy"}),
		ReaperDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "quell_ratelimit_reaper_duration_seconds",
			Help: "Duration of reaper sweeps in seconds",
		}),
	}
}

func (m *Metrics) RecordDecision(strategy string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.Decisions.WithLabelValues(strategy, outcome).Inc()
}

func (m *Metrics) RecordAbuseAlert(reason string) {
	if m == nil {
		return
	}
	m.AbuseAlerts.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetTrackedKeys(strategy string, count int) {
	if m == nil {
		return
	}
	m.TrackedKeys.WithLabelValues(strategy).Set(float64(count))
}

func (m *Metrics) RecordReaperRun(status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ReaperRunsTotal.WithLabelValues(status).Inc()
	m.ReaperDurationSeconds.Observe(durationSeconds)
}

func (m *Metrics) RecordReaperEvictions(strategy string, count int) {
	if m == nil {
		return
	}
	m.ReaperEvictedTotal.WithLabelValues(strategy).Add(float64(count))
}
