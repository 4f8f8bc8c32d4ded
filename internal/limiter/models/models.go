package models

import (
	"time"

	"github.com/google/uuid"

	dErrors "quell/pkg/domain-errors"
)

// LimiterKind identifies the admission strategy that produced a result or alert.
type LimiterKind string

const (
	KindSlidingWindow LimiterKind = "sliding_window"
	KindTokenBucket   LimiterKind = "token_bucket"
)

func (k LimiterKind) IsValid() bool {
	return k == KindSlidingWindow || k == KindTokenBucket
}

func (k LimiterKind) String() string {
	return string(k)
}

// EndpointClass groups endpoints that share admission limits.
type EndpointClass string

const (
	// ClassAuth: authentication endpoints - strictest limits
	ClassAuth EndpointClass = "auth"
	// ClassSensitive: mutations with side effects beyond the caller's own data
	ClassSensitive EndpointClass = "sensitive"
	// ClassRead: read operations - most permissive
	ClassRead EndpointClass = "read"
	// ClassWrite: general mutations
	ClassWrite EndpointClass = "write"
)

func (c EndpointClass) IsValid() bool {
	switch c {
	case ClassAuth, ClassSensitive, ClassRead, ClassWrite:
		return true
	}
	return false
}

// Tier is the caller's service tier. Policy maps tiers to limiter
// instances and request weights; the limiters themselves are tier-agnostic.
type Tier string

const (
	TierAnonymous Tier = "anonymous"
	TierFree      Tier = "free"
	TierStandard  Tier = "standard"
	TierInternal  Tier = "internal"
)

func (t Tier) IsValid() bool {
	switch t {
	case TierAnonymous, TierFree, TierStandard, TierInternal:
		return true
	}
	return false
}

// ConsumeResult is the outcome of a single admission check.
// Denial is a normal value, never an error.
type ConsumeResult struct {
	Allowed    bool          `json:"allowed"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter time.Duration `json:"retry_after,omitempty"` // only set when not allowed
}

// Severity grades abuse alerts for downstream routing.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Alert reasons emitted by the limiters.
const (
	ReasonRateLimitAbuse   = "rate_limit_abuse"
	ReasonTokenBucketAbuse = "token_bucket_abuse"
)

// AlertEvent is published when a key's violation pattern crosses an abuse
// threshold. Ownership passes to the sink on publish; the limiters keep
// no reference to it.
type AlertEvent struct {
	ID           string      `json:"id"`
	Key          string      `json:"key"`
	LimiterKind  LimiterKind `json:"limiter_kind"`
	Reason       string      `json:"reason"`
	ObservedRate float64     `json:"observed_rate"`
	Limit        float64     `json:"limit"`
	Severity     Severity    `json:"severity"`
	OccurredAt   time.Time   `json:"occurred_at"`
}

// NewAlertEvent creates an AlertEvent with domain invariant validation.
func NewAlertEvent(key string, kind LimiterKind, reason string, observedRate, limit float64, severity Severity, occurredAt time.Time) (*AlertEvent, error) {
	if key == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "alert key cannot be empty")
	}
	if !kind.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "invalid limiter kind")
	}
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "alert reason cannot be empty")
	}
	if !severity.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "invalid alert severity")
	}

	return &AlertEvent{
		ID:           uuid.NewString(),
		Key:          key,
		LimiterKind:  kind,
		Reason:       reason,
		ObservedRate: observedRate,
		Limit:        limit,
		Severity:     severity,
		OccurredAt:   occurredAt,
	}, nil
}
