// Package decision translates a limiter's consume result into the metadata
// callers put on the wire: header values, reset epoch, retry hints, and a
// message naming the strategy that rejected the call. Pure functions, no state.
package decision

import (
	"fmt"
	"math"

	"quell/internal/limiter/models"
)

// Decision is the caller-facing view of a consume result.
type Decision struct {
	Allowed           bool   `json:"allowed"`
	Limit             int    `json:"limit"`
	Remaining         int    `json:"remaining"`
	ResetEpochSeconds int64  `json:"reset_epoch_seconds"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"` // only set on denial
	Message           string `json:"message,omitempty"`             // only set on denial
}

// From converts a ConsumeResult produced by the given strategy.
func From(result *models.ConsumeResult, kind models.LimiterKind) Decision {
	d := Decision{
		Allowed:           result.Allowed,
		Limit:             result.Limit,
		Remaining:         max(result.Remaining, 0),
		ResetEpochSeconds: result.ResetAt.Unix(),
	}
	if !result.Allowed {
		d.RetryAfterSeconds = retryAfterSeconds(result)
		d.Message = denialMessage(kind)
	}
	return d
}

// retryAfterSeconds rounds the retry hint up to whole seconds so a caller
// honoring Retry-After never retries early, with a floor of 1.
func retryAfterSeconds(result *models.ConsumeResult) int {
	secs := int(math.Ceil(result.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func denialMessage(kind models.LimiterKind) string {
	switch kind {
	case models.KindSlidingWindow:
		return "Request rate exceeds the sliding-window limit. Please retry later."
	case models.KindTokenBucket:
		return "Insufficient tokens for this request. Please retry later."
	default:
		return fmt.Sprintf("Request rejected by %s limiter.", kind)
	}
}
