package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "quell/pkg/domain-errors"
)

func TestNewAlertEvent(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	event, err := NewAlertEvent("ip:203.0.113.9:auth", KindSlidingWindow, ReasonRateLimitAbuse, 25, 10, SeverityHigh, now)
	require.NoError(t, err)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "ip:203.0.113.9:auth", event.Key)
	assert.Equal(t, KindSlidingWindow, event.LimiterKind)
	assert.Equal(t, ReasonRateLimitAbuse, event.Reason)
	assert.Equal(t, 25.0, event.ObservedRate)
	assert.Equal(t, 10.0, event.Limit)
	assert.Equal(t, SeverityHigh, event.Severity)
	assert.Equal(t, now, event.OccurredAt)

	other, err := NewAlertEvent("ip:203.0.113.9:auth", KindSlidingWindow, ReasonRateLimitAbuse, 25, 10, SeverityHigh, now)
	require.NoError(t, err)
	assert.NotEqual(t, event.ID, other.ID, "every alert gets its own identity")
}

func TestNewAlertEvent_InvariantViolations(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		run  func() (*AlertEvent, error)
	}{
		{
			name: "empty key",
			run: func() (*AlertEvent, error) {
				return NewAlertEvent("", KindTokenBucket, ReasonTokenBucketAbuse, 9, 10, SeverityHigh, now)
			},
		},
		{
			name: "invalid kind",
			run: func() (*AlertEvent, error) {
				return NewAlertEvent("k", LimiterKind("leaky"), ReasonTokenBucketAbuse, 9, 10, SeverityHigh, now)
			},
		},
		{
			name: "empty reason",
			run: func() (*AlertEvent, error) {
				return NewAlertEvent("k", KindTokenBucket, "", 9, 10, SeverityHigh, now)
			},
		},
		{
			name: "invalid severity",
			run: func() (*AlertEvent, error) {
				return NewAlertEvent("k", KindTokenBucket, ReasonTokenBucketAbuse, 9, 10, Severity("urgent"), now)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := tt.run()
			assert.Nil(t, event)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
		})
	}
}

func TestEnumValidity(t *testing.T) {
	assert.True(t, KindSlidingWindow.IsValid())
	assert.True(t, KindTokenBucket.IsValid())
	assert.False(t, LimiterKind("fixed_window").IsValid())

	for _, class := range []EndpointClass{ClassAuth, ClassSensitive, ClassRead, ClassWrite} {
		assert.True(t, class.IsValid(), class)
	}
	assert.False(t, EndpointClass("admin").IsValid())

	for _, tier := range []Tier{TierAnonymous, TierFree, TierStandard, TierInternal} {
		assert.True(t, tier.IsValid(), tier)
	}
	assert.False(t, Tier("platinum").IsValid())
}
