package decision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"quell/internal/limiter/models"
)

func TestFrom_Admission(t *testing.T) {
	resetAt := time.Unix(1700000123, 0)
	d := From(&models.ConsumeResult{
		Allowed:   true,
		Limit:     100,
		Remaining: 42,
		ResetAt:   resetAt,
	}, models.KindSlidingWindow)

	assert.True(t, d.Allowed)
	assert.Equal(t, 100, d.Limit)
	assert.Equal(t, 42, d.Remaining)
	assert.Equal(t, int64(1700000123), d.ResetEpochSeconds)
	assert.Zero(t, d.RetryAfterSeconds)
	assert.Empty(t, d.Message)
}

func TestFrom_Denial(t *testing.T) {
	tests := []struct {
		name       string
		kind       models.LimiterKind
		retryAfter time.Duration
		wantRetry  int
		wantInMsg  string
	}{
		{"sliding window rounds up", models.KindSlidingWindow, 700 * time.Millisecond, 1, "sliding-window"},
		{"token bucket whole seconds", models.KindTokenBucket, 3 * time.Second, 3, "tokens"},
		{"sub-second floor of one", models.KindTokenBucket, 10 * time.Millisecond, 1, "tokens"},
		{"partial seconds round up", models.KindSlidingWindow, 1500 * time.Millisecond, 2, "sliding-window"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := From(&models.ConsumeResult{
				Allowed:    false,
				Limit:      10,
				Remaining:  0,
				ResetAt:    time.Unix(1700000200, 0),
				RetryAfter: tt.retryAfter,
			}, tt.kind)

			assert.False(t, d.Allowed)
			assert.Equal(t, tt.wantRetry, d.RetryAfterSeconds)
			assert.Contains(t, d.Message, tt.wantInMsg)
		})
	}
}

func TestFrom_NegativeRemainingClamped(t *testing.T) {
	d := From(&models.ConsumeResult{
		Allowed:   false,
		Limit:     5,
		Remaining: -1,
		ResetAt:   time.Unix(1700000200, 0),
	}, models.KindTokenBucket)

	assert.Equal(t, 0, d.Remaining)
}
