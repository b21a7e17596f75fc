package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNextState(t *testing.T) {
	tests := []struct {
		name    string
		outcome AttemptOutcome
		attempt int
		want    RetryState
	}{
		{name: "success on first attempt", outcome: OutcomeSuccess, attempt: 1, want: StateSucceeded},
		{name: "success on last attempt", outcome: OutcomeSuccess, attempt: 3, want: StateSucceeded},
		{name: "retryable with budget left", outcome: OutcomeRetryable, attempt: 1, want: StateBackoff},
		{name: "retryable on second attempt", outcome: OutcomeRetryable, attempt: 2, want: StateBackoff},
		{name: "retryable on last attempt", outcome: OutcomeRetryable, attempt: 3, want: StateExhausted},
		{name: "fatal exhausts immediately", outcome: OutcomeFatal, attempt: 1, want: StateExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextState(tt.outcome, tt.attempt, 3))
		})
	}
}

func TestClassifyOutcome(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want AttemptOutcome
	}{
		{name: "nil error", err: nil, want: OutcomeSuccess},
		{name: "rate limit sentinel", err: ErrRateLimited, want: OutcomeRetryable},
		{name: "timeout sentinel", err: ErrTimeout, want: OutcomeRetryable},
		{name: "wrapped rate limit", err: errors.New("anthropic rate limit: try later"), want: OutcomeRetryable},
		{name: "timeout in message", err: errors.New("request timeout exceeded"), want: OutcomeRetryable},
		{name: "validation error", err: &ValidationError{Reason: "missing text"}, want: OutcomeFatal},
		{name: "arbitrary error", err: errors.New("boom"), want: OutcomeFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyOutcome(tt.err))
		})
	}
}

func newTestPolicy(clock Clock) *RetryPolicy {
	return &RetryPolicy{
		Timeout:     30 * time.Second,
		MaxAttempts: 3,
		BaseDelay:   15 * time.Second,
		Logger:      zap.NewNop(),
		Clock:       clock,
	}
}

func TestRetryPolicy_BackoffScheduleDoubles(t *testing.T) {
	clock := newFakeClock()
	policy := newTestPolicy(clock)

	var retries []time.Duration
	policy.OnRetry = func(attempt, maxAttempts int, delay time.Duration) {
		retries = append(retries, delay)
	}

	calls := 0
	_, err := policy.Do(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		return "", ErrRateLimited
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhaustedRetries)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{15 * time.Second, 30 * time.Second}, retries)
	assert.Equal(t, retries, clock.Sleeps())

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
}

func TestRetryPolicy_SucceedsAfterRetry(t *testing.T) {
	clock := newFakeClock()
	policy := newTestPolicy(clock)

	calls := 0
	value, err := policy.Do(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", ErrRateLimited
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", value)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{15 * time.Second}, clock.Sleeps())
}

func TestRetryPolicy_FatalErrorSkipsRetry(t *testing.T) {
	clock := newFakeClock()
	policy := newTestPolicy(clock)

	calls := 0
	fatal := &ValidationError{Reason: "bad payload"}
	_, err := policy.Do(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		return "", fatal
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.NotErrorIs(t, err, ErrExhaustedRetries)
	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)
	assert.Empty(t, clock.Sleeps())
}

func TestRetryPolicy_TimeoutAbandonsAttempt(t *testing.T) {
	clock := newFakeClock()
	clock.afterFires = true
	policy := newTestPolicy(clock)
	policy.MaxAttempts = 1

	var countdowns []int
	policy.OnCountdown = func(remaining, total int) {
		countdowns = append(countdowns, remaining)
	}

	block := make(chan struct{})
	defer close(block)
	_, err := policy.Do(context.Background(), func(ctx context.Context) (string, error) {
		<-block
		return "late", nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhaustedRetries)
	assert.ErrorIs(t, err, ErrTimeout)

	// Countdown starts at the full budget and ticks down once per second.
	require.NotEmpty(t, countdowns)
	assert.Equal(t, 30, countdowns[0])
	for i := 1; i < len(countdowns); i++ {
		assert.Equal(t, countdowns[i-1]-1, countdowns[i])
	}
}

func TestRetryPolicy_ContextCancelStopsBackoff(t *testing.T) {
	clock := newFakeClock()
	policy := newTestPolicy(clock)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := policy.Do(ctx, func(ctx context.Context) (string, error) {
		calls++
		cancel()
		return "", ErrRateLimited
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
