package biz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// immediateRetryConfig retries without backoff so tests run without
// advancing the clock.
func immediateRetryConfig(maxAttempts int) RetryConfig {
	return RetryConfig{MaxAttempts: maxAttempts, Multiplier: 2}
}

func TestRetrier_SuccessOnFirstAttempt(t *testing.T) {
	r := NewRetrier(newManualClock())

	attempts := 0
	result, err := r.Do(context.Background(), immediateRetryConfig(3), func(attempt int) (interface{}, error) {
		attempts++
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, attempts)
}

func TestRetrier_RetriesUntilSuccess(t *testing.T) {
	r := NewRetrier(newManualClock())

	attempts := 0
	result, err := r.Do(context.Background(), immediateRetryConfig(3), func(attempt int) (interface{}, error) {
		attempts++
		if attempt < 3 {
			return nil, errors.New("transient")
		}
		return "recovered", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, 3, attempts)
}

func TestRetrier_ExhaustionReturnsLastError(t *testing.T) {
	r := NewRetrier(newManualClock())

	attempts := 0
	_, err := r.Do(context.Background(), immediateRetryConfig(3), func(attempt int) (interface{}, error) {
		attempts++
		return nil, errors.New("still broken")
	})

	require.EqualError(t, err, "still broken")
	assert.Equal(t, 3, attempts)
}

func TestRetrier_AdmissionRejectionsAreTerminal(t *testing.T) {
	r := NewRetrier(newManualClock())

	for _, rejection := range []error{
		&RateLimitedError{Dependency: "payments"},
		&BulkheadFullError{Dependency: "payments"},
		&CircuitOpenError{Dependency: "payments"},
	} {
		attempts := 0
		_, err := r.Do(context.Background(), immediateRetryConfig(5), func(attempt int) (interface{}, error) {
			attempts++
			return nil, rejection
		})

		assert.Equal(t, rejection, err)
		assert.Equal(t, 1, attempts, "admission rejection %T must not be retried", rejection)
	}
}

func TestRetrier_CustomRetryIf(t *testing.T) {
	r := NewRetrier(newManualClock())
	terminal := errors.New("schema mismatch")

	cfg := immediateRetryConfig(5)
	cfg.RetryIf = func(err error) bool { return !errors.Is(err, terminal) }

	attempts := 0
	_, err := r.Do(context.Background(), cfg, func(attempt int) (interface{}, error) {
		attempts++
		return nil, terminal
	})

	assert.ErrorIs(t, err, terminal)
	assert.Equal(t, 1, attempts)
}

func TestRetrier_ZeroMaxAttemptsStillRunsOnce(t *testing.T) {
	r := NewRetrier(newManualClock())

	attempts := 0
	_, err := r.Do(context.Background(), RetryConfig{}, func(attempt int) (interface{}, error) {
		attempts++
		return nil, errors.New("boom")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetrier_ContextCancelDuringBackoff(t *testing.T) {
	clock := newManualClock()
	r := NewRetrier(clock)

	ctx, cancel := context.WithCancel(context.Background())

	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Hour, Multiplier: 2}
	attempts := 0
	_, err := r.Do(ctx, cfg, func(attempt int) (interface{}, error) {
		attempts++
		cancel()
		return nil, errors.New("transient")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts, "backoff must abort before the next attempt")
}

func TestBackoffDelay_ExponentialGrowthCappedAtMax(t *testing.T) {
	cfg := RetryConfig{
		BaseDelay:  100 * time.Millisecond,
		Multiplier: 2,
		MaxDelay:   5 * time.Second,
	}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{6, 3200 * time.Millisecond},
		{7, 5 * time.Second},
		{20, 5 * time.Second},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, backoffDelay(c.attempt, cfg), "attempt %d", c.attempt)
	}
}

func TestBackoffDelay_NoMaxMeansUnbounded(t *testing.T) {
	cfg := RetryConfig{BaseDelay: time.Second, Multiplier: 2}
	assert.Equal(t, 8*time.Second, backoffDelay(4, cfg))
}

func TestApplyJitter_Bounds(t *testing.T) {
	delay := time.Second
	factor := 0.2

	low := applyJitter(delay, factor, func() float64 { return 0 })
	high := applyJitter(delay, factor, func() float64 { return 1 })
	mid := applyJitter(delay, factor, func() float64 { return 0.5 })

	assert.Equal(t, 800*time.Millisecond, low)
	assert.Equal(t, 1200*time.Millisecond, high)
	assert.Equal(t, time.Second, mid)
}

func TestApplyJitter_DisabledByZeroFactor(t *testing.T) {
	assert.Equal(t, time.Second, applyJitter(time.Second, 0, func() float64 { return 1 }))
}
