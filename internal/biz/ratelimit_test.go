package biz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket_StartsFull(t *testing.T) {
	clock := newManualClock()
	tb := NewTokenBucket("payments", RateLimiterConfig{
		Capacity:        5,
		RefillPerPeriod: 5,
		Period:          time.Second,
	}, clock)

	assert.Equal(t, int64(5), tb.Tokens())

	for i := 0; i < 5; i++ {
		require.NoError(t, tb.Allow(context.Background(), 1))
	}

	err := tb.Allow(context.Background(), 1)
	var limited *RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, "payments", limited.Dependency)
	assert.Equal(t, time.Second, limited.RetryAfter)
}

func TestTokenBucket_RefillsWholePeriodsOnly(t *testing.T) {
	clock := newManualClock()
	tb := NewTokenBucket("payments", RateLimiterConfig{
		Capacity:        10,
		RefillPerPeriod: 2,
		Period:          time.Second,
	}, clock)

	require.NoError(t, tb.Allow(context.Background(), 10))
	assert.Equal(t, int64(0), tb.Tokens())

	// 2.5 periods elapsed: only two whole periods are credited, the
	// fractional half second carries over.
	clock.Advance(2500 * time.Millisecond)
	assert.Equal(t, int64(4), tb.Tokens())

	clock.Advance(500 * time.Millisecond)
	assert.Equal(t, int64(6), tb.Tokens())
}

func TestTokenBucket_RefillCapsAtCapacity(t *testing.T) {
	clock := newManualClock()
	tb := NewTokenBucket("payments", RateLimiterConfig{
		Capacity:        10,
		RefillPerPeriod: 10,
		Period:          time.Second,
	}, clock)

	require.NoError(t, tb.Allow(context.Background(), 3))

	clock.Advance(time.Hour)
	assert.Equal(t, int64(10), tb.Tokens())
}

func TestTokenBucket_RetryAfterAccountsForElapsedTime(t *testing.T) {
	clock := newManualClock()
	tb := NewTokenBucket("payments", RateLimiterConfig{
		Capacity:        1,
		RefillPerPeriod: 1,
		Period:          time.Second,
	}, clock)

	require.NoError(t, tb.Allow(context.Background(), 1))

	clock.Advance(300 * time.Millisecond)

	err := tb.Allow(context.Background(), 1)
	var limited *RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, 700*time.Millisecond, limited.RetryAfter)
}

func TestTokenBucket_MaxWaitSleepsForRefill(t *testing.T) {
	clock := newManualClock()
	tb := NewTokenBucket("payments", RateLimiterConfig{
		Capacity:        1,
		RefillPerPeriod: 1,
		Period:          time.Second,
		MaxWait:         2 * time.Second,
	}, clock)

	require.NoError(t, tb.Allow(context.Background(), 1))

	done := make(chan error, 1)
	go func() {
		done <- tb.Allow(context.Background(), 1)
	}()

	require.Eventually(t, func() bool { return clock.pendingWaiters() == 1 },
		time.Second, time.Millisecond)
	clock.Advance(time.Second)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("allow did not return after the refill")
	}
	assert.Equal(t, int64(0), tb.Tokens())
}

func TestTokenBucket_MaxWaitShorterThanRefillRejects(t *testing.T) {
	clock := newManualClock()
	tb := NewTokenBucket("payments", RateLimiterConfig{
		Capacity:        1,
		RefillPerPeriod: 1,
		Period:          time.Second,
		MaxWait:         100 * time.Millisecond,
	}, clock)

	require.NoError(t, tb.Allow(context.Background(), 1))

	// The projected refill exceeds the wait budget: reject without
	// sleeping.
	err := tb.Allow(context.Background(), 1)
	var limited *RateLimitedError
	assert.ErrorAs(t, err, &limited)
	assert.Zero(t, clock.pendingWaiters())
}

func TestTokenBucket_ContextCancelDuringWait(t *testing.T) {
	clock := newManualClock()
	tb := NewTokenBucket("payments", RateLimiterConfig{
		Capacity:        1,
		RefillPerPeriod: 1,
		Period:          time.Second,
		MaxWait:         2 * time.Second,
	}, clock)

	require.NoError(t, tb.Allow(context.Background(), 1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- tb.Allow(ctx, 1)
	}()

	require.Eventually(t, func() bool { return clock.pendingWaiters() == 1 },
		time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("allow did not abort on context cancel")
	}
}
