package biz

import (
	"context"
	"sync"
	"time"
)

// RateLimiterConfig describes one dependency's token bucket.
type RateLimiterConfig struct {
	Capacity        int64
	RefillPerPeriod int64
	Period          time.Duration
	// MaxWait optionally lets Allow wait for a refill instead of
	// rejecting outright, mirroring the bulkhead's wait semantics.
	MaxWait time.Duration
}

// TokenBucket is the per-dependency admission rate limiter. Tokens refill
// lazily on each check: only whole elapsed periods are credited and the
// refill timestamp advances by the consumed periods, so no fractional
// tokens leak across checks.
type TokenBucket struct {
	name  string
	cfg   RateLimiterConfig
	clock Clock

	mu         sync.Mutex
	tokens     int64
	lastRefill time.Time
}

// NewTokenBucket creates a bucket that starts full.
func NewTokenBucket(name string, cfg RateLimiterConfig, clock Clock) *TokenBucket {
	return &TokenBucket{
		name:       name,
		cfg:        cfg,
		clock:      clock,
		tokens:     cfg.Capacity,
		lastRefill: clock.Now(),
	}
}

// Allow consumes n tokens or rejects with *RateLimitedError. With MaxWait
// configured it sleeps for the projected refill when that fits in the
// wait budget, then re-checks once.
func (tb *TokenBucket) Allow(ctx context.Context, n int64) error {
	retryAfter, ok := tb.take(n)
	if ok {
		return nil
	}

	if tb.cfg.MaxWait > 0 && retryAfter <= tb.cfg.MaxWait {
		if err := sleep(ctx, tb.clock, retryAfter); err != nil {
			return err
		}
		if _, ok := tb.take(n); ok {
			return nil
		}
	}

	return &RateLimitedError{Dependency: tb.name, RetryAfter: retryAfter}
}

// take attempts to consume n tokens. On rejection it returns how long
// until enough tokens will have refilled.
func (tb *TokenBucket) take(n int64) (retryAfter time.Duration, ok bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens >= n {
		tb.tokens -= n
		return 0, true
	}

	missing := n - tb.tokens
	periods := (missing + tb.cfg.RefillPerPeriod - 1) / tb.cfg.RefillPerPeriod
	elapsed := tb.clock.Now().Sub(tb.lastRefill)
	return time.Duration(periods)*tb.cfg.Period - elapsed, false
}

// refill credits whole elapsed periods. Must be called with the lock held.
func (tb *TokenBucket) refill() {
	elapsed := tb.clock.Now().Sub(tb.lastRefill)
	if elapsed < tb.cfg.Period {
		return
	}

	periods := int64(elapsed / tb.cfg.Period)
	tb.tokens += periods * tb.cfg.RefillPerPeriod
	if tb.tokens > tb.cfg.Capacity {
		tb.tokens = tb.cfg.Capacity
	}
	tb.lastRefill = tb.lastRefill.Add(time.Duration(periods) * tb.cfg.Period)
}

// Tokens returns the current token count after refill.
func (tb *TokenBucket) Tokens() int64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return tb.tokens
}
