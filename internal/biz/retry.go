package biz

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// RetryConfig is the immutable retry policy for one dependency.
type RetryConfig struct {
	// MaxAttempts of 1 disables retry (single attempt only).
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	// JitterFactor spreads each delay uniformly over
	// [delay*(1-f), delay*(1+f)] to avoid synchronized retry storms.
	JitterFactor float64
	// RetryIf classifies a failure as retryable. Nil means
	// DefaultRetryable.
	RetryIf func(error) bool
}

// DefaultRetryable is the default retry predicate: admission rejections
// (circuit open, bulkhead full, rate limited) are terminal, everything
// else (downstream failures, timeouts) is retryable.
func DefaultRetryable(err error) bool {
	return !IsAdmissionRejection(err)
}

// Retrier re-invokes failed attempts under exponential backoff with
// jitter. One Retrier serves all dependencies; per-call policy comes in
// through Do.
type Retrier struct {
	clock Clock

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRetrier creates a Retrier seeded from the clock.
func NewRetrier(clock Clock) *Retrier {
	return &Retrier{
		clock: clock,
		rnd:   rand.New(rand.NewSource(clock.Now().UnixNano())),
	}
}

// Do runs op up to cfg.MaxAttempts times. A nil error returns
// immediately; a non-retryable error or an exhausted budget returns the
// last error. Backoff waits abort with the context error on cancellation.
func (r *Retrier) Do(ctx context.Context, cfg RetryConfig, op func(attempt int) (interface{}, error)) (interface{}, error) {
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = DefaultRetryable
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := op(attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == attempts || !retryIf(err) {
			break
		}

		if err := sleep(ctx, r.clock, r.nextDelay(attempt, cfg)); err != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

// nextDelay computes the jittered backoff before attempt+1.
func (r *Retrier) nextDelay(attempt int, cfg RetryConfig) time.Duration {
	return applyJitter(backoffDelay(attempt, cfg), cfg.JitterFactor, r.random)
}

func (r *Retrier) random() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Float64()
}

// backoffDelay is the pre-jitter exponential delay after the given
// attempt: min(maxDelay, baseDelay * multiplier^(attempt-1)).
func backoffDelay(attempt int, cfg RetryConfig) time.Duration {
	d := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if max := float64(cfg.MaxDelay); cfg.MaxDelay > 0 && d > max {
		d = max
	}
	return time.Duration(d)
}

// applyJitter spreads delay uniformly over [delay*(1-f), delay*(1+f)].
func applyJitter(delay time.Duration, factor float64, random func() float64) time.Duration {
	if factor <= 0 || delay <= 0 {
		return delay
	}
	scale := 1 - factor + random()*2*factor
	return time.Duration(float64(delay) * scale)
}
