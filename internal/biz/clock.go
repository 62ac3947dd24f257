package biz

import (
	"context"
	"time"
)

// Clock supplies monotonic time and deferred wake-ups to the resilience
// primitives. Production code uses the system clock; tests substitute a
// manual clock so that breaker timers, bucket refills and backoff delays
// run without real sleeps.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

// NewSystemClock returns a Clock backed by the time package.
func NewSystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// sleep blocks for d on the given clock, returning early with the context
// error if the context is cancelled first. A non-positive duration returns
// immediately.
func sleep(ctx context.Context, clock Clock, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
