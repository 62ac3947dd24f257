package biz

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy of the resilience pipeline. Every rejected or exhausted
// call surfaces exactly one of these to the fallback capability; the
// service layer maps them to transport status codes.

// RateLimitedError is returned when the token bucket has no tokens left.
type RateLimitedError struct {
	Dependency string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("dependency %q rate limited, retry after %s", e.Dependency, e.RetryAfter)
}

// BulkheadFullError is returned when no bulkhead slot became free within
// the configured wait.
type BulkheadFullError struct {
	Dependency    string
	MaxConcurrent int
}

func (e *BulkheadFullError) Error() string {
	return fmt.Sprintf("dependency %q bulkhead full (max %d in flight)", e.Dependency, e.MaxConcurrent)
}

// CircuitOpenError is returned when the circuit breaker rejects a call.
type CircuitOpenError struct {
	Dependency string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("dependency %q circuit open, retry after %s", e.Dependency, e.RetryAfter)
}

// TimeoutError is returned when a downstream attempt exceeded its deadline.
type TimeoutError struct {
	Dependency string
	Timeout    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("dependency %q call timed out after %s", e.Dependency, e.Timeout)
}

// DownstreamError wraps a failure of the downstream call itself.
type DownstreamError struct {
	Dependency string
	Err        error
}

func (e *DownstreamError) Error() string {
	return fmt.Sprintf("dependency %q call failed: %v", e.Dependency, e.Err)
}

func (e *DownstreamError) Unwrap() error { return e.Err }

// FallbackFailedError is surfaced to the original caller when the fallback
// capability itself failed. Cause is the error that triggered the fallback.
type FallbackFailedError struct {
	Dependency string
	Cause      error
	Err        error
}

func (e *FallbackFailedError) Error() string {
	return fmt.Sprintf("dependency %q fallback failed: %v (original cause: %v)", e.Dependency, e.Err, e.Cause)
}

func (e *FallbackFailedError) Unwrap() error { return e.Err }

// UnknownDependencyError is returned for a dependency name that is not
// registered. This is a caller configuration error, not a downstream
// failure, so no fallback is invoked for it.
type UnknownDependencyError struct {
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("unknown dependency %q", e.Dependency)
}

// IsAdmissionRejection reports whether err is one of the admission-control
// rejections (rate limit, bulkhead, circuit). These are never retried:
// the dependency or the caller's own admission control is already
// saturated and retrying would make it worse.
func IsAdmissionRejection(err error) bool {
	var rl *RateLimitedError
	var bf *BulkheadFullError
	var co *CircuitOpenError
	return errors.As(err, &rl) || errors.As(err, &bf) || errors.As(err, &co)
}
