package biz

import (
	"context"
	"errors"
	"fmt"

	"FuseGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// Call performs the actual downstream operation. The invoker does not
// know or care about the transport behind it; ctx carries the attempt
// deadline and should be honoured if the operation supports cancellation.
type Call func(ctx context.Context) (interface{}, error)

// Fallback produces a degraded result when the primary path is rejected
// or exhausted. cause is the error that triggered it.
type Fallback func(ctx context.Context, cause error) (interface{}, error)

// ResilientInvoker composes the guard set of a dependency around a
// caller-supplied call in a fixed order, cheap checks first:
//
//	rate limiter -> bulkhead -> circuit breaker -> retry -> timeout -> call
//
// The caller sees either the successful result or one terminal error;
// internal retries and state transitions are visible only through the
// metrics surface.
type ResilientInvoker struct {
	registry *DependencyRegistry
	retrier  *Retrier
	clock    Clock
	auditor  TransitionAuditor
	logger   *log.Helper
}

// NewResilientInvoker creates an invoker over the given registry.
func NewResilientInvoker(registry *DependencyRegistry, clock Clock, auditor TransitionAuditor, logger log.Logger) *ResilientInvoker {
	if auditor == nil {
		auditor = NopAuditor{}
	}
	return &ResilientInvoker{
		registry: registry,
		retrier:  NewRetrier(clock),
		clock:    clock,
		auditor:  auditor,
		logger:   log.NewHelper(logger),
	}
}

// Execute runs call against the named dependency under its full guard
// set. Admission rejections and terminal failures funnel into fallback;
// a fallback failure is wrapped into *FallbackFailedError. A nil fallback
// surfaces the triggering error directly.
func (i *ResilientInvoker) Execute(ctx context.Context, dependency string, call Call, fallback Fallback) (interface{}, error) {
	d, ok := i.registry.Get(dependency)
	if !ok {
		// Configuration error on the caller's side; the fallback is
		// for downstream degradation, not for this.
		return nil, &UnknownDependencyError{Dependency: dependency}
	}

	// Admission: rate limiter first, it is the cheapest check.
	if err := d.Limiter.Allow(ctx, 1); err != nil {
		var rl *RateLimitedError
		if errors.As(err, &rl) {
			d.rejectedRateLimited.Add(1)
			i.auditor.RecordRejection(d.Name, model.RejectRateLimited)
			return i.runFallback(ctx, d, fallback, err)
		}
		return nil, err // context cancelled during limiter wait
	}

	token, err := d.Bulkhead.Acquire(ctx)
	if err != nil {
		var bf *BulkheadFullError
		if errors.As(err, &bf) {
			d.rejectedBulkheadFull.Add(1)
			i.auditor.RecordRejection(d.Name, model.RejectBulkheadFull)
			return i.runFallback(ctx, d, fallback, err)
		}
		return nil, err // context cancelled during bulkhead wait
	}
	// Released on every exit path below, including timeout: the slot is
	// freed immediately and a late result of an abandoned call is
	// discarded (see attempt).
	defer token.Release()

	result, err := i.retrier.Do(ctx, d.Retry, func(attempt int) (interface{}, error) {
		// Circuit permission is re-checked per attempt so that every
		// permitted call reports exactly one outcome. A circuit that
		// opens mid-retry rejects the next attempt, which the default
		// predicate treats as terminal.
		if err := d.Breaker.Allow(); err != nil {
			d.rejectedCircuitOpen.Add(1)
			i.auditor.RecordRejection(d.Name, model.RejectCircuitOpen)
			return nil, err
		}
		return i.attempt(ctx, d, attempt, call)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// The caller is gone; a fallback result would be
			// undeliverable anyway.
			return nil, err
		}
		return i.runFallback(ctx, d, fallback, err)
	}

	return result, nil
}

// attempt runs one timeout-bounded downstream call and reports its
// outcome to the breaker.
func (i *ResilientInvoker) attempt(ctx context.Context, d *Dependency, attempt int, call Call) (interface{}, error) {
	actx := ctx
	cancel := func() {}
	if d.Timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, d.Timeout)
	}
	defer cancel()

	start := i.clock.Now()

	type callResult struct {
		result interface{}
		err    error
	}
	// Buffered so an abandoned call can complete without blocking; its
	// late result is simply dropped and never touches shared state.
	done := make(chan callResult, 1)
	go func() {
		result, err := call(actx)
		done <- callResult{result: result, err: err}
	}()

	select {
	case r := <-done:
		elapsed := i.clock.Now().Sub(start)
		if r.err != nil {
			d.Breaker.OnFailure(elapsed)
			i.logger.Debugw("msg", "attempt failed",
				"dependency", d.Name,
				"attempt", attempt,
				"elapsed", elapsed,
				"error", r.err)
			return nil, &DownstreamError{Dependency: d.Name, Err: r.err}
		}
		d.Breaker.OnSuccess(elapsed)
		return r.result, nil

	case <-actx.Done():
		elapsed := i.clock.Now().Sub(start)
		d.Breaker.OnFailure(elapsed)
		if ctx.Err() != nil {
			// Parent cancelled, not our deadline.
			return nil, ctx.Err()
		}
		d.timeouts.Add(1)
		i.logger.Warnw("msg", "attempt timed out",
			"dependency", d.Name,
			"attempt", attempt,
			"timeout", d.Timeout)
		return nil, &TimeoutError{Dependency: d.Name, Timeout: d.Timeout}
	}
}

// runFallback invokes the fallback capability, guarding against both
// errors and panics so a misbehaving fallback can never crash the
// invoker or corrupt dependency state.
func (i *ResilientInvoker) runFallback(ctx context.Context, d *Dependency, fallback Fallback, cause error) (result interface{}, err error) {
	if fallback == nil {
		return nil, cause
	}

	defer func() {
		if rec := recover(); rec != nil {
			i.logger.Errorw("msg", "fallback panicked",
				"dependency", d.Name,
				"panic", rec)
			result = nil
			err = &FallbackFailedError{
				Dependency: d.Name,
				Cause:      cause,
				Err:        fmt.Errorf("fallback panic: %v", rec),
			}
		}
	}()

	result, ferr := fallback(ctx, cause)
	if ferr != nil {
		return nil, &FallbackFailedError{Dependency: d.Name, Cause: cause, Err: ferr}
	}
	return result, nil
}
