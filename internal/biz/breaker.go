package biz

import (
	"fmt"
	"sync"
	"time"

	"FuseGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// BreakerConfig is the immutable circuit breaker configuration for one
// dependency. Supplied at construction, never mutated.
type BreakerConfig struct {
	WindowType WindowType
	// WindowSize is the capacity of a count window; WindowAge bounds a
	// time window.
	WindowSize int
	WindowAge  time.Duration

	// MinCalls gates rate evaluation: below it the breaker stays CLOSED
	// regardless of the observed rates.
	MinCalls int

	// Thresholds are percentages in [0,100]. Either one breaching is
	// sufficient to open the circuit.
	FailureRateThreshold  float64
	SlowCallRateThreshold float64

	// Calls taking at least SlowCallDuration are recorded as slow.
	// Zero disables slow-call tracking.
	SlowCallDuration time.Duration

	// OpenStateWait is how long the breaker rejects calls after opening
	// before it admits half-open trial calls.
	OpenStateWait time.Duration

	// HalfOpenPermittedCalls is the trial budget in HALF_OPEN.
	HalfOpenPermittedCalls int
}

// CircuitBreaker guards one dependency with the CLOSED/OPEN/HALF_OPEN
// state machine. State mutations are serialized by a per-breaker mutex;
// the OPEN to HALF_OPEN transition is evaluated lazily against the clock
// on the next admission check rather than by a timer, which is observably
// equivalent and leaves nothing to stop on shutdown.
type CircuitBreaker struct {
	name   string
	cfg    BreakerConfig
	clock  Clock
	logger *log.Helper

	// onTransition is invoked outside the state lock after every state
	// change; may be nil.
	onTransition func(model.StateTransition)

	mu           sync.Mutex
	state        model.BreakerState
	window       *SlidingWindow
	openedAt     time.Time
	halfOpenLeft int
	halfOpenDone int
}

// NewCircuitBreaker creates a breaker in the CLOSED state.
func NewCircuitBreaker(name string, cfg BreakerConfig, clock Clock, onTransition func(model.StateTransition), logger log.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		name:         name,
		cfg:          cfg,
		clock:        clock,
		logger:       log.NewHelper(logger),
		onTransition: onTransition,
		state:        model.StateClosed,
		window:       NewSlidingWindow(cfg.WindowType, cfg.WindowSize, cfg.WindowAge, cfg.MinCalls, clock),
	}
}

// Allow performs the admission check. It returns nil when the call is
// permitted and a *CircuitOpenError when it must be rejected. Every
// permitted call must be resolved with exactly one OnSuccess or OnFailure.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()

	switch b.state {
	case model.StateClosed:
		b.mu.Unlock()
		return nil

	case model.StateOpen:
		elapsed := b.clock.Now().Sub(b.openedAt)
		if elapsed < b.cfg.OpenStateWait {
			b.mu.Unlock()
			return &CircuitOpenError{Dependency: b.name, RetryAfter: b.cfg.OpenStateWait - elapsed}
		}
		t := b.transition(model.StateHalfOpen, "open-state wait elapsed")
		b.halfOpenLeft--
		b.mu.Unlock()
		b.emit(t)
		return nil

	case model.StateHalfOpen:
		if b.halfOpenLeft <= 0 {
			b.mu.Unlock()
			return &CircuitOpenError{Dependency: b.name, RetryAfter: 0}
		}
		b.halfOpenLeft--
		b.mu.Unlock()
		return nil

	default:
		b.mu.Unlock()
		return &CircuitOpenError{Dependency: b.name}
	}
}

// OnSuccess records a successful permitted call.
func (b *CircuitBreaker) OnSuccess(d time.Duration) {
	b.resolve(true, d)
}

// OnFailure records a failed permitted call.
func (b *CircuitBreaker) OnFailure(d time.Duration) {
	b.resolve(false, d)
}

func (b *CircuitBreaker) resolve(succeeded bool, d time.Duration) {
	slow := b.cfg.SlowCallDuration > 0 && d >= b.cfg.SlowCallDuration

	b.mu.Lock()
	b.window.Record(model.CallOutcome{
		Succeeded: succeeded,
		Duration:  d,
		Slow:      slow,
		At:        b.clock.Now(),
	})

	var t *model.StateTransition
	switch b.state {
	case model.StateClosed:
		t = b.evaluateClosed()
	case model.StateHalfOpen:
		t = b.evaluateHalfOpen(succeeded)
	case model.StateOpen:
		// Late resolution of a call permitted before the circuit
		// opened. The outcome stays in the window; the open timer is
		// not disturbed.
	}
	b.mu.Unlock()
	b.emit(t)
}

// evaluateClosed checks both thresholds independently; either breaching
// opens the circuit. Must be called with the lock held.
func (b *CircuitBreaker) evaluateClosed() *model.StateTransition {
	if fr, ok := b.window.FailureRate(); ok && fr >= b.cfg.FailureRateThreshold {
		return b.transition(model.StateOpen, fmt.Sprintf("failure rate %.1f%% >= %.1f%%", fr, b.cfg.FailureRateThreshold))
	}
	if b.cfg.SlowCallDuration > 0 {
		if sr, ok := b.window.SlowCallRate(); ok && sr >= b.cfg.SlowCallRateThreshold {
			return b.transition(model.StateOpen, fmt.Sprintf("slow call rate %.1f%% >= %.1f%%", sr, b.cfg.SlowCallRateThreshold))
		}
	}
	return nil
}

// evaluateHalfOpen resolves one trial call. Any failure reopens the
// circuit immediately; a breached slow-call rate over the trials so far
// reopens it as well; completing the full trial budget successfully
// closes it. Must be called with the lock held.
func (b *CircuitBreaker) evaluateHalfOpen(succeeded bool) *model.StateTransition {
	b.halfOpenDone++

	if !succeeded {
		return b.transition(model.StateOpen, "trial call failed in half-open")
	}

	if b.cfg.SlowCallDuration > 0 && b.halfOpenDone > 0 {
		if sr, n := b.window.rawSlowRate(); n > 0 && sr >= b.cfg.SlowCallRateThreshold {
			return b.transition(model.StateOpen, fmt.Sprintf("slow call rate %.1f%% in half-open", sr))
		}
	}

	if b.halfOpenDone >= b.cfg.HalfOpenPermittedCalls {
		return b.transition(model.StateClosed, "all trial calls succeeded")
	}
	return nil
}

// transition applies entry actions for the new state and returns the
// transition record for emission after the lock is released. Must be
// called with the lock held.
func (b *CircuitBreaker) transition(to model.BreakerState, reason string) *model.StateTransition {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to

	switch to {
	case model.StateClosed:
		b.window.Reset()
	case model.StateOpen:
		b.openedAt = b.clock.Now()
	case model.StateHalfOpen:
		b.window.Reset()
		b.halfOpenLeft = b.cfg.HalfOpenPermittedCalls
		b.halfOpenDone = 0
	}

	return &model.StateTransition{
		Dependency: b.name,
		From:       from,
		To:         to,
		Reason:     reason,
		At:         b.clock.Now(),
	}
}

func (b *CircuitBreaker) emit(t *model.StateTransition) {
	if t == nil {
		return
	}
	b.logger.Infow("msg", "circuit state changed",
		"dependency", t.Dependency,
		"from", t.From.String(),
		"to", t.To.String(),
		"reason", t.Reason)
	if b.onTransition != nil {
		b.onTransition(*t)
	}
}

// State returns the current breaker state without side effects.
func (b *CircuitBreaker) State() model.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Rates reports the current failure and slow-call rates with their
// validity flags, for the metrics snapshot.
func (b *CircuitBreaker) Rates() (failure, slow float64, failureOK, slowOK bool) {
	b.mu.Lock()
	w := b.window
	b.mu.Unlock()
	failure, failureOK = w.FailureRate()
	slow, slowOK = w.SlowCallRate()
	return failure, slow, failureOK, slowOK
}

// WindowCalls returns the number of outcomes currently in the window.
func (b *CircuitBreaker) WindowCalls() int {
	b.mu.Lock()
	w := b.window
	b.mu.Unlock()
	return w.TotalCalls()
}

// Prune evicts stale entries of a time-based window.
func (b *CircuitBreaker) Prune() {
	b.mu.Lock()
	w := b.window
	b.mu.Unlock()
	w.Prune()
}

// Reset forces the breaker back to CLOSED with a fresh window. Exposed
// through the admin API for manual recovery.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	t := b.transition(model.StateClosed, "manual reset")
	b.window.Reset()
	b.mu.Unlock()
	b.emit(t)
}
