// Package model holds shared domain value types for FuseGate.
package model

import "time"

// CallOutcome is the immutable record of one completed downstream attempt.
// It is produced by the resilient invoker and consumed by the sliding
// window stats tracker; it is never mutated after creation.
type CallOutcome struct {
	Succeeded bool
	Duration  time.Duration
	Slow      bool
	At        time.Time
}

// BreakerState represents the circuit breaker state for one dependency.
type BreakerState int32

const (
	// StateClosed admits all calls and records their outcomes.
	StateClosed BreakerState = iota
	// StateOpen rejects all calls until the open-state wait elapses.
	StateOpen
	// StateHalfOpen admits a limited number of trial calls.
	StateHalfOpen
)

// String returns the state name used in logs, metrics and audit records.
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// StateTransition describes one circuit breaker state change.
type StateTransition struct {
	Dependency string
	From       BreakerState
	To         BreakerState
	Reason     string
	At         time.Time
}

// RejectionCause classifies why an admission check rejected a call.
type RejectionCause string

const (
	RejectRateLimited  RejectionCause = "rate_limited"
	RejectBulkheadFull RejectionCause = "bulkhead_full"
	RejectCircuitOpen  RejectionCause = "circuit_open"
)
