package model

import "time"

// HealthStatus is the result of the most recent active health probe.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthServing   HealthStatus = "serving"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// DependencyMetrics is the per-dependency observability snapshot exposed
// through the admin API and the periodic metrics log.
type DependencyMetrics struct {
	Name  string `json:"name"`
	State string `json:"state"`

	// Rates are percentages in [0,100]. Valid is false while the window
	// holds fewer than the configured minimum number of calls.
	FailureRate       float64 `json:"failure_rate"`
	FailureRateValid  bool    `json:"failure_rate_valid"`
	SlowCallRate      float64 `json:"slow_call_rate"`
	SlowCallRateValid bool    `json:"slow_call_rate_valid"`

	WindowCalls int   `json:"window_calls"`
	InFlight    int64 `json:"in_flight"`
	Tokens      int64 `json:"tokens"`

	// Rejection counters by cause, monotonic since process start.
	RejectedRateLimited  int64 `json:"rejected_rate_limited"`
	RejectedBulkheadFull int64 `json:"rejected_bulkhead_full"`
	RejectedCircuitOpen  int64 `json:"rejected_circuit_open"`
	Timeouts             int64 `json:"timeouts"`

	// BulkheadMisuse counts double releases of a bulkhead token. Anything
	// above zero indicates a programming error in a call path.
	BulkheadMisuse int64 `json:"bulkhead_misuse"`

	Health HealthStatus `json:"health"`
}

// CachedResponse is a last-good downstream response stored for fallback use.
type CachedResponse struct {
	Status      int               `json:"status"`
	ContentType string            `json:"content_type"`
	Header      map[string]string `json:"header,omitempty"`
	Body        []byte            `json:"body"`
	StoredAt    time.Time         `json:"stored_at"`
}
