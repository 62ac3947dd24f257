package biz

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"FuseGate/internal/conf"
	"FuseGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// Dependency bundles the guard set of one downstream dependency: breaker,
// bulkhead, rate limiter, retry policy and attempt timeout. Each
// dependency serializes only its own state; there is no lock shared
// across dependencies.
type Dependency struct {
	Name     string
	Upstream string
	Timeout  time.Duration

	Breaker  *CircuitBreaker
	Bulkhead *Bulkhead
	Limiter  *TokenBucket
	Retry    RetryConfig

	rejectedRateLimited  atomic.Int64
	rejectedBulkheadFull atomic.Int64
	rejectedCircuitOpen  atomic.Int64
	timeouts             atomic.Int64

	// health holds the latest active probe result; the probe never
	// mutates breaker state.
	health atomic.Int32 // 0 unknown, 1 serving, 2 unhealthy
}

const (
	healthUnknown int32 = iota
	healthServing
	healthUnhealthy
)

// DependencyRegistry maps dependency names to their guard sets. Entries
// are created at startup from configuration and live for the process
// lifetime; reads are lock-free after construction apart from the
// registry's own read lock.
type DependencyRegistry struct {
	mu      sync.RWMutex
	deps    map[string]*Dependency
	clock   Clock
	auditor TransitionAuditor
	logger  *log.Helper
}

// NewDependencyRegistry builds the guard set for every configured
// dependency. The registry is an explicit value handed to the invoker at
// construction, not a process-wide singleton, so multiple independently
// configured registries can coexist (and tests build their own).
func NewDependencyRegistry(c *conf.Gateway, clock Clock, auditor TransitionAuditor, logger log.Logger) (*DependencyRegistry, error) {
	if c == nil || len(c.Dependencies) == 0 {
		return nil, fmt.Errorf("gateway configuration has no dependencies")
	}
	if auditor == nil {
		auditor = NopAuditor{}
	}

	r := &DependencyRegistry{
		deps:    make(map[string]*Dependency, len(c.Dependencies)),
		clock:   clock,
		auditor: auditor,
		logger:  log.NewHelper(logger),
	}

	for _, dc := range c.Dependencies {
		if _, exists := r.deps[dc.Name]; exists {
			return nil, fmt.Errorf("duplicate dependency %q", dc.Name)
		}

		name := dc.Name
		breaker := NewCircuitBreaker(name, BreakerConfig{
			WindowType:             WindowType(dc.Breaker.WindowType),
			WindowSize:             int(dc.Breaker.WindowSize),
			WindowAge:              dc.Breaker.WindowAge,
			MinCalls:               int(dc.Breaker.MinCalls),
			FailureRateThreshold:   dc.Breaker.FailureRateThreshold,
			SlowCallRateThreshold:  dc.Breaker.SlowCallRateThreshold,
			SlowCallDuration:       dc.Breaker.SlowCallDuration,
			OpenStateWait:          dc.Breaker.OpenStateWait,
			HalfOpenPermittedCalls: int(dc.Breaker.HalfOpenPermittedCalls),
		}, clock, r.auditor.RecordTransition, logger)

		r.deps[name] = &Dependency{
			Name:     name,
			Upstream: dc.Upstream,
			Timeout:  dc.Timeout,
			Breaker:  breaker,
			Bulkhead: NewBulkhead(name, BulkheadConfig{
				MaxConcurrent: int(dc.Bulkhead.MaxConcurrent),
				MaxWait:       dc.Bulkhead.MaxWait,
			}, clock),
			Limiter: NewTokenBucket(name, RateLimiterConfig{
				Capacity:        dc.RateLimit.Capacity,
				RefillPerPeriod: dc.RateLimit.RefillPerPeriod,
				Period:          dc.RateLimit.Period,
				MaxWait:         dc.RateLimit.MaxWait,
			}, clock),
			Retry: RetryConfig{
				MaxAttempts:  int(dc.Retry.MaxAttempts),
				BaseDelay:    dc.Retry.BaseDelay,
				Multiplier:   dc.Retry.Multiplier,
				MaxDelay:     dc.Retry.MaxDelay,
				JitterFactor: dc.Retry.JitterFactor,
			},
		}

		r.logger.Infow("msg", "dependency registered",
			"dependency", name,
			"upstream", dc.Upstream,
			"max_concurrent", dc.Bulkhead.MaxConcurrent,
			"rate_capacity", dc.RateLimit.Capacity,
			"max_attempts", dc.Retry.MaxAttempts)
	}

	return r, nil
}

// Get returns the guard set for one dependency.
func (r *DependencyRegistry) Get(name string) (*Dependency, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.deps[name]
	return d, ok
}

// Names returns all registered dependency names, sorted.
func (r *DependencyRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.deps))
	for name := range r.deps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset forces one dependency's breaker back to CLOSED.
func (r *DependencyRegistry) Reset(name string) error {
	d, ok := r.Get(name)
	if !ok {
		return &UnknownDependencyError{Dependency: name}
	}
	d.Breaker.Reset()
	return nil
}

// SetHealth records the latest active probe result for a dependency.
func (r *DependencyRegistry) SetHealth(name string, serving bool) {
	d, ok := r.Get(name)
	if !ok {
		return
	}
	if serving {
		d.health.Store(healthServing)
	} else {
		d.health.Store(healthUnhealthy)
	}
}

// Prune evicts stale entries from all time-based windows. Called from the
// maintenance cron.
func (r *DependencyRegistry) Prune() {
	for _, name := range r.Names() {
		if d, ok := r.Get(name); ok {
			d.Breaker.Prune()
		}
	}
}

// Snapshot returns the observability view of every dependency.
func (r *DependencyRegistry) Snapshot() []model.DependencyMetrics {
	names := r.Names()
	out := make([]model.DependencyMetrics, 0, len(names))
	for _, name := range names {
		d, ok := r.Get(name)
		if !ok {
			continue
		}
		out = append(out, d.Metrics())
	}
	return out
}

// Metrics builds the snapshot for this dependency.
func (d *Dependency) Metrics() model.DependencyMetrics {
	failure, slow, failureOK, slowOK := d.Breaker.Rates()

	health := model.HealthUnknown
	switch d.health.Load() {
	case healthServing:
		health = model.HealthServing
	case healthUnhealthy:
		health = model.HealthUnhealthy
	}

	return model.DependencyMetrics{
		Name:                 d.Name,
		State:                d.Breaker.State().String(),
		FailureRate:          failure,
		FailureRateValid:     failureOK,
		SlowCallRate:         slow,
		SlowCallRateValid:    slowOK,
		WindowCalls:          d.Breaker.WindowCalls(),
		InFlight:             d.Bulkhead.InFlight(),
		Tokens:               d.Limiter.Tokens(),
		RejectedRateLimited:  d.rejectedRateLimited.Load(),
		RejectedBulkheadFull: d.rejectedBulkheadFull.Load(),
		RejectedCircuitOpen:  d.rejectedCircuitOpen.Load(),
		Timeouts:             d.timeouts.Load(),
		BulkheadMisuse:       d.Bulkhead.Misuse(),
		Health:               health,
	}
}
