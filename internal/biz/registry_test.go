package biz

import (
	"io"
	"testing"
	"time"

	"FuseGate/internal/conf"
	"FuseGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDependencyConf(name string) *conf.Dependency {
	return &conf.Dependency{
		Name:     name,
		Upstream: "http://" + name + ".internal",
		Timeout:  100 * time.Millisecond,
		Breaker: &conf.Breaker{
			WindowType:             "count",
			WindowSize:             10,
			MinCalls:               4,
			FailureRateThreshold:   50,
			SlowCallRateThreshold:  100,
			OpenStateWait:          30 * time.Second,
			HalfOpenPermittedCalls: 2,
		},
		Bulkhead:  &conf.Bulkhead{MaxConcurrent: 2},
		RateLimit: &conf.RateLimit{Capacity: 100, RefillPerPeriod: 100, Period: time.Second},
		Retry:     &conf.Retry{MaxAttempts: 3, Multiplier: 2},
	}
}

func newTestRegistry(t *testing.T, clock Clock, deps ...*conf.Dependency) *DependencyRegistry {
	t.Helper()
	if len(deps) == 0 {
		deps = []*conf.Dependency{testDependencyConf("payments")}
	}
	r, err := NewDependencyRegistry(&conf.Gateway{Dependencies: deps}, clock, nil, log.NewStdLogger(io.Discard))
	require.NoError(t, err)
	return r
}

func TestNewDependencyRegistry_RequiresDependencies(t *testing.T) {
	logger := log.NewStdLogger(io.Discard)

	_, err := NewDependencyRegistry(nil, NewSystemClock(), nil, logger)
	assert.Error(t, err)

	_, err = NewDependencyRegistry(&conf.Gateway{}, NewSystemClock(), nil, logger)
	assert.Error(t, err)
}

func TestNewDependencyRegistry_RejectsDuplicateNames(t *testing.T) {
	_, err := NewDependencyRegistry(&conf.Gateway{
		Dependencies: []*conf.Dependency{
			testDependencyConf("payments"),
			testDependencyConf("payments"),
		},
	}, NewSystemClock(), nil, log.NewStdLogger(io.Discard))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestDependencyRegistry_GetAndNames(t *testing.T) {
	r := newTestRegistry(t, newManualClock(),
		testDependencyConf("payments"),
		testDependencyConf("catalog"))

	d, ok := r.Get("payments")
	require.True(t, ok)
	assert.Equal(t, "payments", d.Name)
	assert.Equal(t, "http://payments.internal", d.Upstream)

	_, ok = r.Get("unknown")
	assert.False(t, ok)

	assert.Equal(t, []string{"catalog", "payments"}, r.Names())
}

func TestDependencyRegistry_ResetUnknownDependency(t *testing.T) {
	r := newTestRegistry(t, newManualClock())

	err := r.Reset("unknown")
	var unknown *UnknownDependencyError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "unknown", unknown.Dependency)

	assert.NoError(t, r.Reset("payments"))
}

func TestDependencyRegistry_SetHealthReflectedInMetrics(t *testing.T) {
	r := newTestRegistry(t, newManualClock())
	d, _ := r.Get("payments")

	assert.Equal(t, model.HealthUnknown, d.Metrics().Health)

	r.SetHealth("payments", true)
	assert.Equal(t, model.HealthServing, d.Metrics().Health)

	r.SetHealth("payments", false)
	assert.Equal(t, model.HealthUnhealthy, d.Metrics().Health)

	// Unknown names are ignored.
	r.SetHealth("unknown", true)
}

func TestDependencyRegistry_Snapshot(t *testing.T) {
	r := newTestRegistry(t, newManualClock(),
		testDependencyConf("payments"),
		testDependencyConf("catalog"))

	snapshot := r.Snapshot()
	require.Len(t, snapshot, 2)

	assert.Equal(t, "catalog", snapshot[0].Name)
	assert.Equal(t, "payments", snapshot[1].Name)
	for _, m := range snapshot {
		assert.Equal(t, "CLOSED", m.State)
		assert.False(t, m.FailureRateValid)
		assert.Equal(t, int64(100), m.Tokens)
		assert.Equal(t, int64(0), m.InFlight)
	}
}

func TestDependencyRegistry_PruneEvictsTimeWindows(t *testing.T) {
	clock := newManualClock()
	dep := testDependencyConf("payments")
	dep.Breaker.WindowType = "time"
	dep.Breaker.WindowAge = time.Minute
	r := newTestRegistry(t, clock, dep)

	d, _ := r.Get("payments")
	require.NoError(t, d.Breaker.Allow())
	d.Breaker.OnFailure(10 * time.Millisecond)
	require.Equal(t, 1, d.Breaker.WindowCalls())

	clock.Advance(2 * time.Minute)
	r.Prune()

	assert.Equal(t, 0, d.Breaker.WindowCalls())
}
