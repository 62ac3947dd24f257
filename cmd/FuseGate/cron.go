package main

import (
	"context"
	"time"

	"FuseGate/internal/biz"
	"FuseGate/internal/data"
	pkglog "FuseGate/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// StartMaintenanceCron runs the background upkeep of the gateway:
//   - every 30s: evict stale entries from time-based breaker windows
//   - every 30s: probe the gRPC health endpoints of dependencies
//   - every 1m:  log the per-dependency metrics snapshot
//   - every 5m:  log fallback cache statistics
func StartMaintenanceCron(registry *biz.DependencyRegistry, prober *data.HealthProber, store *data.FallbackStore, logger log.Logger) *cron.Cron {
	helper := pkglog.NewLogHelper(logger)

	c := cron.New(cron.WithSeconds())

	_, err := c.AddFunc("*/30 * * * * *", func() {
		registry.Prune()
	})
	if err != nil {
		helper.Errorw("msg", "failed to register window prune job", "error", err)
	}

	_, err = c.AddFunc("*/30 * * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
		defer cancel()
		prober.ProbeAll(ctx)
	})
	if err != nil {
		helper.Errorw("msg", "failed to register health probe job", "error", err)
	}

	_, err = c.AddFunc("0 * * * * *", func() {
		for _, m := range registry.Snapshot() {
			helper.Scheduler("dependency snapshot",
				"dependency", m.Name,
				"state", m.State,
				"window_calls", m.WindowCalls,
				"in_flight", m.InFlight,
				"tokens", m.Tokens,
				"rejected_rate_limited", m.RejectedRateLimited,
				"rejected_bulkhead_full", m.RejectedBulkheadFull,
				"rejected_circuit_open", m.RejectedCircuitOpen,
				"timeouts", m.Timeouts,
				"health", string(m.Health))
		}
	})
	if err != nil {
		helper.Errorw("msg", "failed to register metrics snapshot job", "error", err)
	}

	_, err = c.AddFunc("0 */5 * * * *", func() {
		hits, misses, size := store.Stats()
		helper.CacheStats(context.Background(), "fallback", int64(size), int64(store.Capacity()), hits, misses, 0)
	})
	if err != nil {
		helper.Errorw("msg", "failed to register cache stats job", "error", err)
	}

	c.Start()
	helper.Startup("maintenance cron started",
		"jobs", []string{"window_prune", "health_probe", "metrics_snapshot", "cache_stats"})

	return c
}
