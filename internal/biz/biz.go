// Package biz contains the resilience core of FuseGate: the sliding
// window stats tracker, circuit breaker, bulkhead, rate limiter, retry
// executor and the resilient invoker that composes them. Following
// Kratos v2 DDD architecture, interfaces consumed here (auditor,
// fallback cache) are defined in this layer and implemented in data.
package biz

import (
	"FuseGate/internal/data"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewSystemClock,
	NewDependencyRegistry,
	NewResilientInvoker,
	// Import data layer providers
	data.NewAuditLogger,
	data.NewFallbackStore,
	data.NewHealthProber,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(TransitionAuditor), new(*data.AuditLogger)),
	wire.Bind(new(FallbackRepo), new(*data.FallbackStore)),
	// The registry doubles as the sink for active health probes
	wire.Bind(new(data.HealthSink), new(*DependencyRegistry)),
)
