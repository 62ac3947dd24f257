package biz

import (
	"context"
	"time"

	"FuseGate/internal/model"
)

// FallbackRepo stores and serves last-good downstream responses used as
// fallback results. Implementation is in the data layer
// (data.FallbackStore): an in-process LRU tier in front of Redis.
type FallbackRepo interface {
	// SaveResponse stores the latest good response for a dependency and
	// cache key; best-effort, errors are logged and swallowed by the
	// implementation.
	SaveResponse(ctx context.Context, dependency, key string, resp *model.CachedResponse, ttl time.Duration)

	// LoadResponse returns the stored response or an error when none is
	// cached (which the caller surfaces as a fallback failure).
	LoadResponse(ctx context.Context, dependency, key string) (*model.CachedResponse, error)
}
