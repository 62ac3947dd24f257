package data

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"FuseGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	lru "github.com/hashicorp/golang-lru/v2"
)

// lruCapacity bounds the in-process tier across all dependencies.
const lruCapacity = 512

// ErrNoCachedResponse is returned by LoadResponse when neither tier
// holds a fresh response for the key.
var ErrNoCachedResponse = errors.New("fallback: no cached response")

// lruEntry carries the per-entry deadline the LRU itself cannot track.
type lruEntry struct {
	resp      *model.CachedResponse
	expiresAt time.Time
}

// FallbackStore keeps the last good response per dependency and cache
// key in two tiers: an in-process LRU for the hot path and Redis so a
// restarted instance still has fallback material. Implements
// biz.FallbackRepo.
type FallbackStore struct {
	local  *lru.Cache[string, lruEntry]
	cache  CacheClient
	logger *log.Helper

	hits   atomic.Int64
	misses atomic.Int64
}

// NewFallbackStore creates the two-tier store.
func NewFallbackStore(d *Data, logger log.Logger) (*FallbackStore, error) {
	local, err := lru.New[string, lruEntry](lruCapacity)
	if err != nil {
		return nil, fmt.Errorf("fallback: failed to create LRU: %w", err)
	}

	return &FallbackStore{
		local:  local,
		cache:  d.GetCache(),
		logger: log.NewHelper(logger),
	}, nil
}

// SaveResponse stores the response in both tiers. Best-effort: a Redis
// failure is logged and the in-process tier still serves the entry.
func (s *FallbackStore) SaveResponse(ctx context.Context, dependency, key string, resp *model.CachedResponse, ttl time.Duration) {
	if resp == nil || ttl <= 0 {
		return
	}

	cacheKey := fallbackCacheKey(dependency, key)
	s.local.Add(cacheKey, lruEntry{
		resp:      resp,
		expiresAt: time.Now().Add(ttl),
	})

	if err := s.cache.Set(ctx, cacheKey, resp, ttl); err != nil {
		s.logger.Warnw("msg", "failed to store fallback response in redis",
			"dependency", dependency,
			"key", key,
			"error", err)
	}
}

// LoadResponse returns the freshest stored response, preferring the
// in-process tier. A Redis hit repopulates the local tier.
func (s *FallbackStore) LoadResponse(ctx context.Context, dependency, key string) (*model.CachedResponse, error) {
	cacheKey := fallbackCacheKey(dependency, key)

	if entry, ok := s.local.Get(cacheKey); ok {
		if time.Now().Before(entry.expiresAt) {
			s.hits.Add(1)
			return entry.resp, nil
		}
		s.local.Remove(cacheKey)
	}

	var resp model.CachedResponse
	if err := s.cache.Get(ctx, cacheKey, &resp); err != nil {
		s.misses.Add(1)
		if !errors.Is(err, ErrCacheNotFound) {
			s.logger.Debugw("msg", "fallback redis lookup failed",
				"dependency", dependency,
				"key", key,
				"error", err)
		}
		return nil, ErrNoCachedResponse
	}

	s.hits.Add(1)
	// Redis owns the authoritative TTL; give the repopulated local
	// entry a short grace window instead of guessing the remainder.
	s.local.Add(cacheKey, lruEntry{
		resp:      &resp,
		expiresAt: time.Now().Add(30 * time.Second),
	})

	return &resp, nil
}

// Stats returns hit/miss counters and the current local tier size.
func (s *FallbackStore) Stats() (hits, misses int64, size int) {
	return s.hits.Load(), s.misses.Load(), s.local.Len()
}

// Capacity returns the local tier's entry limit.
func (s *FallbackStore) Capacity() int {
	return lruCapacity
}
