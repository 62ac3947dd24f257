// Package data implements the persistence side of the gateway: the
// fallback response cache, the breaker audit trail and the active
// health probes.
package data

import (
	"FuseGate/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewCacheClient,
	NewMySQLClient,
)

// Data bundles the shared data layer handles.
type Data struct {
	redisClient *redis.Client
	cache       CacheClient
}

// NewData creates the Data instance. Redis being unavailable does not
// prevent startup; the fallback cache degrades to its in-process tier.
func NewData(_ *conf.Data, logger log.Logger, rdb *redis.Client, cache CacheClient) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	if rdb == nil {
		helper.Warn("Redis client is nil, fallback cache runs on the in-process tier only")
	}

	d := &Data{
		redisClient: rdb,
		cache:       cache,
	}

	cleanup := func() {
		helper.Info("closing the data resources")
	}

	return d, cleanup, nil
}

// GetCache returns the cache client.
func (d *Data) GetCache() CacheClient {
	return d.cache
}

// GetRedisClient returns the raw Redis client.
func (d *Data) GetRedisClient() *redis.Client {
	return d.redisClient
}
