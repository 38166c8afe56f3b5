package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key namespaces
const (
	NamespaceNavigation = "nav"
	NamespaceHeatmap    = "heatmap"
)

// RedisCache stores serialized query results with a TTL
type RedisCache struct {
	redis *redis.Client
}

// NewRedisCache creates a new result cache
func NewRedisCache(redisClient *redis.Client) *RedisCache {
	return &RedisCache{redis: redisClient}
}

// Get returns the cached value for key. The boolean is false when the key is absent.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s from Redis: %w", key, err)
	}
	return data, true, nil
}

// SetWithTTL stores value under key for ttl
func (c *RedisCache) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s in Redis: %w", key, err)
	}
	return nil
}

// Delete removes key
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.redis.Del(ctx, key).Err()
}

// Ping checks the Redis connection
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// NavigationKey is the cache key of a navigation query
func NavigationKey(lat, lon float64, radiusMeters int) string {
	return key(NamespaceNavigation, lat, lon, radiusMeters)
}

// HeatmapKey is the cache key of a heatmap query
func HeatmapKey(lat, lon float64, radiusMeters int) string {
	return key(NamespaceHeatmap, lat, lon, radiusMeters)
}

// Coordinates are rounded to 5 decimals, so queries within about a meter share an entry.
func key(namespace string, lat, lon float64, radiusMeters int) string {
	return fmt.Sprintf("%s:%.5f:%.5f:%d", namespace, lat, lon, radiusMeters)
}
