package navigation

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"time"

	"github.com/smukkama/signaltrail/internal/cache"
	"github.com/smukkama/signaltrail/internal/metrics"
	"github.com/smukkama/signaltrail/internal/model"
)

// Default result TTLs
const (
	DefaultNavigationTTL = 2 * time.Minute
	DefaultHeatmapTTL    = 5 * time.Minute
)

// ResultCache stores serialized results by key
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Querier is implemented by Navigator and Cached
type Querier interface {
	BestSignalInArea(ctx context.Context, lat, lon, radiusMeters float64) (*model.NavigationResult, error)
	Heatmap(ctx context.Context, lat, lon, radiusMeters float64) (*model.HeatmapResult, error)
}

// Cached serves navigator results through a result cache. Cache failures are
// logged and bypassed. Cold-start results are not cached.
type Cached struct {
	next          Querier
	cache         ResultCache
	navigationTTL time.Duration
	heatmapTTL    time.Duration
}

// NewCached wraps next with cache. Non-positive TTLs use the defaults.
func NewCached(next Querier, c ResultCache, navigationTTL, heatmapTTL time.Duration) *Cached {
	if navigationTTL <= 0 {
		navigationTTL = DefaultNavigationTTL
	}
	if heatmapTTL <= 0 {
		heatmapTTL = DefaultHeatmapTTL
	}
	return &Cached{
		next:          next,
		cache:         c,
		navigationTTL: navigationTTL,
		heatmapTTL:    heatmapTTL,
	}
}

func (c *Cached) BestSignalInArea(ctx context.Context, lat, lon, radiusMeters float64) (*model.NavigationResult, error) {
	key := cache.NavigationKey(lat, lon, int(math.Round(radiusMeters)))

	var result model.NavigationResult
	if c.lookup(ctx, cache.NamespaceNavigation, key, &result) {
		return &result, nil
	}

	fresh, err := c.next.BestSignalInArea(ctx, lat, lon, radiusMeters)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, fresh, c.navigationTTL)
	return fresh, nil
}

func (c *Cached) Heatmap(ctx context.Context, lat, lon, radiusMeters float64) (*model.HeatmapResult, error) {
	key := cache.HeatmapKey(lat, lon, int(math.Round(radiusMeters)))

	var result model.HeatmapResult
	if c.lookup(ctx, cache.NamespaceHeatmap, key, &result) {
		return &result, nil
	}

	fresh, err := c.next.Heatmap(ctx, lat, lon, radiusMeters)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, fresh, c.heatmapTTL)
	return fresh, nil
}

func (c *Cached) lookup(ctx context.Context, namespace, key string, dest interface{}) bool {
	data, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		metrics.CacheLookups.WithLabelValues(namespace, "error").Inc()
		log.Printf("[Cache] Lookup of %s failed: %v", key, err)
		return false
	}
	if !ok {
		metrics.CacheLookups.WithLabelValues(namespace, "miss").Inc()
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		metrics.CacheLookups.WithLabelValues(namespace, "error").Inc()
		log.Printf("[Cache] Discarding undecodable entry %s: %v", key, err)
		return false
	}
	metrics.CacheLookups.WithLabelValues(namespace, "hit").Inc()
	return true
}

func (c *Cached) store(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		log.Printf("[Cache] Failed to encode %s: %v", key, err)
		return
	}
	if err := c.cache.SetWithTTL(ctx, key, data, ttl); err != nil {
		log.Printf("[Cache] Failed to store %s: %v", key, err)
	}
}
