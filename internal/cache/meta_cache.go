package cache

import (
	"fmt"
	"time"

	"github.com/getmentor/airtable-connector/pkg/logger"
	"github.com/getmentor/airtable-connector/pkg/metrics"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const metaCacheName = "meta"

// MetaCache holds Airtable metadata responses (base lists and schemas) keyed
// by credential fingerprint and request path. Records are never cached.
type MetaCache struct {
	cache *gocache.Cache
	ttl   time.Duration
}

// NewMetaCache creates a cache. A ttl <= 0 disables caching.
func NewMetaCache(ttl time.Duration) *MetaCache {
	if ttl <= 0 {
		return &MetaCache{}
	}
	return &MetaCache{
		cache: gocache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
}

// Enabled reports whether responses are kept
func (mc *MetaCache) Enabled() bool {
	return mc != nil && mc.cache != nil
}

// Key builds the cache key for one credential and path
func Key(fingerprint, path string) string {
	return fingerprint + "|" + path
}

// GetOrLoad returns the cached value for key or calls load and caches its
// result. Errors are never cached.
func GetOrLoad[T any](mc *MetaCache, key string, load func() (T, error)) (T, error) {
	if !mc.Enabled() {
		return load()
	}

	if data, found := mc.cache.Get(key); found {
		if value, ok := data.(T); ok {
			metrics.CacheHits.WithLabelValues(metaCacheName).Inc()
			logger.Debug("Meta cache hit", zap.String("key", key))
			return value, nil
		}
		logger.Error("Invalid meta cache data type", zap.String("key", key), zap.String("type", fmt.Sprintf("%T", data)))
		mc.cache.Delete(key)
	}

	metrics.CacheMisses.WithLabelValues(metaCacheName).Inc()

	value, err := load()
	if err != nil {
		return value, err
	}

	mc.cache.Set(key, value, mc.ttl)
	metrics.CacheSize.WithLabelValues(metaCacheName).Set(float64(mc.cache.ItemCount()))
	return value, nil
}
