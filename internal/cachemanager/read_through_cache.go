package cachemanager

import (
	"context"
	"time"

	"github.com/zjrosen/deepfocus/internal/log"
)

// ReadThroughCache fronts a lookup function with a TTL cache and keeps the
// last successful value per key. When the lookup fails after the TTL has
// lapsed, the last known value is served instead of the error.
type ReadThroughCache[K ~string, V any, I any] struct {
	cache     CacheManager[K, V]
	lastKnown CacheManager[K, V]
	fn        func(ctx context.Context, input I) (V, error)
}

// NewReadThroughCache creates a read-through cache around fn. lastKnown may be
// nil to disable the stale fallback.
func NewReadThroughCache[K ~string, V any, I any](
	cache CacheManager[K, V],
	lastKnown CacheManager[K, V],
	fn func(ctx context.Context, input I) (V, error),
) *ReadThroughCache[K, V, I] {
	return &ReadThroughCache[K, V, I]{
		cache:     cache,
		lastKnown: lastKnown,
		fn:        fn,
	}
}

// Get returns the cached value for key or calls fn and caches the result for ttl.
func (r *ReadThroughCache[K, V, I]) Get(ctx context.Context, key K, input I, ttl time.Duration) (V, error) {
	if value, ok := r.cache.Get(ctx, key); ok {
		return value, nil
	}

	value, err := r.fn(ctx, input)
	if err != nil {
		if r.lastKnown != nil {
			if stale, ok := r.lastKnown.Get(ctx, key); ok {
				log.Warn(log.CatCache, "lookup failed, serving last known value", "key", key, "error", err)
				return stale, nil
			}
		}
		return value, err
	}

	r.cache.Set(ctx, key, value, ttl)
	if r.lastKnown != nil {
		r.lastKnown.Set(ctx, key, value, NoExpiration)
	}
	return value, nil
}

// Invalidate drops the fresh entry for key so the next Get calls fn.
func (r *ReadThroughCache[K, V, I]) Invalidate(ctx context.Context, key K) {
	_ = r.cache.Delete(ctx, key)
}
