package quota

import (
	"context"
	"time"

	"github.com/zjrosen/deepfocus/internal/cachemanager"
)

// SubscriptionStatus reports whether an identity currently pays.
type SubscriptionStatus interface {
	IsSubscribed(ctx context.Context) (bool, error)
}

// StaticSubscription is a fixed answer, read from config.
type StaticSubscription bool

// IsSubscribed returns the fixed value.
func (s StaticSubscription) IsSubscribed(context.Context) (bool, error) {
	return bool(s), nil
}

// SubscriptionFunc adapts a function to SubscriptionStatus.
type SubscriptionFunc func(ctx context.Context) (bool, error)

// IsSubscribed calls f.
func (f SubscriptionFunc) IsSubscribed(ctx context.Context) (bool, error) {
	return f(ctx)
}

// CachedSubscription caches another SubscriptionStatus for ttl and serves the
// last known answer when the source fails.
type CachedSubscription struct {
	identity string
	ttl      time.Duration
	cache    *cachemanager.ReadThroughCache[string, bool, struct{}]
}

// NewCachedSubscription wraps source.
func NewCachedSubscription(source SubscriptionStatus, identity string, ttl time.Duration) *CachedSubscription {
	if ttl <= 0 {
		ttl = cachemanager.DefaultExpiration
	}
	return &CachedSubscription{
		identity: identity,
		ttl:      ttl,
		cache: cachemanager.NewReadThroughCache[string, bool, struct{}](
			cachemanager.NewInMemoryCacheManager[string, bool]("subscription", ttl, cachemanager.DefaultCleanupInterval),
			cachemanager.NewInMemoryCacheManager[string, bool]("subscription-last-known", cachemanager.NoExpiration, cachemanager.DefaultCleanupInterval),
			func(ctx context.Context, _ struct{}) (bool, error) {
				return source.IsSubscribed(ctx)
			},
		),
	}
}

// IsSubscribed returns the cached answer, refreshing it after ttl.
func (c *CachedSubscription) IsSubscribed(ctx context.Context) (bool, error) {
	return c.cache.Get(ctx, c.identity, struct{}{}, c.ttl)
}

// Invalidate forces the next call to consult the source.
func (c *CachedSubscription) Invalidate(ctx context.Context) {
	c.cache.Invalidate(ctx, c.identity)
}
