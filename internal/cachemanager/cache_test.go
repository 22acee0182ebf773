package cachemanager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type status struct {
	Subscribed bool
}

func TestInMemoryCacheManager_GetSet(t *testing.T) {
	cache := NewInMemoryCacheManager[string, status]("subscription", DefaultExpiration, DefaultCleanupInterval)
	ctx := context.Background()

	_, ok := cache.Get(ctx, "local")
	require.False(t, ok)

	cache.Set(ctx, "local", status{Subscribed: true}, DefaultExpiration)
	got, ok := cache.Get(ctx, "local")
	require.True(t, ok)
	require.True(t, got.Subscribed)
}

func TestInMemoryCacheManager_Expires(t *testing.T) {
	cache := NewInMemoryCacheManager[string, int]("test", DefaultExpiration, DefaultCleanupInterval)
	ctx := context.Background()

	cache.Set(ctx, "k", 1, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := cache.Get(ctx, "k")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestInMemoryCacheManager_DeleteAndFlush(t *testing.T) {
	cache := NewInMemoryCacheManager[string, int]("test", DefaultExpiration, DefaultCleanupInterval)
	ctx := context.Background()

	cache.Set(ctx, "a", 1, DefaultExpiration)
	cache.Set(ctx, "b", 2, DefaultExpiration)
	require.NoError(t, cache.Delete(ctx, "a"))
	_, ok := cache.Get(ctx, "a")
	require.False(t, ok)

	require.NoError(t, cache.Flush(ctx))
	_, ok = cache.Get(ctx, "b")
	require.False(t, ok)
}

func TestInMemoryCacheManager_GetWithRefresh(t *testing.T) {
	cache := NewInMemoryCacheManager[string, int]("test", DefaultExpiration, DefaultCleanupInterval)
	ctx := context.Background()

	_, ok := cache.GetWithRefresh(ctx, "k", time.Minute)
	require.False(t, ok)

	cache.Set(ctx, "k", 7, time.Minute)
	got, ok := cache.GetWithRefresh(ctx, "k", time.Minute)
	require.True(t, ok)
	require.Equal(t, 7, got)
}

func TestReadThroughCache_CachesWithinTTL(t *testing.T) {
	calls := 0
	rt := NewReadThroughCache[string, bool, string](
		NewInMemoryCacheManager[string, bool]("fresh", DefaultExpiration, DefaultCleanupInterval),
		nil,
		func(context.Context, string) (bool, error) {
			calls++
			return true, nil
		},
	)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := rt.Get(ctx, "local", "local", time.Minute)
		require.NoError(t, err)
		require.True(t, got)
	}
	require.Equal(t, 1, calls)

	rt.Invalidate(ctx, "local")
	_, err := rt.Get(ctx, "local", "local", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestReadThroughCache_ServesLastKnownOnError(t *testing.T) {
	fail := false
	rt := NewReadThroughCache[string, bool, string](
		NewInMemoryCacheManager[string, bool]("fresh", DefaultExpiration, DefaultCleanupInterval),
		NewInMemoryCacheManager[string, bool]("last-known", NoExpiration, DefaultCleanupInterval),
		func(context.Context, string) (bool, error) {
			if fail {
				return false, errors.New("billing unreachable")
			}
			return true, nil
		},
	)
	ctx := context.Background()

	got, err := rt.Get(ctx, "local", "local", time.Minute)
	require.NoError(t, err)
	require.True(t, got)

	fail = true
	rt.Invalidate(ctx, "local")
	got, err = rt.Get(ctx, "local", "local", time.Minute)
	require.NoError(t, err)
	require.True(t, got, "last known value is served when lookup fails")
}

func TestReadThroughCache_ErrorWithoutLastKnown(t *testing.T) {
	boom := errors.New("billing unreachable")
	rt := NewReadThroughCache[string, bool, string](
		NewInMemoryCacheManager[string, bool]("fresh", DefaultExpiration, DefaultCleanupInterval),
		NewInMemoryCacheManager[string, bool]("last-known", NoExpiration, DefaultCleanupInterval),
		func(context.Context, string) (bool, error) { return false, boom },
	)

	_, err := rt.Get(context.Background(), "local", "local", time.Minute)
	require.ErrorIs(t, err, boom)
}
