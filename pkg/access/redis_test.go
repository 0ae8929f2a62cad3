package access

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache, err := NewRedisCache(mr.Addr(), "", 0, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache, mr
}

func TestRedisCacheSetGet(t *testing.T) {
	cache, _ := newRedisCache(t)
	ctx := context.Background()

	_, ok := cache.Get(ctx, "k")
	assert.False(t, ok)

	cache.Set(ctx, "k", true)
	allowed, ok := cache.Get(ctx, "k")
	require.True(t, ok)
	assert.True(t, allowed)

	cache.Set(ctx, "deny", false)
	allowed, ok = cache.Get(ctx, "deny")
	require.True(t, ok)
	assert.False(t, allowed)
}

func TestRedisCacheInvalidateBumpsGeneration(t *testing.T) {
	cache, _ := newRedisCache(t)
	ctx := context.Background()

	cache.Set(ctx, "k", true)
	cache.Invalidate(ctx)

	// The old generation's verdict is unreachable under the new one.
	_, ok := cache.Get(ctx, "k")
	assert.False(t, ok)

	// New writes land in the new generation.
	cache.Set(ctx, "k", false)
	allowed, ok := cache.Get(ctx, "k")
	require.True(t, ok)
	assert.False(t, allowed)
}

func TestRedisCacheEntriesCarryTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	cache, err := NewRedisCache(mr.Addr(), "", 0, 50*time.Millisecond)
	require.NoError(t, err)
	defer cache.Close()
	ctx := context.Background()

	cache.Set(ctx, "k", true)
	mr.FastForward(100 * time.Millisecond)

	_, ok := cache.Get(ctx, "k")
	assert.False(t, ok)
}

func TestNewRedisCacheRejectsUnreachableServer(t *testing.T) {
	_, err := NewRedisCache("127.0.0.1:1", "", 0, time.Minute)
	assert.Error(t, err)
}
