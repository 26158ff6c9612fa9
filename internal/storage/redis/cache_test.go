package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botmail/backend/internal/domain"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	cache, err := NewCache(mr.Addr(), "", 0, 5*time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestCacheHandle(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	botID := "bot-1"
	handle := &domain.Handle{
		ID:      "handle-1",
		Address: "support_bot",
		UserID:  "user-1",
		BotID:   &botID,
	}

	t.Run("写入后可读回", func(t *testing.T) {
		require.NoError(t, cache.CacheHandle(ctx, handle))

		got, err := cache.GetCachedHandle(ctx, "support_bot")
		require.NoError(t, err)
		assert.Equal(t, handle.ID, got.ID)
		assert.Equal(t, handle.Address, got.Address)
		require.NotNil(t, got.BotID)
		assert.Equal(t, botID, *got.BotID)
	})

	t.Run("未缓存的地址返回 ErrCacheMiss", func(t *testing.T) {
		_, err := cache.GetCachedHandle(ctx, "nobody")
		assert.ErrorIs(t, err, ErrCacheMiss)
	})

	t.Run("失效后再读未命中", func(t *testing.T) {
		require.NoError(t, cache.CacheHandle(ctx, handle))
		require.NoError(t, cache.InvalidateHandle(ctx, "support_bot"))

		_, err := cache.GetCachedHandle(ctx, "support_bot")
		assert.ErrorIs(t, err, ErrCacheMiss)
	})

	t.Run("失效空地址列表为空操作", func(t *testing.T) {
		assert.NoError(t, cache.InvalidateHandle(ctx))
	})
}
