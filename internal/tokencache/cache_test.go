package tokencache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	cache, err := New("redis://" + s.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache, s
}

func TestPutAndGet(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	entry := Entry{UserID: 42, ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, cache.Put(ctx, "token-value", entry))

	got, err := cache.Get(ctx, "token-value")
	require.NoError(t, err)
	require.Equal(t, int64(42), got.UserID)
}

func TestGetMiss(t *testing.T) {
	cache, _ := setupTestCache(t)

	_, err := cache.Get(context.Background(), "never-stored")
	require.ErrorIs(t, err, ErrMiss)
}

func TestPutExpiredSkipped(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	entry := Entry{UserID: 7, ExpiresAt: time.Now().Add(-time.Minute)}
	require.NoError(t, cache.Put(ctx, "stale", entry))

	_, err := cache.Get(ctx, "stale")
	require.ErrorIs(t, err, ErrMiss)
}

func TestInvalidate(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	entry := Entry{UserID: 9, ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, cache.Put(ctx, "rotating", entry))
	require.NoError(t, cache.Invalidate(ctx, "rotating"))

	_, err := cache.Get(ctx, "rotating")
	require.ErrorIs(t, err, ErrMiss)
}

func TestTTLExpiry(t *testing.T) {
	cache, s := setupTestCache(t)
	ctx := context.Background()

	entry := Entry{UserID: 3, ExpiresAt: time.Now().Add(time.Second)}
	require.NoError(t, cache.Put(ctx, "short", entry))

	s.FastForward(2 * time.Second)
	_, err := cache.Get(ctx, "short")
	require.ErrorIs(t, err, ErrMiss)
}
