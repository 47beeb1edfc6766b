package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *RedisBackend) {
	t.Helper()

	mr := miniredis.RunT(t)
	backend := NewRedisBackend(RedisOptions{
		Address: mr.Addr(),
		Prefix:  "test:",
		Timeout: time.Second,
	})
	t.Cleanup(func() { backend.Close() })

	return mr, backend
}

func TestRedisBackend_SetGet(t *testing.T) {
	ctx := context.Background()
	mr, r := setupRedis(t)

	require.NoError(t, r.Set(ctx, "k", "v", time.Minute))

	val, found, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", val)

	t.Run("keys are prefixed", func(t *testing.T) {
		assert.True(t, mr.Exists("test:k"))
		assert.False(t, mr.Exists("k"))
	})

	t.Run("miss is not an error", func(t *testing.T) {
		_, found, err := r.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestRedisBackend_TTL(t *testing.T) {
	ctx := context.Background()
	mr, r := setupRedis(t)

	require.NoError(t, r.Set(ctx, "k", "v", time.Minute))
	assert.Equal(t, time.Minute, mr.TTL("test:k"))

	mr.FastForward(time.Minute)

	exists, err := r.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRedisBackend_SetNX(t *testing.T) {
	ctx := context.Background()
	mr, r := setupRedis(t)

	ok, err := r.SetNX(ctx, "used", "1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.SetNX(ctx, "used", "2", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := mr.Get("test:used")
	require.NoError(t, err)
	assert.Equal(t, "1", got)
}

func TestRedisBackend_Delete(t *testing.T) {
	ctx := context.Background()
	_, r := setupRedis(t)

	require.NoError(t, r.Set(ctx, "k", "v", 0))
	require.NoError(t, r.Delete(ctx, "k"))

	exists, err := r.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRedisBackend_Unavailable(t *testing.T) {
	ctx := context.Background()
	mr, r := setupRedis(t)

	require.NoError(t, r.Ping(ctx))

	mr.SetError("server unavailable")

	_, _, err := r.Get(ctx, "k")
	assert.Error(t, err)
	assert.Error(t, r.Set(ctx, "k", "v", time.Minute))

	mr.SetError("")
	assert.NoError(t, r.Ping(ctx))
}
