//go:build integration

package cache_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/meeplemeet/go-catalog/pkg/cache"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type redisTestValue struct {
	ID   string
	Data []byte
}

// TestRedisStore_Integration exercises the Redis-backed durable tier
// against a real Redis instance. Point REDIS_ADDR at one (defaults to
// localhost:6379).
func TestRedisStore_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	store, err := cache.NewRedisStore[redisTestValue](ctx, &cache.RedisConfig{Addr: addr}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	key := "catalog-test:" + time.Now().Format(time.RFC3339Nano)
	want := redisTestValue{ID: "item-1", Data: []byte("payload")}

	t.Run("set then get round-trips", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, key, want, time.Minute))

		got, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("delete makes the key absent", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, key))

		_, err := store.Get(ctx, key)
		assert.True(t, errors.Is(err, cache.ErrNotFound))
	})

	t.Run("entry expires after its TTL", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, key, want, 100*time.Millisecond))
		time.Sleep(200 * time.Millisecond)

		_, err := store.Get(ctx, key)
		assert.True(t, errors.Is(err, cache.ErrNotFound))
	})
}
