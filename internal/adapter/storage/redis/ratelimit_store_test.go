package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRateLimitStore(t *testing.T) (*RateLimitStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRateLimitStore(client, "test"), s
}

func TestRateLimitStore_Allow(t *testing.T) {
	store, _ := newTestRateLimitStore(t)
	fixed := time.Unix(1_700_000_010, 0)
	store.now = func() time.Time { return fixed }
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		res, err := store.Allow(ctx, "10.0.0.1:escrows", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 3-i, res.Remaining)
	}

	res, err := store.Allow(ctx, "10.0.0.1:escrows", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Zero(t, res.Remaining)
	assert.Equal(t, int64(1_700_000_040), res.ResetAt)
}

func TestRateLimitStore_SeparateKeys(t *testing.T) {
	store, _ := newTestRateLimitStore(t)
	ctx := context.Background()

	_, err := store.Allow(ctx, "a", 1, time.Minute)
	require.NoError(t, err)
	res, err := store.Allow(ctx, "b", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRateLimitStore_WindowExpires(t *testing.T) {
	store, s := newTestRateLimitStore(t)
	ctx := context.Background()

	_, err := store.Allow(ctx, "k", 1, time.Minute)
	require.NoError(t, err)

	keys := s.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, 61*time.Second, s.TTL(keys[0]))
}

func TestRateLimitStore_Unavailable(t *testing.T) {
	store, s := newTestRateLimitStore(t)
	s.Close()

	_, err := store.Allow(context.Background(), "k", 1, time.Minute)
	assert.Error(t, err)
}
