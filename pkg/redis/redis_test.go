package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/eventpass-backend/pkg/config"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := Wrap(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestFixedWindowAllow(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)

	for i := int64(1); i <= 2; i++ {
		allowed, n, err := c.FixedWindowAllow(ctx, "order_create:u1", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, i, n)
	}
	allowed, n, err := c.FixedWindowAllow(ctx, "order_create:u1", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, int64(3), n)

	ttl := mr.TTL("ep:rate_limit:order_create:u1")
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)

	mr.FastForward(time.Minute + time.Second)
	allowed, n, err = c.FixedWindowAllow(ctx, "order_create:u1", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, int64(1), n)

	_, _, err = c.FixedWindowAllow(ctx, "x", 1, 0)
	assert.Error(t, err)
}

func TestReleaseIfOwner(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	key := c.LockKey("cron:order-expiry")

	won, err := c.SetNX(ctx, key, "owner-1", time.Minute)
	require.NoError(t, err)
	require.True(t, won)
	won, err = c.SetNX(ctx, key, "owner-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, won)

	released, err := c.ReleaseIfOwner(ctx, key, "owner-2")
	require.NoError(t, err)
	assert.False(t, released, "foreign owner must not release")

	released, err = c.ReleaseIfOwner(ctx, key, "owner-1")
	require.NoError(t, err)
	assert.True(t, released)

	_, err = c.Get(ctx, key)
	assert.True(t, errors.Is(err, Nil))
}

func TestPublishListen(t *testing.T) {
	c, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel := c.ChannelName("fee_config:invalidate")
	got := make(chan string, 1)
	done := make(chan error, 1)
	go func() { done <- c.Listen(ctx, channel, func(p string) { got <- p }) }()

	require.Eventually(t, func() bool {
		_ = c.Publish(context.Background(), channel, "7")
		select {
		case p := <-got:
			return p == "7"
		default:
			return false
		}
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSetGetDel(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	require.NoError(t, c.Del(ctx, "k"))
	assert.False(t, mr.Exists("k"))
	require.NoError(t, c.Del(ctx))
	require.NoError(t, c.Ping(ctx))
}

func TestKeyspace(t *testing.T) {
	var k Keyspace
	assert.Equal(t, "ep:idempotency:scope:id", k.IdempotencyKey("scope", "id"))
	assert.Equal(t, "ep:idempotency:id", k.IdempotencyKey(" ", "id"))
	assert.Equal(t, "ep:rate_limit:scope", k.RateLimitKey("scope"))
	assert.Equal(t, "ep:lock:cron", k.LockKey("cron"))
	assert.Equal(t, "ep:channel:fee_config:invalidate", k.ChannelName("fee_config:invalidate"))
}

func TestOptions(t *testing.T) {
	opts, err := options(config.RedisConfig{URL: "redis://:pw@localhost:6379/3", PoolSize: 20, DialTimeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, 20, opts.PoolSize)
	assert.Equal(t, time.Second, opts.DialTimeout)

	opts, err = options(config.RedisConfig{Address: "localhost:6380", DB: 2})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)

	_, err = options(config.RedisConfig{})
	assert.Error(t, err)
	_, err = options(config.RedisConfig{URL: "://bad"})
	assert.Error(t, err)
}
