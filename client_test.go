package redisipc

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAddr() string {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		return v
	}
	return "127.0.0.1:6379"
}

// testClient returns a Client against a live Redis, skipping when none is
// reachable.
func testClient(t *testing.T) *Client {
	t.Helper()

	rdb := redis.NewClient(&redis.Options{
		Addr:     testAddr(),
		Password: os.Getenv("REDIS_PASSWORD"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	c := NewFromClient(rdb)
	t.Cleanup(func() {
		_ = c.Close()
		_ = rdb.Close()
	})
	return c
}

// randomName keeps parallel test runs from sharing keys.
func randomName(t *testing.T, kind string) string {
	t.Helper()
	return "redisipc-test-" + kind + "-" + uuid.NewString()[:8]
}

func cleanupKeys(t *testing.T, c *Client, keys ...string) {
	t.Helper()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.rdb.Del(ctx, keys...).Err()
	})
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "127.0.0.1:6379", cfg.Addr)
	assert.Equal(t, 10, cfg.PoolSize)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	cfg := Defaults()
	cfg.Addr = ""
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.PoolSize = 0
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.PoolTimeout = -1 * time.Second
	assert.Error(t, cfg.Validate())
}

func TestClient_PingAndClose(t *testing.T) {
	c := testClient(t)

	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "close must be idempotent")

	err := c.Ping(ctx)
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestClient_ClosedClientFailsOperations(t *testing.T) {
	c := testClient(t)
	name := randomName(t, "closed")

	cache, err := NewCache[string](c, CacheOptions{Name: name})
	require.NoError(t, err)

	require.NoError(t, c.Close())

	err = cache.Set(context.Background(), "k", "v")
	assert.ErrorIs(t, err, ErrClientClosed)
}
