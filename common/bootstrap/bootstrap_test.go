package bootstrap

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/refinery/common/cache"
	"github.com/lyzr/refinery/common/config"
	"github.com/lyzr/refinery/common/logger"
	"github.com/lyzr/refinery/common/queue"
)

func testConfig(t *testing.T, mr *miniredis.Miniredis) *config.Config {
	t.Helper()
	cfg, err := config.Load("refiner-test")
	require.NoError(t, err)

	cfg.Database.Driver = "sqlite"
	cfg.Redis.Host = mr.Host()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	cfg.Redis.Port = port
	return cfg
}

func TestSetup_WiresRedisBackedComponents(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr)
	cfg.Queue.Type = "redis"

	c, err := Setup(ctx, "refiner-test", WithCustomConfig(cfg), WithCustomLogger(logger.Discard()))
	require.NoError(t, err)
	defer c.Shutdown(ctx)

	assert.Nil(t, c.DB)
	require.NotNil(t, c.Redis)
	assert.IsType(t, &cache.FallbackCache{}, c.Cache)
	assert.IsType(t, &queue.RedisStreamQueue{}, c.Queue)
	require.NotNil(t, c.Limiter)
	require.NotNil(t, c.Telemetry)

	report := c.Health(ctx)
	assert.Equal(t, "ok", report.Status)
	assert.Equal(t, "healthy", report.Cache)

	mr.Close()
	assert.Equal(t, "degraded", c.Health(ctx).Cache)
	assert.Equal(t, "ok", c.Health(ctx).Status)
}

func TestSetup_WithoutRedisUsesMemory(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr)

	c, err := Setup(ctx, "refiner-test", WithCustomConfig(cfg), WithCustomLogger(logger.Discard()), WithoutRedis())
	require.NoError(t, err)

	assert.Nil(t, c.Redis)
	assert.IsType(t, &cache.MemoryCache{}, c.Cache)
	assert.IsType(t, &queue.MemoryQueue{}, c.Queue)
	require.NoError(t, c.Shutdown(ctx))
}

func TestSetup_RedisQueueNeedsRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr)
	cfg.Queue.Type = "redis"

	_, err := Setup(context.Background(), "refiner-test", WithCustomConfig(cfg), WithCustomLogger(logger.Discard()), WithoutRedis())
	assert.Error(t, err)
}
