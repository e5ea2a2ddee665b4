package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batchqueue.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, StorageSQL, cfg.Storage)
	assert.Equal(t, "sqlite", cfg.SQL.Dialect)
	assert.True(t, cfg.Defaults.StickyFailureEnabled())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
batchqueue:
  storage: redis
  redis:
    host: cache.internal
    port: 6390
    prefix: "jobs:"
    ttl: 3600
  queue:
    name: orders
  defaults:
    fail_on_first_error: true
    max_retries: 5
    sticky_failure: false
  queues:
    default:
      parallel: fast-parallel
      sequential: fast-chain
    named:
      orders:
        queue_config: orders-queue
        processor: sequential
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, StorageRedis, cfg.Storage)
	assert.Equal(t, "cache.internal:6390", cfg.Redis.Addr())
	assert.Equal(t, "jobs:", cfg.Redis.KeyPrefix())
	assert.Equal(t, "orders", cfg.Queue.Name)
	assert.True(t, cfg.Defaults.FailOnFirstError)
	assert.Equal(t, 5, cfg.Defaults.MaxRetries)
	assert.False(t, cfg.Defaults.StickyFailureEnabled())
	assert.Equal(t, "fast-parallel", cfg.Queues.Default.Parallel)
	assert.Equal(t, "orders-queue", cfg.Queues.Named["orders"].QueueConfig)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BATCHQUEUE_STORAGE", "redis")
	t.Setenv("BATCHQUEUE_REDIS_HOST", "envhost")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, StorageRedis, cfg.Storage)
	assert.Equal(t, "envhost", cfg.Redis.Host)
}

func TestRedisConfig_DefaultsApply(t *testing.T) {
	var r RedisConfig
	assert.Equal(t, "127.0.0.1:6379", r.Addr())
	assert.Equal(t, "batch:", r.KeyPrefix())
	assert.Equal(t, float64(24*60*60), r.KeyTTL().Seconds())
}
