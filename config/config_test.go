package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Pool.MinSize)
	assert.Equal(t, 10, cfg.Pool.MaxSize)
	assert.Equal(t, 30*time.Second, cfg.Pool.AcquireTimeout)
	assert.Equal(t, 10, cfg.Breaker.VolumeThreshold)
	assert.Equal(t, 50.0, cfg.Breaker.ErrorThresholdPercent)
	assert.Equal(t, 10, cfg.Batch.BatchSize)
	assert.Equal(t, 100*time.Millisecond, cfg.Batch.MaxBatchWait)
	assert.False(t, cfg.Batch.DisablePriority)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("POOL_MAX_SIZE", "25")
	t.Setenv("POOL_ACQUIRE_TIMEOUT", "5s")
	t.Setenv("BREAKER_ERROR_THRESHOLD_PERCENT", "75.5")
	t.Setenv("BATCH_MAX_WAIT", "250ms")
	t.Setenv("BATCH_DISABLE_PRIORITY", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Pool.MaxSize)
	assert.Equal(t, 5*time.Second, cfg.Pool.AcquireTimeout)
	assert.Equal(t, 75.5, cfg.Breaker.ErrorThresholdPercent)
	assert.Equal(t, 250*time.Millisecond, cfg.Batch.MaxBatchWait)
	assert.True(t, cfg.Batch.DisablePriority)
}

func TestLoadOrDefault(t *testing.T) {
	t.Setenv("POOL_MAX_SIZE", "not-a-number")

	cfg := LoadOrDefault()
	assert.Equal(t, 10, cfg.Pool.MaxSize, "invalid environment falls back to defaults")
}

func TestDefaultMatchesTags(t *testing.T) {
	loaded, err := Load()
	require.NoError(t, err)

	assert.Equal(t, Default(), loaded)
}

func TestBridges(t *testing.T) {
	cfg := Default()

	pc := cfg.Pool.ToPool()
	assert.Equal(t, cfg.Pool.MinSize, pc.MinSize)
	assert.Equal(t, cfg.Pool.AcquireTimeout, pc.AcquireTimeout)
	assert.Equal(t, cfg.Pool.HealthCheckInterval, pc.HealthCheckInterval)

	bc := cfg.Breaker.ToBreaker("vision-api")
	assert.Equal(t, "vision-api", bc.Name)
	assert.Equal(t, cfg.Breaker.VolumeThreshold, bc.VolumeThreshold)
	assert.Equal(t, cfg.Breaker.ResetTimeout, bc.ResetTimeout)

	tc := cfg.Batch.ToBatch()
	assert.Equal(t, cfg.Batch.BatchSize, tc.BatchSize)
	assert.Equal(t, cfg.Batch.RetryAttempts, tc.RetryAttempts)
}
