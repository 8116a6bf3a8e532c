package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/bjpl/describe-it-sub006/batch"
	"github.com/bjpl/describe-it-sub006/breaker"
	"github.com/bjpl/describe-it-sub006/pool"
)

// Config holds configuration for all resilience primitives.
type Config struct {
	Pool    PoolConfig
	Breaker BreakerConfig
	Batch   BatchConfig
	Logging LogConfig
}

// PoolConfig holds resource pool configuration.
type PoolConfig struct {
	MinSize             int           `envconfig:"POOL_MIN_SIZE" default:"2"`
	MaxSize             int           `envconfig:"POOL_MAX_SIZE" default:"10"`
	AcquireTimeout      time.Duration `envconfig:"POOL_ACQUIRE_TIMEOUT" default:"30s"`
	CreateTimeout       time.Duration `envconfig:"POOL_CREATE_TIMEOUT" default:"10s"`
	IdleTimeout         time.Duration `envconfig:"POOL_IDLE_TIMEOUT" default:"5m"`
	MaxUsageCount       int           `envconfig:"POOL_MAX_USAGE" default:"1000"`
	HealthCheckInterval time.Duration `envconfig:"POOL_HEALTH_INTERVAL" default:"30s"`
}

// BreakerConfig holds circuit breaker configuration.
type BreakerConfig struct {
	VolumeThreshold       int           `envconfig:"BREAKER_VOLUME_THRESHOLD" default:"10"`
	ErrorThresholdPercent float64       `envconfig:"BREAKER_ERROR_THRESHOLD_PERCENT" default:"50"`
	SlowCallRatePercent   float64       `envconfig:"BREAKER_SLOW_CALL_RATE_PERCENT" default:"50"`
	SlowCallThreshold     time.Duration `envconfig:"BREAKER_SLOW_CALL_THRESHOLD" default:"5s"`
	ExpectedResponseTime  time.Duration `envconfig:"BREAKER_EXPECTED_RESPONSE_TIME" default:"10s"`
	ResetTimeout          time.Duration `envconfig:"BREAKER_RESET_TIMEOUT" default:"30s"`
	MonitoringPeriod      time.Duration `envconfig:"BREAKER_MONITORING_PERIOD" default:"10s"`
}

// BatchConfig holds batch processor configuration.
type BatchConfig struct {
	BatchSize            int           `envconfig:"BATCH_SIZE" default:"10"`
	MaxBatchWait         time.Duration `envconfig:"BATCH_MAX_WAIT" default:"100ms"`
	MaxConcurrentBatches int           `envconfig:"BATCH_MAX_CONCURRENT" default:"3"`
	RetryAttempts        int           `envconfig:"BATCH_RETRY_ATTEMPTS" default:"3"`
	RetryDelay           time.Duration `envconfig:"BATCH_RETRY_DELAY" default:"1s"`
	DisablePriority      bool          `envconfig:"BATCH_DISABLE_PRIORITY" default:"false"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Pool: PoolConfig{
			MinSize:             2,
			MaxSize:             10,
			AcquireTimeout:      30 * time.Second,
			CreateTimeout:       10 * time.Second,
			IdleTimeout:         5 * time.Minute,
			MaxUsageCount:       1000,
			HealthCheckInterval: 30 * time.Second,
		},
		Breaker: BreakerConfig{
			VolumeThreshold:       10,
			ErrorThresholdPercent: 50,
			SlowCallRatePercent:   50,
			SlowCallThreshold:     5 * time.Second,
			ExpectedResponseTime:  10 * time.Second,
			ResetTimeout:          30 * time.Second,
			MonitoringPeriod:      10 * time.Second,
		},
		Batch: BatchConfig{
			BatchSize:            10,
			MaxBatchWait:         100 * time.Millisecond,
			MaxConcurrentBatches: 3,
			RetryAttempts:        3,
			RetryDelay:           time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}

// ToPool converts to the pool package's config.
func (c PoolConfig) ToPool() pool.Config {
	return pool.Config{
		MinSize:             c.MinSize,
		MaxSize:             c.MaxSize,
		AcquireTimeout:      c.AcquireTimeout,
		CreateTimeout:       c.CreateTimeout,
		IdleTimeout:         c.IdleTimeout,
		MaxUsageCount:       c.MaxUsageCount,
		HealthCheckInterval: c.HealthCheckInterval,
	}
}

// ToBreaker converts to the breaker package's config with the given name.
func (c BreakerConfig) ToBreaker(name string) breaker.Config {
	return breaker.Config{
		Name:                  name,
		VolumeThreshold:       c.VolumeThreshold,
		ErrorThresholdPercent: c.ErrorThresholdPercent,
		SlowCallRatePercent:   c.SlowCallRatePercent,
		SlowCallThreshold:     c.SlowCallThreshold,
		ExpectedResponseTime:  c.ExpectedResponseTime,
		ResetTimeout:          c.ResetTimeout,
		MonitoringPeriod:      c.MonitoringPeriod,
	}
}

// ToBatch converts to the batch package's config.
func (c BatchConfig) ToBatch() batch.Config {
	return batch.Config{
		BatchSize:            c.BatchSize,
		MaxBatchWait:         c.MaxBatchWait,
		MaxConcurrentBatches: c.MaxConcurrentBatches,
		RetryAttempts:        c.RetryAttempts,
		RetryDelay:           c.RetryDelay,
		DisablePriority:      c.DisablePriority,
	}
}
