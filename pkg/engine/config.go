// Package engine wires the accounting core together and exposes the
// queries the external web layer calls.
package engine

import (
	"errors"
	"time"

	"github.com/ethpandaops/nis/pkg/cache"
	"github.com/ethpandaops/nis/pkg/models"
	"github.com/ethpandaops/nis/pkg/normalize"
	r "github.com/ethpandaops/nis/pkg/redis"
	"github.com/ethpandaops/nis/pkg/scheduler"
	"github.com/ethpandaops/nis/pkg/store"
	"github.com/ethpandaops/nis/pkg/worker"
)

var (
	// ErrRedisURLRequired is returned when a redis-backed component is configured without Redis
	ErrRedisURLRequired = errors.New("redis URL is required")
	// ErrInvalidParallelism is returned when normalize parallelism is not positive
	ErrInvalidParallelism = errors.New("normalize parallelism must be positive")
)

// Config represents the complete engine configuration
type Config struct {
	// Core settings
	Logging         string `yaml:"logging" default:"info"`
	MetricsAddr     string `yaml:"metricsAddr" default:":9091"`
	HealthCheckAddr string `yaml:"healthCheckAddr"`
	PProfAddr       string `yaml:"pprofAddr"`

	// Redis is optional. Without it sources are only refreshed on demand.
	Redis r.Config `yaml:"redis"`

	Cache  cache.Config  `yaml:"cache"`
	Store  store.Config  `yaml:"store"`
	Models models.Config `yaml:"models"`

	// Refresh pipeline, enabled when Redis is configured
	Scheduler scheduler.Config `yaml:"scheduler"`
	Worker    worker.Config    `yaml:"worker"`

	Normalize NormalizeConfig    `yaml:"normalize"`
	S3        normalize.S3Config `yaml:"s3"`
}

// NormalizeConfig controls how sources are fetched and normalized
type NormalizeConfig struct {
	// Lenient drops unmappable records of every source instead of rejecting them
	Lenient     bool          `yaml:"lenient"`
	Parallelism int           `yaml:"parallelism" default:"4"`
	HTTPTimeout time.Duration `yaml:"httpTimeout" default:"30s"`
}

// RedisEnabled reports whether a Redis URL is configured
func (c *Config) RedisEnabled() bool {
	return c.Redis.URL != ""
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.RedisEnabled() {
		if err := c.Redis.Validate(); err != nil {
			return err
		}

		if err := c.Scheduler.Validate(); err != nil {
			return err
		}

		if err := c.Worker.Validate(); err != nil {
			return err
		}
	} else if c.Cache.Backend == cache.BackendRedis {
		return ErrRedisURLRequired
	}

	if err := c.Cache.Validate(); err != nil {
		return err
	}

	if err := c.Store.Validate(); err != nil {
		return err
	}

	if err := c.Models.Validate(); err != nil {
		return err
	}

	if c.Normalize.Parallelism <= 0 {
		return ErrInvalidParallelism
	}

	return nil
}
