package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Backend kinds.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

var (
	// ErrInvalidBackend is returned for an unknown backend kind
	ErrInvalidBackend = errors.New("invalid cache backend")
	// ErrDirRequired is returned when the file backend has no directory
	ErrDirRequired = errors.New("cache dir is required for the file backend")
	// ErrRedisRequired is returned when the redis backend has no client
	ErrRedisRequired = errors.New("redis client is required for the redis backend")
)

// Config selects and configures the persistent backend. The file backend
// is a badger database in Dir.
type Config struct {
	Backend string        `yaml:"backend" default:"file"`
	Dir     string        `yaml:"dir" default:".nis-cache"`
	TTL     time.Duration `yaml:"ttl" default:"24h"`
	// MemoryEntries bounds the in-memory layer in front of the backend.
	MemoryEntries int `yaml:"memoryEntries" default:"1024"`
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendRedis:
	case BackendFile:
		if c.Dir == "" {
			return ErrDirRequired
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidBackend, c.Backend)
	}

	if c.TTL < 0 {
		return fmt.Errorf("%w: negative ttl", ErrInvalidBackend)
	}

	if c.MemoryEntries < 0 {
		return fmt.Errorf("%w: negative memory entries", ErrInvalidBackend)
	}

	return nil
}

// NewFromConfig builds a cache with the configured backend. client and
// prefix are only used by the redis backend.
func NewFromConfig(log logrus.FieldLogger, cfg *Config, client *redis.Client, prefix string) (*Cache, error) {
	limit := WithMemoryLimit(cfg.MemoryEntries, cfg.TTL)

	switch cfg.Backend {
	case BackendMemory:
		return New(log, nil, limit), nil
	case BackendFile:
		bs, err := NewBadgerStore(log, cfg.Dir, cfg.TTL)
		if err != nil {
			return nil, err
		}

		return New(log, bs, limit), nil
	case BackendRedis:
		if client == nil {
			return nil, ErrRedisRequired
		}

		return New(log, NewRedisStore(log, client, prefix, cfg.TTL), limit), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidBackend, cfg.Backend)
	}
}
