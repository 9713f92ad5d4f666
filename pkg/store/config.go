package store

import (
	"context"
	"fmt"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config selects the store driver.
type Config struct {
	Driver string `yaml:"driver" default:"memory"`
	DSN    string `yaml:"dsn"`
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverMemory:
		return nil
	case DriverPostgres:
		if c.DSN == "" {
			return ErrDSNRequired
		}

		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDriver, c.Driver)
	}
}

// Open returns the configured store.
func Open(ctx context.Context, cfg *Config) (Store, error) {
	switch cfg.Driver {
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverPostgres:
		return OpenPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDriver, cfg.Driver)
	}
}
