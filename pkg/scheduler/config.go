// Package scheduler enqueues source refreshes on their cron schedules.
// Only the instance holding the leader lease enqueues.
package scheduler

import (
	"errors"
	"time"
)

var (
	// ErrInvalidCheckInterval is returned when the check interval is not positive
	ErrInvalidCheckInterval = errors.New("check interval must be positive")
	// ErrInvalidLease is returned when the lease does not outlive its renewal interval
	ErrInvalidLease = errors.New("lease ttl must exceed renew interval")
)

// Config defines scheduler configuration
type Config struct {
	Disabled        bool          `yaml:"disabled"`
	CheckInterval   time.Duration `yaml:"checkInterval" default:"1s"`
	LeaseTTL        time.Duration `yaml:"leaseTTL" default:"10s"`
	RenewInterval   time.Duration `yaml:"renewInterval" default:"3s"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"10s"`
}

// Validate checks if the scheduler configuration is valid
func (c *Config) Validate() error {
	if c.CheckInterval <= 0 {
		return ErrInvalidCheckInterval
	}

	if c.RenewInterval <= 0 || c.LeaseTTL <= c.RenewInterval {
		return ErrInvalidLease
	}

	return nil
}
