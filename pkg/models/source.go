package models

import (
	"fmt"

	"github.com/ethpandaops/nis/pkg/normalize"
	"github.com/robfig/cron/v3"
)

// ValidateSchedule validates a cron expression or descriptor such as "@daily".
func ValidateSchedule(schedule string) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, schedule, err)
	}

	return nil
}

// ParseSources decodes every source definition in content.
func ParseSources(content []byte, path string) ([]normalize.Source, error) {
	srcs, err := decodeAll[normalize.Source](content, path)
	if err != nil {
		return nil, err
	}

	for i := range srcs {
		if err := ValidateSource(&srcs[i]); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	return srcs, nil
}

// ValidateSource validates a source definition and its refresh schedule.
func ValidateSource(src *normalize.Source) error {
	if err := src.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	if src.Refresh != "" {
		if err := ValidateSchedule(src.Refresh); err != nil {
			return fmt.Errorf("%w: source %s: %w", ErrValidationFailed, src.ID, err)
		}
	}

	return nil
}
