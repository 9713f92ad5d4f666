package cube

import (
	"errors"
	"fmt"

	"github.com/ethpandaops/nis/pkg/facts"
)

// Aggregation errors
var (
	// ErrAggregation is the root of every aggregation failure
	ErrAggregation = errors.New("aggregation error")
	// ErrMixedUnitAggregation is returned when one group mixes dimensionally incompatible units
	ErrMixedUnitAggregation = fmt.Errorf("%w: mixed units in group", ErrAggregation)
	// ErrUnknownAggFunc is returned for an aggregation function name that is not supported
	ErrUnknownAggFunc = fmt.Errorf("%w: unknown aggregation function", ErrAggregation)
	// ErrNoHierarchy is returned when rolling up or drilling down a dimension without hierarchy
	ErrNoHierarchy = fmt.Errorf("%w: dimension has no hierarchy", ErrAggregation)
	// ErrSymbolicMean is returned when a weighted mean is asked of symbolic quantities
	ErrSymbolicMean = fmt.Errorf("%w: weighted mean of symbolic quantities", ErrAggregation)
)

// AggregationError locates a failure to one group of one cube.
type AggregationError struct {
	Cube    string
	Measure string
	Group   facts.Coordinates
	Err     error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("cube %s: measure %s group [%s]: %v", e.Cube, e.Measure, e.Group, e.Err)
}

func (e *AggregationError) Unwrap() error {
	return e.Err
}
