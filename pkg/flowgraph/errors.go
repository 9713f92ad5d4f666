package flowgraph

import (
	"errors"
	"fmt"
)

// Graph errors
var (
	// ErrGraph is the root of every flow graph failure
	ErrGraph = errors.New("flow graph error")
	// ErrCyclicDependency is returned when evaluation re-enters an entity it is still computing
	ErrCyclicDependency = fmt.Errorf("%w: cyclic dependency", ErrGraph)
	// ErrNoConvergence is returned when fixed-point iteration exceeds its iteration budget
	ErrNoConvergence = fmt.Errorf("%w: no convergence", ErrGraph)
	// ErrUpstreamFailed is returned for entities depending on a failed entity
	ErrUpstreamFailed = fmt.Errorf("%w: upstream entity failed", ErrGraph)
	// ErrMissingDependency is returned for entities with neither a stock nor incoming relations
	ErrMissingDependency = fmt.Errorf("%w: missing dependency", ErrGraph)
	// ErrMissingWeight is returned when a relation has no weight and none was inferred
	ErrMissingWeight = fmt.Errorf("%w: relation has no weight", ErrGraph)
	// ErrMultipleScaleTargets is returned when an entity receives a second scale relation
	ErrMultipleScaleTargets = fmt.Errorf("%w: entity is already a scale destination", ErrGraph)
	// ErrScaledStock is returned when an entity in the middle of a scale chain is given a stock
	ErrScaledStock = fmt.Errorf("%w: scale destinations cannot hold stocks", ErrGraph)
	// ErrUnknownEntity is returned for an entity id or name not in the graph
	ErrUnknownEntity = fmt.Errorf("%w: unknown entity", ErrGraph)
	// ErrDuplicateEntity is returned when adding an entity name twice
	ErrDuplicateEntity = fmt.Errorf("%w: duplicate entity", ErrGraph)
	// ErrInvalidRelation is returned for relations with an unknown role or a self loop
	ErrInvalidRelation = fmt.Errorf("%w: invalid relation", ErrGraph)
)

// EvalError ties an evaluation failure to the entity it happened at.
type EvalError struct {
	Entity string
	Err    error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("entity %s: %v", e.Entity, e.Err)
}

func (e *EvalError) Unwrap() error {
	return e.Err
}
