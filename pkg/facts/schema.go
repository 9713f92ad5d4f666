package facts

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Schema errors
var (
	// ErrSchema is the root of every structural schema violation
	ErrSchema = errors.New("schema violation")
	// ErrMissingDimension is returned when a fact lacks a dimension of its schema
	ErrMissingDimension = fmt.Errorf("%w: missing dimension", ErrSchema)
	// ErrUnknownDimension is returned when a fact or query names a dimension outside the schema
	ErrUnknownDimension = fmt.Errorf("%w: unknown dimension", ErrSchema)
	// ErrUnknownMeasure is returned when a fact or query names a measure outside the schema
	ErrUnknownMeasure = fmt.Errorf("%w: unknown measure", ErrSchema)
	// ErrValueNotInHierarchy is returned in strict mode for values outside a dimension's hierarchy
	ErrValueNotInHierarchy = fmt.Errorf("%w: value not in hierarchy", ErrSchema)
)

// Dimension is a named axis with an optional hierarchy of values.
type Dimension struct {
	Name      string
	Hierarchy *Hierarchy
}

// Schema is the set of dimensions and measures a cube's facts share.
type Schema struct {
	Dimensions []Dimension
	Measures   []string
	// Strict rejects dimension values missing from a declared hierarchy.
	Strict bool
}

// Dimension returns the named dimension.
func (s Schema) Dimension(name string) (Dimension, bool) {
	for _, d := range s.Dimensions {
		if d.Name == name {
			return d, true
		}
	}

	return Dimension{}, false
}

// DimensionNames returns the dimension names, sorted.
func (s Schema) DimensionNames() []string {
	out := make([]string, len(s.Dimensions))
	for i, d := range s.Dimensions {
		out[i] = d.Name
	}

	sort.Strings(out)

	return out
}

// HasMeasure reports whether m is declared. An empty measure list accepts any measure.
func (s Schema) HasMeasure(m string) bool {
	if len(s.Measures) == 0 {
		return true
	}

	for _, x := range s.Measures {
		if strings.EqualFold(x, m) {
			return true
		}
	}

	return false
}

// Validate checks f has exactly one value per schema dimension and a
// declared measure.
func (s Schema) Validate(f Fact) error {
	c := f.Coordinates()

	for _, d := range s.Dimensions {
		v, ok := c.Get(d.Name)
		if !ok || v == "" {
			return fmt.Errorf("%w: %s in %s (%s)", ErrMissingDimension, d.Name, f, f.Provenance())
		}

		if s.Strict && d.Hierarchy != nil && !d.Hierarchy.Contains(v) {
			return fmt.Errorf("%w: %s=%s (%s)", ErrValueNotInHierarchy, d.Name, v, f.Provenance())
		}
	}

	if c.Len() != len(s.Dimensions) {
		for _, name := range c.Dimensions() {
			if _, ok := s.Dimension(name); !ok {
				return fmt.Errorf("%w: %s in %s (%s)", ErrUnknownDimension, name, f, f.Provenance())
			}
		}
	}

	if !s.HasMeasure(f.Measure()) {
		return fmt.Errorf("%w: %s (%s)", ErrUnknownMeasure, f.Measure(), f.Provenance())
	}

	return nil
}
