package units

import (
	"errors"
	"fmt"
)

// Unit errors
var (
	// ErrUnit is the root of every unit failure and matches both incompatible and unknown units
	ErrUnit = errors.New("unit error")
	// ErrIncompatibleUnits is returned when two units have different dimensional exponents
	ErrIncompatibleUnits = fmt.Errorf("%w: incompatible units", ErrUnit)
	// ErrUnknownUnit is returned when a unit name is not in the registry
	ErrUnknownUnit = fmt.Errorf("%w: unknown unit", ErrUnit)
	// ErrInvalidExpression is returned when a unit expression cannot be parsed
	ErrInvalidExpression = fmt.Errorf("%w: invalid unit expression", ErrUnit)
	// ErrUnitExists is returned when defining a symbol that is already registered
	ErrUnitExists = fmt.Errorf("%w: unit already defined", ErrUnit)
)
