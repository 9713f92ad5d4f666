// Package units implements a registry of physical units with dimensional
// analysis, parsing of compound unit expressions and value conversion.
package units

import (
	"fmt"
	"math"
	"strings"
)

// Unit is a named scale of a dimension vector. Factor converts a value in
// this unit into the canonical base unit of the same dimensions.
type Unit struct {
	Name   string  `json:"name"`
	Factor float64 `json:"factor"`
	Dims   Dims    `json:"dims,omitempty"`
}

// Dimensionless is the unit of pure numbers.
//
//nolint:gochecknoglobals // immutable value
var Dimensionless = Unit{Name: "1", Factor: 1}

// String returns the unit name.
func (u Unit) String() string {
	if u.Name == "" {
		return "1"
	}

	return u.Name
}

// IsZero reports whether the unit was never set.
func (u Unit) IsZero() bool {
	return u.Factor == 0 && u.Name == ""
}

// IsDimensionless reports whether the unit carries no dimension.
func (u Unit) IsDimensionless() bool {
	return u.Dims.IsZero()
}

// Compatible reports whether values in u can be converted into o.
func (u Unit) Compatible(o Unit) bool {
	return u.Dims.Equal(o.Dims)
}

// Same reports whether both units denote the identical scale, regardless of name.
func (u Unit) Same(o Unit) bool {
	return u.Compatible(o) && almostEqual(u.Factor, o.Factor)
}

// Mul returns the product unit u*o.
func (u Unit) Mul(o Unit) Unit {
	return Unit{
		Name:   joinName(u, o, "*"),
		Factor: u.Factor * o.Factor,
		Dims:   u.Dims.combine(o.Dims, 1),
	}
}

// Div returns the quotient unit u/o.
func (u Unit) Div(o Unit) Unit {
	return Unit{
		Name:   joinName(u, o, "/"),
		Factor: u.Factor / o.Factor,
		Dims:   u.Dims.combine(o.Dims, -1),
	}
}

// Pow returns u raised to an integer power.
func (u Unit) Pow(n int) Unit {
	name := u.String()
	if strings.ContainsAny(name, "*/ ") {
		name = "(" + name + ")"
	}

	return Unit{
		Name:   fmt.Sprintf("%s^%d", name, n),
		Factor: math.Pow(u.Factor, float64(n)),
		Dims:   u.Dims.pow(n),
	}
}

// ConversionFactor returns the multiplier that converts a value in u into o.
func (u Unit) ConversionFactor(o Unit) (float64, error) {
	if !u.Compatible(o) {
		return 0, fmt.Errorf("%w: %s %s and %s %s", ErrIncompatibleUnits, u, u.Dims, o, o.Dims)
	}

	return u.Factor / o.Factor, nil
}

// Convert converts value from unit from into unit to.
func Convert(value float64, from, to Unit) (float64, error) {
	f, err := from.ConversionFactor(to)
	if err != nil {
		return 0, err
	}

	return value * f, nil
}

func joinName(a, b Unit, op string) string {
	an, bn := a.String(), b.String()

	switch {
	case an == "1" && op == "*":
		return bn
	case bn == "1":
		return an
	}

	if op == "/" && strings.ContainsAny(bn, "*/ ") {
		bn = "(" + bn + ")"
	}

	return an + op + bn
}

func almostEqual(a, b float64) bool {
	if a == b {
		return true
	}

	return math.Abs(a-b) <= 1e-12*math.Max(math.Abs(a), math.Abs(b))
}
