// Package uncertainty describes the uncertainty attached to a scalar and
// propagates it through arithmetic with first-order (linear) error
// propagation.
package uncertainty

import (
	"errors"
	"fmt"
	"math"
)

// Uncertainty errors
var (
	// ErrUncertainty is the root of every propagation failure
	ErrUncertainty = errors.New("uncertainty error")
	// ErrDivisionSingularity is returned when dividing by a quantity whose interval includes zero
	ErrDivisionSingularity = fmt.Errorf("%w: divisor interval includes zero", ErrUncertainty)
	// ErrInvalidDescriptor is returned for negative spreads or inverted bounds
	ErrInvalidDescriptor = fmt.Errorf("%w: invalid descriptor", ErrUncertainty)
	// ErrUnknownOp is returned for an operation outside add, sub, mul and div
	ErrUnknownOp = fmt.Errorf("%w: unknown operation", ErrUncertainty)
)

// Kind identifies the descriptor shape.
type Kind int

// Descriptor kinds, ordered by how much distribution information they carry.
const (
	KindNone Kind = iota
	KindInterval
	KindUniform
	KindNormal
)

var kindNames = map[Kind]string{ //nolint:gochecknoglobals // constant table
	KindNone:     "none",
	KindInterval: "interval",
	KindUniform:  "uniform",
	KindNormal:   "normal",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	for kind, name := range kindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}

	return fmt.Errorf("%w: kind %q", ErrInvalidDescriptor, string(b))
}

// Uncertainty is an optional descriptor. The zero value is a point value.
//
// Interval carries a symmetric half-width around the value, Normal a
// standard deviation, Uniform absolute lower and upper bounds.
type Uncertainty struct {
	Kind      Kind    `json:"kind"`
	HalfWidth float64 `json:"half_width,omitempty"`
	Sigma     float64 `json:"sigma,omitempty"`
	Lower     float64 `json:"lower,omitempty"`
	Upper     float64 `json:"upper,omitempty"`
}

// Point returns the descriptor of an exact value.
func Point() Uncertainty {
	return Uncertainty{}
}

// PlusMinus returns a symmetric interval value ± h.
func PlusMinus(h float64) Uncertainty {
	return Uncertainty{Kind: KindInterval, HalfWidth: math.Abs(h)}
}

// Normal returns a normal distribution with standard deviation sigma.
func Normal(sigma float64) Uncertainty {
	return Uncertainty{Kind: KindNormal, Sigma: math.Abs(sigma)}
}

// Bounds returns a uniform distribution over [lo, hi].
func Bounds(lo, hi float64) Uncertainty {
	return Uncertainty{Kind: KindUniform, Lower: lo, Upper: hi}
}

// Validate checks the descriptor is well formed.
func (u Uncertainty) Validate() error {
	switch u.Kind {
	case KindNone:
		return nil
	case KindInterval:
		if u.HalfWidth < 0 || math.IsNaN(u.HalfWidth) {
			return fmt.Errorf("%w: negative half-width %v", ErrInvalidDescriptor, u.HalfWidth)
		}
	case KindNormal:
		if u.Sigma < 0 || math.IsNaN(u.Sigma) {
			return fmt.Errorf("%w: negative sigma %v", ErrInvalidDescriptor, u.Sigma)
		}
	case KindUniform:
		if u.Lower > u.Upper {
			return fmt.Errorf("%w: lower bound %v above upper bound %v", ErrInvalidDescriptor, u.Lower, u.Upper)
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidDescriptor, u.Kind)
	}

	return nil
}

// IsPoint reports whether the descriptor carries no spread.
func (u Uncertainty) IsPoint() bool {
	return u.StdDev() == 0 && u.Kind != KindUniform
}

// StdDev returns the standard deviation implied by the descriptor. The
// half-width of an interval is read as one standard deviation.
func (u Uncertainty) StdDev() float64 {
	switch u.Kind {
	case KindInterval:
		return u.HalfWidth
	case KindNormal:
		return u.Sigma
	case KindUniform:
		return (u.Upper - u.Lower) / math.Sqrt(12)
	default:
		return 0
	}
}

// Variance is StdDev squared.
func (u Uncertainty) Variance() float64 {
	s := u.StdDev()
	return s * s
}

// Interval returns the bounds around value the descriptor covers.
func (u Uncertainty) Interval(value float64) (float64, float64) {
	switch u.Kind {
	case KindUniform:
		return u.Lower, u.Upper
	default:
		s := u.StdDev()
		return value - s, value + s
	}
}

// SpansZero reports whether zero lies within the interval around value.
func (u Uncertainty) SpansZero(value float64) bool {
	lo, hi := u.Interval(value)
	return lo <= 0 && hi >= 0
}

// Scale returns the descriptor of k*x given the descriptor of x, as used
// by unit conversion.
func (u Uncertainty) Scale(k float64) Uncertainty {
	out := u
	out.HalfWidth = math.Abs(k) * u.HalfWidth
	out.Sigma = math.Abs(k) * u.Sigma
	out.Lower, out.Upper = k*u.Lower, k*u.Upper

	if out.Lower > out.Upper {
		out.Lower, out.Upper = out.Upper, out.Lower
	}

	return out
}

// String renders the spread, e.g. "±2" or "σ=0.5".
func (u Uncertainty) String() string {
	switch u.Kind {
	case KindInterval:
		return fmt.Sprintf("±%g", u.HalfWidth)
	case KindNormal:
		return fmt.Sprintf("σ=%g", u.Sigma)
	case KindUniform:
		return fmt.Sprintf("[%g, %g]", u.Lower, u.Upper)
	default:
		return ""
	}
}
