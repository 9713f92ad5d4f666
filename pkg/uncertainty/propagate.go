package uncertainty

import (
	"fmt"
	"math"
)

// Op is an arithmetic operation.
type Op string

// Supported operations.
const (
	OpAdd Op = "add"
	OpSub Op = "sub"
	OpMul Op = "mul"
	OpDiv Op = "div"
)

// Operand is a value with its descriptor.
type Operand struct {
	Value       float64
	Uncertainty Uncertainty
}

// Propagate returns the descriptor of a op b using first-order variance
// propagation. cov is the covariance between the operands; pass zero for
// independent inputs.
//
// The result keeps the richest input kind: two intervals yield an interval,
// anything involving a distribution yields a normal. A uniform result is
// never produced since sums of uniforms are not uniform.
func Propagate(op Op, a, b Operand, cov float64) (Uncertainty, error) {
	if err := a.Uncertainty.Validate(); err != nil {
		return Uncertainty{}, err
	}

	if err := b.Uncertainty.Validate(); err != nil {
		return Uncertainty{}, err
	}

	if op == OpDiv && (b.Value == 0 || (b.Uncertainty.Kind != KindNone && b.Uncertainty.SpansZero(b.Value))) {
		return Uncertainty{}, fmt.Errorf("%w: %g %s", ErrDivisionSingularity, b.Value, b.Uncertainty)
	}

	sa, sb := a.Uncertainty.StdDev(), b.Uncertainty.StdDev()

	var variance float64

	switch op {
	case OpAdd:
		variance = sa*sa + sb*sb + 2*cov
	case OpSub:
		variance = sa*sa + sb*sb - 2*cov
	case OpMul:
		variance = (b.Value*sa)*(b.Value*sa) + (a.Value*sb)*(a.Value*sb) + 2*a.Value*b.Value*cov
	case OpDiv:
		da := sa / b.Value
		db := a.Value * sb / (b.Value * b.Value)
		variance = da*da + db*db - 2*a.Value/(b.Value*b.Value*b.Value)*cov
	default:
		return Uncertainty{}, fmt.Errorf("%w: %q", ErrUnknownOp, op)
	}

	if variance < 0 {
		variance = 0
	}

	return withSpread(resultKind(a.Uncertainty.Kind, b.Uncertainty.Kind), math.Sqrt(variance)), nil
}

// Apply computes a op b on plain values.
func Apply(op Op, a, b float64) (float64, error) {
	switch op {
	case OpAdd:
		return a + b, nil
	case OpSub:
		return a - b, nil
	case OpMul:
		return a * b, nil
	case OpDiv:
		if b == 0 {
			return 0, fmt.Errorf("%w: division by zero", ErrDivisionSingularity)
		}
		return a / b, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownOp, op)
	}
}

func resultKind(a, b Kind) Kind {
	k := a
	if b > k {
		k = b
	}

	if k == KindUniform {
		return KindNormal
	}

	return k
}

func withSpread(kind Kind, sd float64) Uncertainty {
	switch kind {
	case KindNone:
		if sd == 0 {
			return Point()
		}
		return Normal(sd)
	case KindInterval:
		return PlusMinus(sd)
	default:
		return Normal(sd)
	}
}

// InverseVarianceWeights returns weights proportional to 1/σ² for the
// given descriptors, normalised to sum to one. ok is false when any
// descriptor is a point value, since its weight would be infinite.
func InverseVarianceWeights(us []Uncertainty) ([]float64, bool) {
	weights := make([]float64, len(us))

	var total float64

	for i, u := range us {
		v := u.Variance()
		if v == 0 {
			return nil, false
		}

		weights[i] = 1 / v
		total += weights[i]
	}

	for i := range weights {
		weights[i] /= total
	}

	return weights, true
}
