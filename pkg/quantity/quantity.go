// Package quantity combines values, units and uncertainty. A Quantity is
// either numeric or symbolic: symbolic quantities carry an expression over
// scenario parameters and defer uncertainty propagation until every
// parameter has been substituted.
package quantity

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/ethpandaops/nis/pkg/expr"
	"github.com/ethpandaops/nis/pkg/uncertainty"
	"github.com/ethpandaops/nis/pkg/units"
)

// Op is an arithmetic operation accepted by Combine.
type Op = uncertainty.Op

// Operations accepted by Combine.
const (
	Add = uncertainty.OpAdd
	Sub = uncertainty.OpSub
	Mul = uncertainty.OpMul
	Div = uncertainty.OpDiv
)

// Quantity is a value in a unit with an optional uncertainty descriptor.
//
// When Expr is set the quantity is symbolic: Value is unused and the
// quantity equals Expr (a dimensionless expression) times Unit. Numeric
// operands folded into a symbolic quantity keep their uncertainty as
// bound operands until Substitute evaluates the tree.
type Quantity struct {
	Value       float64
	Unit        units.Unit
	Uncertainty uncertainty.Uncertainty
	Expr        expr.Node

	bound map[string]uncertainty.Operand
}

// New returns a point quantity.
func New(value float64, unit units.Unit) Quantity {
	return Quantity{Value: value, Unit: unit}
}

// Parse builds a quantity from a value and a unit expression resolved in
// the default registry.
func Parse(value float64, unit string) (Quantity, error) {
	u, err := units.Parse(unit)
	if err != nil {
		return Quantity{}, err
	}

	return New(value, u), nil
}

// Must panics when err is non-nil.
func Must(q Quantity, err error) Quantity {
	if err != nil {
		panic(err)
	}

	return q
}

// Symbolic returns a quantity worth n times unit.
func Symbolic(n expr.Node, unit units.Unit) Quantity {
	return Quantity{Expr: n, Unit: unit}
}

// WithUncertainty returns a copy carrying u.
func (q Quantity) WithUncertainty(u uncertainty.Uncertainty) Quantity {
	q.Uncertainty = u
	return q
}

// IsSymbolic reports whether the quantity still holds an expression.
func (q Quantity) IsSymbolic() bool {
	return q.Expr != nil
}

// Params returns the free scenario parameters of a symbolic quantity.
func (q Quantity) Params() []string {
	if q.Expr == nil {
		return nil
	}

	var out []string

	for _, name := range expr.Idents(q.Expr) {
		if _, ok := q.bound[name]; !ok {
			out = append(out, name)
		}
	}

	return out
}

// Interval returns the lower and upper bound implied by the uncertainty.
func (q Quantity) Interval() (float64, float64) {
	return q.Uncertainty.Interval(q.Value)
}

// String renders "10 ± 2 kg" for numeric and "(a * 2) t" for symbolic quantities.
func (q Quantity) String() string {
	if q.Expr != nil {
		return fmt.Sprintf("(%s) %s", q.Expr, q.Unit)
	}

	var b strings.Builder

	b.WriteString(fmt.Sprintf("%g", q.Value))

	switch q.Uncertainty.Kind {
	case uncertainty.KindNone:
	case uncertainty.KindInterval:
		b.WriteString(fmt.Sprintf(" ± %g", q.Uncertainty.HalfWidth))
	default:
		b.WriteString(" " + q.Uncertainty.String())
	}

	b.WriteString(" " + q.Unit.String())

	return b.String()
}

// Convert expresses q in target.
func Convert(q Quantity, target units.Unit) (Quantity, error) {
	f, err := q.Unit.ConversionFactor(target)
	if err != nil {
		return Quantity{}, err
	}

	out := q.scale(f)
	out.Unit = target

	return out, nil
}

func (q Quantity) scale(f float64) Quantity {
	out := q

	if q.Expr != nil {
		if f != 1 {
			out.Expr = expr.Simplify(expr.Binary{Op: '*', L: q.Expr, R: expr.Number{Value: f}})
		}

		return out
	}

	out.Value = q.Value * f
	out.Uncertainty = q.Uncertainty.Scale(f)

	return out
}

// Combine applies op to two independent quantities. Addition and
// subtraction convert q2 into q1's unit; multiplication and division
// combine unit exponents.
func Combine(op Op, q1, q2 Quantity) (Quantity, error) {
	return CombineCorrelated(op, q1, q2, 0)
}

// CombineCorrelated is Combine with an explicit covariance between the
// operands, expressed in the operands' own units.
func CombineCorrelated(op Op, q1, q2 Quantity, cov float64) (Quantity, error) {
	var unit units.Unit

	switch op {
	case Add, Sub:
		f, err := q2.Unit.ConversionFactor(q1.Unit)
		if err != nil {
			return Quantity{}, fmt.Errorf("%s %s and %s: %w", op, q1, q2, err)
		}

		q2 = q2.scale(f)
		cov *= f
		unit = q1.Unit
	case Mul:
		unit = q1.Unit.Mul(q2.Unit)
	case Div:
		unit = q1.Unit.Div(q2.Unit)
	default:
		return Quantity{}, fmt.Errorf("%w: %q", uncertainty.ErrUnknownOp, op)
	}

	if q1.IsSymbolic() || q2.IsSymbolic() {
		return combineSymbolic(op, q1, q2, unit), nil
	}

	a := uncertainty.Operand{Value: q1.Value, Uncertainty: q1.Uncertainty}
	b := uncertainty.Operand{Value: q2.Value, Uncertainty: q2.Uncertainty}

	u, err := uncertainty.Propagate(op, a, b, cov)
	if err != nil {
		return Quantity{}, fmt.Errorf("%s %s and %s: %w", op, q1, q2, err)
	}

	v, err := uncertainty.Apply(op, q1.Value, q2.Value)
	if err != nil {
		return Quantity{}, fmt.Errorf("%s %s and %s: %w", op, q1, q2, err)
	}

	return Quantity{Value: v, Unit: unit, Uncertainty: u}, nil
}

// Sum adds quantities left to right in the unit of the first one.
func Sum(qs ...Quantity) (Quantity, error) {
	if len(qs) == 0 {
		return New(0, units.Dimensionless), nil
	}

	acc := qs[0]

	for _, q := range qs[1:] {
		var err error

		acc, err = Combine(Add, acc, q)
		if err != nil {
			return Quantity{}, err
		}
	}

	return acc, nil
}

// Scale multiplies q by a dimensionless exact factor.
func Scale(q Quantity, k float64) Quantity {
	return q.scale(k)
}

// ApproxEqual reports whether both quantities are numeric, share
// dimensions and differ by at most tol once expressed in a's unit.
func ApproxEqual(a, b Quantity, tol float64) bool {
	if a.IsSymbolic() || b.IsSymbolic() {
		return false
	}

	conv, err := Convert(b, a.Unit)
	if err != nil {
		return false
	}

	return math.Abs(a.Value-conv.Value) <= tol
}

type wireQuantity struct {
	Value       float64                  `json:"value"`
	Unit        units.Unit               `json:"unit"`
	Uncertainty *uncertainty.Uncertainty `json:"uncertainty,omitempty"`
	Expr        string                   `json:"expr,omitempty"`
}

// MarshalJSON implements json.Marshaler. Symbolic quantities with bound
// operands are substituted first so no operand is lost.
func (q Quantity) MarshalJSON() ([]byte, error) {
	w := wireQuantity{Value: q.Value, Unit: q.Unit}

	if q.Expr != nil {
		if len(q.bound) > 0 {
			return nil, fmt.Errorf("%w: symbolic quantity with bound operands cannot be serialised", expr.ErrUnbound)
		}

		w.Expr = q.Expr.String()
	}

	if q.Uncertainty.Kind != uncertainty.KindNone {
		u := q.Uncertainty
		w.Uncertainty = &u
	}

	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (q *Quantity) UnmarshalJSON(b []byte) error {
	var w wireQuantity
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}

	*q = Quantity{Value: w.Value, Unit: w.Unit}

	if w.Uncertainty != nil {
		q.Uncertainty = *w.Uncertainty
	}

	if w.Expr != "" {
		n, err := expr.Parse(w.Expr)
		if err != nil {
			return err
		}

		q.Expr = n
	}

	return nil
}
