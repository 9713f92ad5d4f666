package quantity

import (
	"fmt"
	"math"
	"strconv"

	"github.com/ethpandaops/nis/pkg/expr"
	"github.com/ethpandaops/nis/pkg/uncertainty"
	"github.com/ethpandaops/nis/pkg/units"
)

// Bound operand names start with '$', which the expression parser never
// produces, so they cannot collide with parameter names.
const boundPrefix = "$"

func combineSymbolic(op Op, q1, q2 Quantity, unit units.Unit) Quantity {
	bound := make(map[string]uncertainty.Operand, len(q1.bound)+len(q2.bound)+2)

	left := q1.operandNode(bound)
	right := q2.operandNode(bound)

	var sym rune

	switch op {
	case Add:
		sym = '+'
	case Sub:
		sym = '-'
	case Mul:
		sym = '*'
	default:
		sym = '/'
	}

	out := Quantity{Expr: expr.Binary{Op: sym, L: left, R: right}, Unit: unit, bound: bound}
	if len(bound) == 0 {
		out.bound = nil
	}

	return out
}

// operandNode returns the dimensionless expression for q's magnitude,
// registering bound operands in into.
func (q Quantity) operandNode(into map[string]uncertainty.Operand) expr.Node {
	if q.Expr == nil {
		if q.Uncertainty.Kind == uncertainty.KindNone {
			return expr.Number{Value: q.Value}
		}

		name := nextBound(into)
		into[name] = uncertainty.Operand{Value: q.Value, Uncertainty: q.Uncertainty}

		return expr.Ident{Name: name}
	}

	if len(q.bound) == 0 {
		return q.Expr
	}

	renames := make(map[string]string, len(q.bound))
	for old, op := range q.bound {
		name := nextBound(into)
		into[name] = op
		renames[old] = name
	}

	return rename(q.Expr, renames)
}

func nextBound(in map[string]uncertainty.Operand) string {
	return boundPrefix + strconv.Itoa(len(in))
}

func rename(n expr.Node, names map[string]string) expr.Node {
	switch v := n.(type) {
	case expr.Ident:
		if to, ok := names[v.Name]; ok {
			return expr.Ident{Name: to}
		}
		return v
	case expr.Unary:
		return expr.Unary{Op: v.Op, X: rename(v.X, names)}
	case expr.Binary:
		return expr.Binary{Op: v.Op, L: rename(v.L, names), R: rename(v.R, names)}
	case expr.Call:
		args := make([]expr.Node, len(v.Args))
		for i, a := range v.Args {
			args[i] = rename(a, names)
		}
		return expr.Call{Fn: v.Fn, Args: args}
	default:
		return n
	}
}

// Substitute binds scenario parameters. When no free parameter remains the
// expression is evaluated and uncertainty is propagated through every
// node; otherwise a simplified symbolic quantity is returned. q is never
// modified.
func (q Quantity) Substitute(params expr.Env) (Quantity, error) {
	if q.Expr == nil {
		return q, nil
	}

	n := expr.Simplify(expr.Substitute(q.Expr, params))

	out := Quantity{Unit: q.Unit, bound: q.bound}

	for _, name := range expr.Idents(n) {
		if _, ok := q.bound[name]; !ok {
			out.Expr = n
			return out, nil
		}
	}

	op, err := evalOperand(n, q.bound)
	if err != nil {
		return Quantity{}, fmt.Errorf("evaluating %s: %w", q.Expr, err)
	}

	out.Value = op.Value
	out.Uncertainty = op.Uncertainty
	out.bound = nil

	if q.Uncertainty.Kind != uncertainty.KindNone {
		out.Uncertainty = q.Uncertainty
	}

	return out, nil
}

// Evaluate is Substitute that fails when a parameter stays unbound.
func (q Quantity) Evaluate(params expr.Env) (Quantity, error) {
	out, err := q.Substitute(params)
	if err != nil {
		return Quantity{}, err
	}

	if out.IsSymbolic() {
		return Quantity{}, fmt.Errorf("%w: %v", expr.ErrUnbound, out.Params())
	}

	return out, nil
}

func evalOperand(n expr.Node, bound map[string]uncertainty.Operand) (uncertainty.Operand, error) {
	switch v := n.(type) {
	case expr.Number:
		return uncertainty.Operand{Value: v.Value}, nil
	case expr.Ident:
		op, ok := bound[v.Name]
		if !ok {
			return uncertainty.Operand{}, fmt.Errorf("%w: %s", expr.ErrUnbound, v.Name)
		}
		return op, nil
	case expr.Unary:
		x, err := evalOperand(v.X, bound)
		if err != nil {
			return uncertainty.Operand{}, err
		}
		return uncertainty.Operand{Value: -x.Value, Uncertainty: x.Uncertainty}, nil
	case expr.Binary:
		l, err := evalOperand(v.L, bound)
		if err != nil {
			return uncertainty.Operand{}, err
		}

		r, err := evalOperand(v.R, bound)
		if err != nil {
			return uncertainty.Operand{}, err
		}

		if v.Op == '^' {
			return power(l, r)
		}

		op := map[rune]Op{'+': Add, '-': Sub, '*': Mul, '/': Div}[v.Op]

		u, err := uncertainty.Propagate(op, l, r, 0)
		if err != nil {
			return uncertainty.Operand{}, err
		}

		val, err := uncertainty.Apply(op, l.Value, r.Value)
		if err != nil {
			return uncertainty.Operand{}, err
		}

		return uncertainty.Operand{Value: val, Uncertainty: u}, nil
	case expr.Call:
		return call(v, bound)
	default:
		return uncertainty.Operand{}, fmt.Errorf("%w: node %T", expr.ErrSyntax, n)
	}
}

// power propagates d(x^y) = y*x^(y-1) dx + ln(x)*x^y dy.
func power(x, y uncertainty.Operand) (uncertainty.Operand, error) {
	val := math.Pow(x.Value, y.Value)

	dx := y.Value * math.Pow(x.Value, y.Value-1) * x.Uncertainty.StdDev()

	var dy float64
	if sy := y.Uncertainty.StdDev(); sy != 0 {
		if x.Value <= 0 {
			return uncertainty.Operand{}, fmt.Errorf("%w: uncertain exponent on non-positive base", expr.ErrDomain)
		}
		dy = math.Log(x.Value) * val * sy
	}

	sd := math.Hypot(dx, dy)

	return uncertainty.Operand{Value: val, Uncertainty: spread(x.Uncertainty.Kind, y.Uncertainty.Kind, sd)}, nil
}

// call evaluates a builtin. Single-argument functions propagate through a
// central-difference derivative; min and max return the selected operand.
func call(c expr.Call, bound map[string]uncertainty.Operand) (uncertainty.Operand, error) {
	args := make([]uncertainty.Operand, len(c.Args))
	values := make([]expr.Node, len(c.Args))

	for i, a := range c.Args {
		op, err := evalOperand(a, bound)
		if err != nil {
			return uncertainty.Operand{}, err
		}

		args[i] = op
		values[i] = expr.Number{Value: op.Value}
	}

	val, err := expr.Eval(expr.Call{Fn: c.Fn, Args: values}, nil)
	if err != nil {
		return uncertainty.Operand{}, err
	}

	switch c.Fn {
	case "min", "max":
		for _, a := range args {
			if a.Value == val {
				return a, nil
			}
		}
	}

	if len(args) != 1 || args[0].Uncertainty.StdDev() == 0 {
		return uncertainty.Operand{Value: val}, nil
	}

	x := args[0].Value
	h := math.Max(math.Abs(x)*1e-6, 1e-9)

	hi, errHi := expr.Eval(expr.Call{Fn: c.Fn, Args: []expr.Node{expr.Number{Value: x + h}}}, nil)
	lo, errLo := expr.Eval(expr.Call{Fn: c.Fn, Args: []expr.Node{expr.Number{Value: x - h}}}, nil)

	if errHi != nil || errLo != nil {
		return uncertainty.Operand{}, fmt.Errorf("%w: %s near %g", expr.ErrDomain, c.Fn, x)
	}

	sd := math.Abs((hi-lo)/(2*h)) * args[0].Uncertainty.StdDev()

	return uncertainty.Operand{Value: val, Uncertainty: spread(args[0].Uncertainty.Kind, uncertainty.KindNone, sd)}, nil
}

func spread(a, b uncertainty.Kind, sd float64) uncertainty.Uncertainty {
	if a == uncertainty.KindInterval && b <= uncertainty.KindInterval || b == uncertainty.KindInterval && a == uncertainty.KindNone {
		return uncertainty.PlusMinus(sd)
	}

	if sd == 0 {
		return uncertainty.Point()
	}

	return uncertainty.Normal(sd)
}
