package expr

import (
	"math"
)

// Env binds identifiers to values.
type Env map[string]float64

type builtin struct {
	arity int
	fn    func(args []float64) (float64, error)
}

//nolint:gochecknoglobals // constant table
var builtins = map[string]builtin{
	"abs":  {1, func(a []float64) (float64, error) { return math.Abs(a[0]), nil }},
	"exp":  {1, func(a []float64) (float64, error) { return math.Exp(a[0]), nil }},
	"sin":  {1, func(a []float64) (float64, error) { return math.Sin(a[0]), nil }},
	"cos":  {1, func(a []float64) (float64, error) { return math.Cos(a[0]), nil }},
	"sqrt": {1, func(a []float64) (float64, error) {
		if a[0] < 0 {
			return 0, errorf(ErrDomain, "sqrt(%g)", a[0])
		}
		return math.Sqrt(a[0]), nil
	}},
	"log": {1, func(a []float64) (float64, error) {
		if a[0] <= 0 {
			return 0, errorf(ErrDomain, "log(%g)", a[0])
		}
		return math.Log(a[0]), nil
	}},
	"min": {-1, func(a []float64) (float64, error) {
		m := a[0]
		for _, v := range a[1:] {
			m = math.Min(m, v)
		}
		return m, nil
	}},
	"max": {-1, func(a []float64) (float64, error) {
		m := a[0]
		for _, v := range a[1:] {
			m = math.Max(m, v)
		}
		return m, nil
	}},
}

// Eval evaluates n with identifiers bound by env.
func Eval(n Node, env Env) (float64, error) {
	switch v := n.(type) {
	case Number:
		return v.Value, nil
	case Ident:
		val, ok := env[v.Name]
		if !ok {
			return 0, errorf(ErrUnbound, "%s", v.Name)
		}
		return val, nil
	case Unary:
		x, err := Eval(v.X, env)
		if err != nil {
			return 0, err
		}
		return -x, nil
	case Binary:
		l, err := Eval(v.L, env)
		if err != nil {
			return 0, err
		}

		r, err := Eval(v.R, env)
		if err != nil {
			return 0, err
		}

		return applyBinary(v.Op, l, r)
	case Call:
		b, ok := builtins[v.Fn]
		if !ok {
			return 0, errorf(ErrUnknownFunction, "%s", v.Fn)
		}

		if (b.arity >= 0 && len(v.Args) != b.arity) || len(v.Args) == 0 {
			return 0, errorf(ErrArity, "%s takes %d, got %d", v.Fn, b.arity, len(v.Args))
		}

		args := make([]float64, len(v.Args))
		for i, a := range v.Args {
			x, err := Eval(a, env)
			if err != nil {
				return 0, err
			}
			args[i] = x
		}

		return b.fn(args)
	default:
		return 0, errorf(ErrSyntax, "unsupported node %T", n)
	}
}

func applyBinary(op rune, l, r float64) (float64, error) {
	switch op {
	case '+':
		return l + r, nil
	case '-':
		return l - r, nil
	case '*':
		return l * r, nil
	case '/':
		if r == 0 {
			return 0, errorf(ErrDomain, "%g / 0", l)
		}
		return l / r, nil
	case '^':
		return math.Pow(l, r), nil
	default:
		return 0, errorf(ErrSyntax, "unknown operator %q", op)
	}
}

// Substitute returns a copy of n with every identifier bound in env
// replaced by its value. n is left untouched.
func Substitute(n Node, env Env) Node {
	switch v := n.(type) {
	case Ident:
		if val, ok := env[v.Name]; ok {
			return Number{Value: val}
		}
		return v
	case Unary:
		return Unary{Op: v.Op, X: Substitute(v.X, env)}
	case Binary:
		return Binary{Op: v.Op, L: Substitute(v.L, env), R: Substitute(v.R, env)}
	case Call:
		args := make([]Node, len(v.Args))
		for i, a := range v.Args {
			args[i] = Substitute(a, env)
		}
		return Call{Fn: v.Fn, Args: args}
	default:
		return n
	}
}

// Simplify folds constant subtrees and removes neutral elements
// (x+0, x*1, x/1, x^1) and absorbing zeros (x*0).
func Simplify(n Node) Node {
	switch v := n.(type) {
	case Unary:
		x := Simplify(v.X)
		if c, ok := Const(x); ok {
			return Number{Value: -c}
		}
		if inner, ok := x.(Unary); ok {
			return inner.X
		}
		return Unary{Op: v.Op, X: x}
	case Binary:
		return simplifyBinary(v.Op, Simplify(v.L), Simplify(v.R))
	case Call:
		args := make([]Node, len(v.Args))
		allConst := true
		for i, a := range v.Args {
			args[i] = Simplify(a)
			if _, ok := Const(args[i]); !ok {
				allConst = false
			}
		}

		out := Call{Fn: v.Fn, Args: args}
		if allConst {
			if val, err := Eval(out, nil); err == nil {
				return Number{Value: val}
			}
		}

		return out
	default:
		return n
	}
}

func simplifyBinary(op rune, l, r Node) Node {
	lc, lok := Const(l)
	rc, rok := Const(r)

	if lok && rok {
		if val, err := applyBinary(op, lc, rc); err == nil {
			return Number{Value: val}
		}
	}

	switch op {
	case '+':
		if lok && lc == 0 {
			return r
		}
		if rok && rc == 0 {
			return l
		}
	case '-':
		if rok && rc == 0 {
			return l
		}
		if lok && lc == 0 {
			return Unary{Op: '-', X: r}
		}
	case '*':
		if (lok && lc == 0) || (rok && rc == 0) {
			return Number{Value: 0}
		}
		if lok && lc == 1 {
			return r
		}
		if rok && rc == 1 {
			return l
		}
	case '/':
		if rok && rc == 1 {
			return l
		}
	case '^':
		if rok && rc == 1 {
			return l
		}
		if rok && rc == 0 {
			return Number{Value: 1}
		}
	}

	return Binary{Op: op, L: l, R: r}
}
