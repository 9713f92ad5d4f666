// Package expr holds arithmetic expression trees used for symbolic
// quantities, relation weights and scenario parameters. Trees are
// immutable: Substitute and Simplify always return new nodes.
package expr

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Expression errors
var (
	// ErrSyntax is returned when an expression cannot be parsed
	ErrSyntax = errors.New("expression syntax error")
	// ErrUnbound is returned when evaluating an identifier without a value
	ErrUnbound = errors.New("unbound identifier")
	// ErrUnknownFunction is returned for calls to functions outside the builtin set
	ErrUnknownFunction = errors.New("unknown function")
	// ErrArity is returned when a builtin function receives the wrong number of arguments
	ErrArity = errors.New("wrong number of arguments")
	// ErrDomain is returned for division by zero and similar undefined results
	ErrDomain = errors.New("value outside function domain")
)

// Node is an expression tree node.
type Node interface {
	String() string
	precedence() int
}

// Number is a numeric literal.
type Number struct {
	Value float64
}

// Ident is a free variable.
type Ident struct {
	Name string
}

// Unary is a negation.
type Unary struct {
	Op rune
	X  Node
}

// Binary is one of + - * / ^.
type Binary struct {
	Op   rune
	L, R Node
}

// Call is a builtin function application.
type Call struct {
	Fn   string
	Args []Node
}

func (n Number) String() string { return strconv.FormatFloat(n.Value, 'g', -1, 64) }
func (n Ident) String() string  { return n.Name }

func (n Unary) String() string {
	return string(n.Op) + wrap(n.X, n.precedence(), false)
}

func (n Binary) String() string {
	p := n.precedence()
	return wrap(n.L, p, n.Op == '^') + " " + string(n.Op) + " " + wrap(n.R, p, n.Op != '^')
}

func (n Call) String() string {
	args := make([]string, len(n.Args))
	for i, a := range n.Args {
		args[i] = a.String()
	}

	return n.Fn + "(" + strings.Join(args, ", ") + ")"
}

func (Number) precedence() int { return 5 }
func (Ident) precedence() int  { return 5 }
func (Call) precedence() int   { return 5 }
func (Unary) precedence() int  { return 3 }

func (n Binary) precedence() int {
	switch n.Op {
	case '+', '-':
		return 1
	case '*', '/':
		return 2
	default:
		return 4
	}
}

// wrap parenthesises child when needed. strict also wraps equal precedence,
// which keeps a - (b - c) and a / (b * c) intact.
func wrap(child Node, parent int, strict bool) string {
	p := child.precedence()
	if p < parent || (strict && p == parent) {
		return "(" + child.String() + ")"
	}

	return child.String()
}

// Idents returns the sorted distinct identifiers referenced by n.
func Idents(n Node) []string {
	seen := make(map[string]struct{})
	collect(n, seen)

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}

	sort.Strings(out)

	return out
}

func collect(n Node, seen map[string]struct{}) {
	switch v := n.(type) {
	case Ident:
		seen[v.Name] = struct{}{}
	case Unary:
		collect(v.X, seen)
	case Binary:
		collect(v.L, seen)
		collect(v.R, seen)
	case Call:
		for _, a := range v.Args {
			collect(a, seen)
		}
	}
}

// IsConstant reports whether n has no free identifiers.
func IsConstant(n Node) bool {
	return len(Idents(n)) == 0
}

// Const returns the value of a Number node.
func Const(n Node) (float64, bool) {
	num, ok := n.(Number)
	return num.Value, ok
}

func errorf(base error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", base, fmt.Sprintf(format, args...))
}
