package expr

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/heimdalr/dag"
)

// Parameter errors
var (
	// ErrCircularParameters is returned when parameter definitions depend on each other
	ErrCircularParameters = errors.New("circular parameter definitions")
	// ErrUnresolvedParameters is returned when a parameter references an undefined name
	ErrUnresolvedParameters = errors.New("unresolved parameter references")
	// ErrDuplicateParameter is returned when a name is declared twice
	ErrDuplicateParameter = errors.New("duplicate parameter")
	// ErrUnknownParameter is returned when a scenario overrides an undeclared parameter
	ErrUnknownParameter = errors.New("unknown parameter")
	// ErrParameterOutOfRange is returned when a resolved value falls outside its declared range
	ErrParameterOutOfRange = errors.New("parameter out of range")
)

// Range bounds a parameter value, both ends inclusive.
type Range struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Parameter is a named value defined by a constant or an expression over
// other parameters.
type Parameter struct {
	Name        string `yaml:"name" json:"name"`
	Value       string `yaml:"value" json:"value"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Range       *Range `yaml:"range,omitempty" json:"range,omitempty"`
}

// ParameterSet holds the default definitions of a model's parameters.
// Names are case-insensitive.
type ParameterSet struct {
	params map[string]Parameter
	nodes  map[string]Node
}

// NewParameterSet parses the default definitions.
func NewParameterSet(params ...Parameter) (*ParameterSet, error) {
	s := &ParameterSet{
		params: make(map[string]Parameter, len(params)),
		nodes:  make(map[string]Node, len(params)),
	}

	for _, p := range params {
		key := strings.ToLower(p.Name)
		if _, ok := s.params[key]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateParameter, p.Name)
		}

		n, err := Parse(p.Value)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", p.Name, err)
		}

		s.params[key] = p
		s.nodes[key] = n
	}

	return s, nil
}

// Names returns the declared parameter names, sorted.
func (s *ParameterSet) Names() []string {
	out := make([]string, 0, len(s.params))
	for _, p := range s.params {
		out = append(out, p.Name)
	}

	sort.Strings(out)

	return out
}

// Resolve evaluates every parameter with the scenario overrides applied.
// Overrides are expressions too, so a scenario may define a parameter in
// terms of others. The returned Env is keyed by lower-cased name.
func (s *ParameterSet) Resolve(overrides map[string]string) (Env, error) {
	nodes := make(map[string]Node, len(s.nodes))
	for k, n := range s.nodes {
		nodes[k] = n
	}

	for name, value := range overrides {
		key := strings.ToLower(name)
		if _, ok := nodes[key]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownParameter, name)
		}

		n, err := Parse(value)
		if err != nil {
			return nil, fmt.Errorf("override %s: %w", name, err)
		}

		nodes[key] = n
	}

	deps, err := dependencyOrder(nodes)
	if err != nil {
		return nil, err
	}

	env := make(Env, len(nodes))

	for _, key := range deps {
		val, err := Eval(LowerIdents(nodes[key]), env)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", s.params[key].Name, err)
		}

		if r := s.params[key].Range; r != nil && (val < r.Min || val > r.Max) {
			return nil, fmt.Errorf("%w: %s = %g not in [%g, %g]", ErrParameterOutOfRange, s.params[key].Name, val, r.Min, r.Max)
		}

		env[key] = val
	}

	return env, nil
}

// dependencyOrder checks the references between parameters form a DAG and
// returns an evaluation order in which every parameter follows its inputs.
func dependencyOrder(nodes map[string]Node) ([]string, error) {
	g := dag.NewDAG()

	keys := make([]string, 0, len(nodes))
	for k := range nodes {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		if err := g.AddVertexByID(k, k); err != nil {
			return nil, fmt.Errorf("failed to add parameter %s: %w", k, err)
		}
	}

	inputs := make(map[string][]string, len(keys))

	var unresolved []string

	for _, k := range keys {
		for _, ref := range Idents(nodes[k]) {
			dep := strings.ToLower(ref)
			if _, ok := nodes[dep]; !ok {
				unresolved = append(unresolved, ref)
				continue
			}

			// AddEdge rejects self references and edges closing a loop.
			if err := g.AddEdge(dep, k); err != nil {
				return nil, fmt.Errorf("%w: %s -> %s: %v", ErrCircularParameters, dep, k, err)
			}

			inputs[k] = append(inputs[k], dep)
		}
	}

	if len(unresolved) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnresolvedParameters, strings.Join(unresolved, ", "))
	}

	order := make([]string, 0, len(keys))
	done := make(map[string]bool, len(keys))

	for len(order) < len(keys) {
		progressed := false

		for _, k := range keys {
			if done[k] || !allDone(inputs[k], done) {
				continue
			}

			done[k] = true
			order = append(order, k)
			progressed = true
		}

		if !progressed {
			return nil, ErrCircularParameters
		}
	}

	return order, nil
}

func allDone(keys []string, done map[string]bool) bool {
	for _, k := range keys {
		if !done[k] {
			return false
		}
	}

	return true
}

// LowerIdents returns n with every identifier lower-cased, matching the
// keys of a resolved Env.
func LowerIdents(n Node) Node {
	switch v := n.(type) {
	case Ident:
		return Ident{Name: strings.ToLower(v.Name)}
	case Unary:
		return Unary{Op: v.Op, X: LowerIdents(v.X)}
	case Binary:
		return Binary{Op: v.Op, L: LowerIdents(v.L), R: LowerIdents(v.R)}
	case Call:
		args := make([]Node, len(v.Args))
		for i, a := range v.Args {
			args[i] = LowerIdents(a)
		}
		return Call{Fn: v.Fn, Args: args}
	default:
		return n
	}
}
