package units

import (
	"fmt"
	"strings"
	"sync"
)

// Definition declares a unit. Exactly one of Base or Expr must be set:
// Base makes the unit the canonical unit of a new base dimension, Expr
// defines it relative to units already in the registry (e.g. "1000 kg").
type Definition struct {
	Symbol     string
	Base       string
	Expr       string
	Aliases    []string
	Prefixable bool
}

// Registry maps unit names to units. Readers never block each other;
// Define takes the write lock.
type Registry struct {
	mu         sync.RWMutex
	symbols    map[string]Unit
	names      map[string]string
	folded     map[string]string
	prefixable map[string]bool
}

// NewRegistry returns a registry preloaded with the builtin units.
func NewRegistry() *Registry {
	r := NewEmptyRegistry()

	for _, def := range builtinDefinitions() {
		if err := r.Define(def); err != nil {
			panic(fmt.Sprintf("invalid builtin unit %q: %v", def.Symbol, err))
		}
	}

	return r
}

// NewEmptyRegistry returns a registry without any unit.
func NewEmptyRegistry() *Registry {
	return &Registry{
		symbols:    make(map[string]Unit),
		names:      make(map[string]string),
		folded:     make(map[string]string),
		prefixable: make(map[string]bool),
	}
}

//nolint:gochecknoglobals // process-wide default registry
var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the shared process-wide registry.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})

	return defaultRegistry
}

// Parse parses expr with the default registry.
func Parse(expr string) (Unit, error) {
	return Default().Parse(expr)
}

// MustParse is Parse that panics, for unit literals in tests and builtins.
func MustParse(expr string) Unit {
	u, err := Parse(expr)
	if err != nil {
		panic(err)
	}

	return u
}

// Define registers a unit. Symbols match exactly first and then
// case-insensitively, after aliases, so "Head" resolves to "head" while "a"
// stays the year alias rather than the ampere.
func (r *Registry) Define(def Definition) error {
	if def.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidExpression)
	}

	var u Unit

	switch {
	case def.Base != "" && def.Expr != "":
		return fmt.Errorf("%w: %s declares both base and expression", ErrInvalidExpression, def.Symbol)
	case def.Base != "":
		u = Unit{Factor: 1, Dims: Dims{def.Base: 1}}
	case def.Expr != "":
		parsed, err := r.Parse(def.Expr)
		if err != nil {
			return fmt.Errorf("defining %s: %w", def.Symbol, err)
		}
		u = parsed
	default:
		u = Unit{Factor: 1}
	}

	u.Name = def.Symbol

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.symbols[def.Symbol]; ok {
		return fmt.Errorf("%w: %s", ErrUnitExists, def.Symbol)
	}

	r.symbols[def.Symbol] = u
	r.prefixable[def.Symbol] = def.Prefixable

	if lower := strings.ToLower(def.Symbol); lower != def.Symbol {
		if _, ok := r.folded[lower]; !ok {
			r.folded[lower] = def.Symbol
		}
	}

	for _, alias := range def.Aliases {
		r.names[strings.ToLower(alias)] = def.Symbol
	}

	return nil
}

// Lookup resolves a single unit name: exact symbol, then alias, then an SI
// prefix on a prefixable symbol. The returned unit keeps the requested name.
func (r *Registry) Lookup(name string) (Unit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if u, ok := r.lookupLocked(name); ok {
		return u, nil
	}

	return Unit{}, fmt.Errorf("%w: %q", ErrUnknownUnit, name)
}

func (r *Registry) lookupLocked(name string) (Unit, bool) {
	if u, ok := r.symbols[name]; ok {
		return u, true
	}

	lower := strings.ToLower(name)

	if sym, ok := r.names[lower]; ok {
		u := r.symbols[sym]
		u.Name = name

		return u, true
	}

	if u, ok := r.symbols[lower]; ok {
		u.Name = name

		return u, true
	}

	if sym, ok := r.folded[lower]; ok {
		u := r.symbols[sym]
		u.Name = name

		return u, true
	}

	for _, p := range siPrefixes {
		if !strings.HasPrefix(name, p.symbol) || len(name) == len(p.symbol) {
			continue
		}

		base := name[len(p.symbol):]
		if u, ok := r.symbols[base]; ok && r.prefixable[base] {
			return Unit{Name: name, Factor: u.Factor * p.factor, Dims: u.Dims}, true
		}
	}

	return Unit{}, false
}

// Symbols returns the registered base symbols.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.symbols))
	for s := range r.symbols {
		out = append(out, s)
	}

	return out
}

type prefix struct {
	symbol string
	factor float64
}

// Longest symbols first so "da" wins over "d".
//
//nolint:gochecknoglobals // constant table
var siPrefixes = []prefix{
	{"da", 1e1},
	{"Y", 1e24}, {"Z", 1e21}, {"E", 1e18}, {"P", 1e15}, {"T", 1e12},
	{"G", 1e9}, {"M", 1e6}, {"k", 1e3}, {"h", 1e2},
	{"d", 1e-1}, {"c", 1e-2}, {"m", 1e-3}, {"u", 1e-6}, {"µ", 1e-6},
	{"n", 1e-9}, {"p", 1e-12}, {"f", 1e-15},
}
