// Package cube organizes facts into a multi-dimensional structure that can
// be sliced, diced, aggregated and navigated along dimension hierarchies.
// Every operation returns a new cube; the receiver is never modified.
package cube

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethpandaops/nis/pkg/facts"
)

// MeasureKey is the pseudo-dimension that selects measures in Slice.
const MeasureKey = "measure"

// Cube is a named collection of facts sharing a schema.
type Cube struct {
	name   string
	schema facts.Schema

	mu    sync.RWMutex
	facts []facts.Fact
}

// New validates every fact against schema and returns the cube.
func New(name string, schema facts.Schema, fs []facts.Fact) (*Cube, error) {
	c := &Cube{name: name, schema: schema, facts: make([]facts.Fact, 0, len(fs))}

	if err := c.Add(fs...); err != nil {
		return nil, err
	}

	return c, nil
}

// derived builds a cube from facts the receiver already validated.
func (c *Cube) derived(schema facts.Schema, fs []facts.Fact) *Cube {
	return &Cube{name: c.name, schema: schema, facts: fs}
}

// Add validates and appends facts. Nothing is added when any fact fails.
func (c *Cube) Add(fs ...facts.Fact) error {
	for _, f := range fs {
		if err := c.schema.Validate(f); err != nil {
			return fmt.Errorf("cube %s: %w", c.name, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.facts = append(c.facts, fs...)

	return nil
}

// Name returns the cube name.
func (c *Cube) Name() string { return c.name }

// Schema returns the cube schema.
func (c *Cube) Schema() facts.Schema { return c.schema }

// Len returns the number of facts.
func (c *Cube) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.facts)
}

// Facts returns a copy of the facts.
func (c *Cube) Facts() []facts.Fact {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return append([]facts.Fact(nil), c.facts...)
}

// Measures returns the distinct measures, sorted.
func (c *Cube) Measures() []string {
	seen := make(map[string]struct{})

	for _, f := range c.Facts() {
		seen[f.Measure()] = struct{}{}
	}

	return sortedSet(seen)
}

// Values returns the distinct values of dim, sorted.
func (c *Cube) Values(dim string) []string {
	seen := make(map[string]struct{})

	for _, f := range c.Facts() {
		if v, ok := f.Coordinates().Get(dim); ok {
			seen[v] = struct{}{}
		}
	}

	return sortedSet(seen)
}

// Find returns the fact of measure at coords.
func (c *Cube) Find(measure string, coords facts.Coordinates) (facts.Fact, bool) {
	for _, f := range c.Facts() {
		if strings.EqualFold(f.Measure(), measure) && f.Coordinates().Equal(coords) {
			return f, true
		}
	}

	return facts.Fact{}, false
}

// Predicate selects facts.
type Predicate func(facts.Fact) bool

// In selects facts whose dim value is one of values, case-insensitively.
func In(dim string, values ...string) Predicate {
	return func(f facts.Fact) bool {
		v, ok := f.Coordinates().Get(dim)
		if !ok {
			return false
		}

		return containsFold(values, v)
	}
}

// Measure selects facts of the given measures.
func Measure(names ...string) Predicate {
	return func(f facts.Fact) bool {
		return containsFold(names, f.Measure())
	}
}

// Periods selects facts whose time value lies in [start, end]. Zero bounds
// are open; generic and unparseable periods never match a bounded range.
func Periods(dim string, start, end int) Predicate {
	return func(f facts.Fact) bool {
		p, err := facts.ParsePeriod(f.Dimension(dim))
		if err != nil || p.Generic() {
			return start == 0 && end == 0
		}

		return p.InRange(start, end)
	}
}

// Dice keeps facts matching every predicate.
func (c *Cube) Dice(preds ...Predicate) *Cube {
	var out []facts.Fact

	for _, f := range c.Facts() {
		keep := true

		for _, p := range preds {
			if !p(f) {
				keep = false
				break
			}
		}

		if keep {
			out = append(out, f)
		}
	}

	return c.derived(c.schema, out)
}

// Slice keeps facts whose dimension values are listed in predicates. The
// MeasureKey entry filters measures. Empty value lists match everything.
func (c *Cube) Slice(predicates map[string][]string) (*Cube, error) {
	preds := make([]Predicate, 0, len(predicates))

	for _, dim := range sortedKeys(predicates) {
		values := predicates[dim]
		if len(values) == 0 {
			continue
		}

		if _, ok := c.schema.Dimension(dim); ok {
			preds = append(preds, In(dim, values...))
			continue
		}

		if strings.EqualFold(dim, MeasureKey) {
			preds = append(preds, Measure(values...))
			continue
		}

		return nil, fmt.Errorf("cube %s: %w: %s", c.name, facts.ErrUnknownDimension, dim)
	}

	return c.Dice(preds...), nil
}

func containsFold(values []string, v string) bool {
	for _, x := range values {
		if strings.EqualFold(x, v) {
			return true
		}
	}

	return false
}

func sortedSet(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}

	sort.Strings(out)

	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}

	sort.Strings(out)

	return out
}
