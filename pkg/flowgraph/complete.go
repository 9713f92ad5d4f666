package flowgraph

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ethpandaops/nis/pkg/quantity"
	"github.com/ethpandaops/nis/pkg/units"
	"github.com/heimdalr/dag"
)

// Level grades an Issue.
type Level int

// Issue levels.
const (
	LevelInfo Level = iota + 1
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(b []byte) error {
	for _, c := range []Level{LevelInfo, LevelWarning, LevelError} {
		if strings.EqualFold(string(b), c.String()) {
			*l = c
			return nil
		}
	}

	return fmt.Errorf("unknown issue level %q", b)
}

// Issue is one finding of Complete. BottomUp marks findings about
// opposite weights.
type Issue struct {
	Level    Level  `json:"level"`
	Message  string `json:"message"`
	BottomUp bool   `json:"bottomUp,omitempty"`
}

func (i Issue) String() string {
	if i.BottomUp {
		return fmt.Sprintf("%s: bottom-up: %s", i.Level, i.Message)
	}

	return fmt.Sprintf("%s: %s", i.Level, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Level == LevelError {
			return true
		}
	}

	return false
}

// Complete checks the graph is acyclic and infers missing flow weights,
// first top-down from the outputs of each entity and then bottom-up, on
// opposite weights, from the inputs of each entity:
//
//   - one edge without weight, and no other edge: 1 over the weight of the
//     other direction when it is known, 1 otherwise
//   - one edge without weight among several: 1 minus the sum of the
//     others, when that sum does not exceed one; the entity is a split
//   - several edges without weight: nothing can be inferred
//
// A cycle is reported as an error and nothing is inferred.
func (g *Graph) Complete() []Issue {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.evaluator = nil

	if err := g.acyclicLocked(); err != nil {
		return []Issue{{Level: LevelError, Message: fmt.Sprintf("the graph contains cycles: %v", err)}}
	}

	order := g.topologicalLocked()

	var issues []Issue

	for _, n := range order {
		issues = append(issues, g.completeLocked(n, dirTopDown)...)
	}

	for i := len(order) - 1; i >= 0; i-- {
		issues = append(issues, g.completeLocked(order[i], dirBottomUp)...)
	}

	return issues
}

// direction selects which weight of a relation Complete works on.
type direction struct {
	bottomUp bool
}

//nolint:gochecknoglobals // direction values
var (
	dirTopDown  = direction{}
	dirBottomUp = direction{bottomUp: true}
)

// edges returns the relation ids leaving n in this direction.
func (d direction) edges(e *entity) []RelationID {
	if d.bottomUp {
		return e.in
	}

	return e.out
}

// weight returns the weight slot of r in this direction.
func (d direction) weight(r *relation) **quantity.Quantity {
	if d.bottomUp {
		return &r.opposite
	}

	return &r.weight
}

func (d direction) known(r *relation) bool {
	if d.bottomUp {
		return r.opposite != nil
	}

	return r.weight != nil || r.expr != nil
}

func (d direction) setSplit(e *entity, v bool) {
	if d.bottomUp {
		e.reverseSplit = v
	} else {
		e.split = v
	}
}

func (g *Graph) acyclicLocked() error {
	d := dag.NewDAG()

	for i := range g.entities {
		if err := d.AddVertexByID(strconv.Itoa(i), g.entities[i].name); err != nil {
			return err
		}
	}

	seen := make(map[[2]EntityID]struct{}, len(g.relations))

	for _, r := range g.relations {
		pair := [2]EntityID{r.src, r.dst}
		if _, ok := seen[pair]; ok {
			continue
		}

		seen[pair] = struct{}{}

		if err := d.AddEdge(strconv.Itoa(int(r.src)), strconv.Itoa(int(r.dst))); err != nil {
			return fmt.Errorf("%s -> %s: %w", g.entities[r.src].name, g.entities[r.dst].name, err)
		}
	}

	return nil
}

// topologicalLocked orders entities so every relation source precedes its
// destination. Ties are broken by id.
func (g *Graph) topologicalLocked() []EntityID {
	indeg := make([]int, len(g.entities))
	for _, r := range g.relations {
		indeg[r.dst]++
	}

	var ready, order []EntityID

	for i, d := range indeg {
		if d == 0 {
			ready = append(ready, EntityID(i))
		}
	}

	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })

		n := ready[0]
		ready = ready[1:]
		order = append(order, n)

		for _, rid := range g.entities[n].out {
			dst := g.relations[rid].dst

			indeg[dst]--
			if indeg[dst] == 0 {
				ready = append(ready, dst)
			}
		}
	}

	return order
}

func (g *Graph) completeLocked(n EntityID, d direction) []Issue {
	var outs, missing []RelationID

	for _, rid := range d.edges(&g.entities[n]) {
		r := &g.relations[rid]
		if !r.role.IsFlow() {
			continue
		}

		outs = append(outs, rid)

		if !d.known(r) {
			missing = append(missing, rid)
		}
	}

	d.setSplit(&g.entities[n], false)

	issue := func(level Level, format string, args ...any) []Issue {
		return []Issue{{Level: level, Message: fmt.Sprintf(format, args...), BottomUp: d.bottomUp}}
	}

	switch {
	case len(outs) == 0:
		return nil
	case len(missing) > 1:
		names := make([]string, len(missing))
		for i, rid := range missing {
			names[i] = g.edgeName(rid)
		}

		return issue(LevelWarning, "the following relations have no weight: %s", strings.Join(names, ", "))
	case len(missing) == 1 && len(outs) == 1:
		r := &g.relations[missing[0]]

		if v, ok := g.otherWeight(r, d); ok && v != 0 {
			g.infer(r, d, 1/v)
			return issue(LevelInfo, "weight of single output %s inferred from opposite weight %g", g.edgeName(missing[0]), v)
		}

		g.infer(r, d, 1)

		return issue(LevelInfo, "weight of single output %s inferred without opposite weight", g.edgeName(missing[0]))
	case len(missing) == 1:
		sum, ok := g.sumWeights(outs, missing[0], d)
		if !ok {
			return issue(LevelWarning, "weight of %s cannot be inferred, other weights are not plain numbers", g.edgeName(missing[0]))
		}

		if sum > 1 {
			return issue(LevelWarning, "weight of %s cannot be inferred, the sum of other weights exceeds one: %g", g.edgeName(missing[0]), sum)
		}

		g.infer(&g.relations[missing[0]], d, 1-sum)
		d.setSplit(&g.entities[n], true)

		return issue(LevelInfo, "weight of %s inferred from the sum of other weights", g.edgeName(missing[0]))
	case len(outs) > 1:
		if sum, ok := g.sumWeights(outs, -1, d); ok && math.Abs(sum-1) < 1e-9 {
			d.setSplit(&g.entities[n], true)
		}
	}

	return nil
}

// otherWeight returns the factor the weight of r in direction d inverts.
// Top-down that is the opposite weight of r. Bottom-up it is the total
// weight leaving the source of r, so that a source is recovered exactly
// by summing its destinations: 1/w for a single output, 1 for a split.
func (g *Graph) otherWeight(r *relation, d direction) (float64, bool) {
	if !d.bottomUp {
		if r.opposite == nil {
			return 0, false
		}

		return numericWeight(*r.opposite)
	}

	var outs []RelationID

	for _, rid := range g.entities[r.src].out {
		if g.relations[rid].role.IsFlow() {
			outs = append(outs, rid)
		}
	}

	return g.sumWeights(outs, -1, dirTopDown)
}

func (g *Graph) infer(r *relation, d direction, v float64) {
	w := quantity.New(v, units.Dimensionless)
	*d.weight(r) = &w

	if d.bottomUp {
		r.oppositeInferred = true
	} else {
		r.inferred = true
	}
}

func (g *Graph) sumWeights(rids []RelationID, skip RelationID, d direction) (float64, bool) {
	var sum float64

	for _, rid := range rids {
		if rid == skip {
			continue
		}

		w := *d.weight(&g.relations[rid])
		if w == nil {
			return 0, false
		}

		v, ok := numericWeight(*w)
		if !ok {
			return 0, false
		}

		sum += v
	}

	return sum, true
}

func (g *Graph) edgeName(rid RelationID) string {
	r := g.relations[rid]
	return fmt.Sprintf("(%s, %s)", g.entities[r.src].name, g.entities[r.dst].name)
}

// numericWeight returns a dimensionless numeric weight as a plain factor.
func numericWeight(q quantity.Quantity) (float64, bool) {
	if q.IsSymbolic() {
		return 0, false
	}

	conv, err := quantity.Convert(q, units.Dimensionless)
	if err != nil {
		return 0, false
	}

	return conv.Value, true
}
