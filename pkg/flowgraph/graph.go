// Package flowgraph derives quantities that are not observed directly by
// traversing a directed graph of accounting entities. Entities are stored
// in an arena and referenced by integer ids; relations carry a weight or
// an expression evaluated against scenario parameters.
package flowgraph

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ethpandaops/nis/pkg/expr"
	"github.com/ethpandaops/nis/pkg/quantity"
	"github.com/sirupsen/logrus"
)

// EntityID indexes an entity in its graph.
type EntityID int

// RelationID indexes a relation in its graph.
type RelationID int

// Kind classifies an entity.
type Kind string

// Entity kinds.
const (
	KindProcessor Kind = "processor"
	KindFund      Kind = "fund"
	KindFlow      Kind = "flow"
)

// Role labels a relation.
type Role string

// Relation roles. Input and output relations are flows between entities;
// a scale relation puts its destination into scale of its source and may
// only reach each entity once.
const (
	RoleInput  Role = "input"
	RoleOutput Role = "output"
	RoleScale  Role = "scale"
)

// ParseRole validates a configured role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleInput, RoleOutput, RoleScale:
		return r, nil
	case "":
		return RoleOutput, nil
	default:
		return "", fmt.Errorf("%w: role %q", ErrInvalidRelation, s)
	}
}

// IsFlow reports whether r is an input or output relation.
func (r Role) IsFlow() bool {
	return r == RoleInput || r == RoleOutput
}

type entity struct {
	name         string
	kind         Kind
	stocks       []quantity.Quantity
	in           []RelationID
	out          []RelationID
	split        bool
	reverseSplit bool
}

type relation struct {
	src, dst EntityID
	role     Role
	weight   *quantity.Quantity
	expr     expr.Node
	opposite *quantity.Quantity
	inferred bool

	oppositeInferred bool
}

// Entity describes one node.
type Entity struct {
	ID     EntityID            `json:"id"`
	Name   string              `json:"name"`
	Kind   Kind                `json:"kind"`
	Stocks []quantity.Quantity `json:"stocks,omitempty"`
	// Split is set by Complete on entities whose outgoing flow weights sum to one.
	Split bool `json:"split,omitempty"`
	// ReverseSplit is set on entities whose incoming opposite weights sum to one.
	ReverseSplit bool `json:"reverseSplit,omitempty"`
}

// Relation describes one edge. Exactly one of Weight and Expr is set once
// the weight is known.
type Relation struct {
	ID       RelationID         `json:"id"`
	Source   EntityID           `json:"source"`
	Target   EntityID           `json:"target"`
	Role     Role               `json:"role"`
	Weight   *quantity.Quantity `json:"weight,omitempty"`
	Expr     expr.Node          `json:"-"`
	Opposite *quantity.Quantity `json:"opposite,omitempty"`
	Inferred bool               `json:"inferred,omitempty"`
	// OppositeInferred is set when Complete inferred the opposite weight.
	OppositeInferred bool `json:"oppositeInferred,omitempty"`
}

// RelationOption configures AddRelation.
type RelationOption func(*relation)

// WithWeight sets a numeric weight.
func WithWeight(q quantity.Quantity) RelationOption {
	return func(r *relation) {
		r.weight = &q
	}
}

// WithExpr sets an expression weight, evaluated against scenario
// parameters when the relation is traversed.
func WithExpr(n expr.Node) RelationOption {
	return func(r *relation) {
		r.expr = n
	}
}

// WithOpposite sets the bottom-up weight: the source is the sum of its
// destinations scaled by their opposite weights. Complete also uses it to
// infer the weight of a single output.
func WithOpposite(q quantity.Quantity) RelationOption {
	return func(r *relation) {
		r.opposite = &q
	}
}

// Graph is a directed graph of accounting entities. The structure is safe
// for concurrent use; evaluation results are cached by the default
// evaluator until the structure changes.
type Graph struct {
	name string
	log  logrus.FieldLogger
	opts Options

	mu        sync.RWMutex
	entities  []entity
	relations []relation
	byName    map[string]EntityID
	params    expr.Env
	evaluator *Evaluator
}

// New returns an empty graph.
func New(name string, log logrus.FieldLogger, opts Options) *Graph {
	return &Graph{
		name:   name,
		log:    log.WithFields(logrus.Fields{"component": "flowgraph", "graph": name}),
		opts:   opts,
		byName: make(map[string]EntityID),
		params: expr.Env{},
	}
}

// Name returns the graph name.
func (g *Graph) Name() string { return g.name }

// AddEntity adds an entity. Names are case-insensitive and unique.
func (g *Graph) AddEntity(name string, kind Kind, stocks ...quantity.Quantity) (EntityID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := strings.ToLower(name)
	if _, ok := g.byName[key]; ok {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateEntity, name)
	}

	if kind == "" {
		kind = KindFlow
	}

	id := EntityID(len(g.entities))
	g.entities = append(g.entities, entity{name: name, kind: kind, stocks: stocks})
	g.byName[key] = id
	g.evaluator = nil

	return id, nil
}

// AddRelation adds a directed relation from src to dst.
func (g *Graph) AddRelation(src, dst EntityID, role Role, opts ...RelationOption) (RelationID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkLocked(src); err != nil {
		return 0, err
	}

	if err := g.checkLocked(dst); err != nil {
		return 0, err
	}

	if src == dst {
		return 0, fmt.Errorf("%w: self loop on %s", ErrInvalidRelation, g.entities[src].name)
	}

	if _, err := ParseRole(string(role)); err != nil || role == "" {
		return 0, fmt.Errorf("%w: role %q", ErrInvalidRelation, role)
	}

	r := relation{src: src, dst: dst, role: role}
	for _, opt := range opts {
		opt(&r)
	}

	if r.weight != nil && r.expr != nil {
		return 0, fmt.Errorf("%w: %s -> %s has both a weight and an expression", ErrInvalidRelation, g.entities[src].name, g.entities[dst].name)
	}

	if role == RoleScale {
		for _, rid := range g.entities[dst].in {
			if g.relations[rid].role == RoleScale {
				return 0, fmt.Errorf("%w: %s", ErrMultipleScaleTargets, g.entities[dst].name)
			}
		}

		if len(g.entities[dst].stocks) > 0 {
			return 0, fmt.Errorf("%w: %s", ErrScaledStock, g.entities[dst].name)
		}
	}

	id := RelationID(len(g.relations))
	g.relations = append(g.relations, r)
	g.entities[src].out = append(g.entities[src].out, id)
	g.entities[dst].in = append(g.entities[dst].in, id)
	g.evaluator = nil

	return id, nil
}

// SetStock replaces the stocks of an entity.
func (g *Graph) SetStock(id EntityID, stocks ...quantity.Quantity) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkLocked(id); err != nil {
		return err
	}

	if len(stocks) > 0 && g.isScaledLocked(id) {
		return fmt.Errorf("%w: %s", ErrScaledStock, g.entities[id].name)
	}

	g.entities[id].stocks = stocks
	g.evaluator = nil

	return nil
}

// SetParameters replaces the parameter environment used by expression weights.
func (g *Graph) SetParameters(env expr.Env) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.params = env
	g.evaluator = nil
}

// Lookup resolves an entity name.
func (g *Graph) Lookup(name string) (EntityID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	id, ok := g.byName[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
	}

	return id, nil
}

// Entity returns a copy of the entity.
func (g *Graph) Entity(id EntityID) (Entity, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if err := g.checkLocked(id); err != nil {
		return Entity{}, err
	}

	e := g.entities[id]

	return Entity{
		ID:           id,
		Name:         e.name,
		Kind:         e.kind,
		Stocks:       append([]quantity.Quantity(nil), e.stocks...),
		Split:        e.split,
		ReverseSplit: e.reverseSplit,
	}, nil
}

// Entities returns every entity in id order.
func (g *Graph) Entities() []Entity {
	g.mu.RLock()
	n := len(g.entities)
	g.mu.RUnlock()

	out := make([]Entity, 0, n)

	for i := 0; i < n; i++ {
		e, err := g.Entity(EntityID(i))
		if err == nil {
			out = append(out, e)
		}
	}

	return out
}

// Relations returns every relation in id order.
func (g *Graph) Relations() []Relation {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Relation, len(g.relations))
	for i, r := range g.relations {
		out[i] = Relation{
			ID:       RelationID(i),
			Source:   r.src,
			Target:   r.dst,
			Role:     r.role,
			Weight:   r.weight,
			Expr:     r.expr,
			Opposite: r.opposite,
			Inferred: r.inferred,

			OppositeInferred: r.oppositeInferred,
		}
	}

	return out
}

func (g *Graph) checkLocked(id EntityID) error {
	if id < 0 || int(id) >= len(g.entities) {
		return fmt.Errorf("%w: id %d", ErrUnknownEntity, id)
	}

	return nil
}

func (g *Graph) isScaledLocked(id EntityID) bool {
	for _, rid := range g.entities[id].in {
		if g.relations[rid].role == RoleScale {
			return true
		}
	}

	return false
}
