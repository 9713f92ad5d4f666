package flowgraph

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethpandaops/nis/pkg/expr"
	"github.com/ethpandaops/nis/pkg/observability"
	"github.com/ethpandaops/nis/pkg/quantity"
	"github.com/ethpandaops/nis/pkg/units"
	"golang.org/x/sync/singleflight"
)

// Options controls evaluation.
type Options struct {
	// CycleTolerance resolves cycles by fixed-point iteration instead of
	// failing with ErrCyclicDependency.
	CycleTolerance bool `yaml:"cycleTolerance"`
	// MaxIterations bounds fixed-point iteration.
	MaxIterations int `yaml:"maxIterations" default:"100"`
	// Tolerance is the relative change below which iteration has converged.
	Tolerance float64 `yaml:"tolerance" default:"1e-9"`
}

func (o Options) withDefaults() Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = 100
	}

	if o.Tolerance <= 0 {
		o.Tolerance = 1e-9
	}

	return o
}

// State is the evaluation state of one entity.
type State int

// Entity states. An entity moves from Unvisited to InProgress and ends in
// Resolved or Failed; a cancelled evaluation reverts it to Unvisited.
const (
	Unvisited State = iota
	InProgress
	Resolved
	Failed
)

func (s State) String() string {
	switch s {
	case Unvisited:
		return "unvisited"
	case InProgress:
		return "in_progress"
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Evaluator computes derivations over a snapshot of a graph. Resolved
// derivations and failures are cached for the evaluator's lifetime.
//
// Derivations run one at a time, so an entity is only ever InProgress on
// the path of the running derivation. Concurrent callers of the same
// entity share one computation, which is cancelled once every caller
// waiting for it has gone.
type Evaluator struct {
	graph     string
	opts      Options
	entities  []entity
	relations []relation
	params    expr.Env
	observed  map[EntityID]quantity.Quantity

	mu     sync.Mutex
	states []State
	values []quantity.Quantity
	errs   []error
	calls  map[EntityID]*call

	sem         chan struct{}
	flight      singleflight.Group
	derivations atomic.Int64
}

// call is the shared context of one in-flight derivation.
type call struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// NewEvaluator snapshots the graph. observed overrides the stocks of the
// given entities; params is used for expression weights, the graph's own
// parameters when nil.
func (g *Graph) NewEvaluator(params expr.Env, observed map[EntityID]quantity.Quantity) *Evaluator {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.newEvaluatorLocked(params, observed)
}

func (g *Graph) newEvaluatorLocked(params expr.Env, observed map[EntityID]quantity.Quantity) *Evaluator {
	if params == nil {
		params = g.params
	}

	n := len(g.entities)

	return &Evaluator{
		graph:     g.name,
		opts:      g.opts.withDefaults(),
		entities:  append([]entity(nil), g.entities...),
		relations: append([]relation(nil), g.relations...),
		params:    params,
		observed:  observed,
		states:    make([]State, n),
		values:    make([]quantity.Quantity, n),
		errs:      make([]error, n),
		calls:     make(map[EntityID]*call),
		sem:       make(chan struct{}, 1),
	}
}

func (g *Graph) defaultEvaluator() *Evaluator {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.evaluator == nil {
		g.evaluator = g.newEvaluatorLocked(nil, nil)
	}

	return g.evaluator
}

// Evaluate derives the quantity of id with the graph's stocks and
// parameters. Results are cached until the graph changes.
func (g *Graph) Evaluate(ctx context.Context, id EntityID) (quantity.Quantity, error) {
	return g.defaultEvaluator().Evaluate(ctx, id)
}

// State reports the evaluation state of id in the default evaluator.
func (g *Graph) State(id EntityID) State {
	return g.defaultEvaluator().State(id)
}

// State reports the evaluation state of id.
func (e *Evaluator) State(id EntityID) State {
	e.mu.Lock()
	defer e.mu.Unlock()

	if id < 0 || int(id) >= len(e.states) {
		return Unvisited
	}

	return e.states[id]
}

// Derivations returns how many entity derivations were started.
func (e *Evaluator) Derivations() int64 {
	return e.derivations.Load()
}

// Evaluate derives the quantity of id. Concurrent calls for the same
// entity share one computation; a caller whose ctx is cancelled returns
// early while the computation continues for the others.
func (e *Evaluator) Evaluate(ctx context.Context, id EntityID) (quantity.Quantity, error) {
	if id < 0 || int(id) >= len(e.entities) {
		return quantity.Quantity{}, fmt.Errorf("%w: id %d", ErrUnknownEntity, id)
	}

	start := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return quantity.Quantity{}, err
		}

		q, err := e.await(ctx, id)

		// A computation abandoned by its other callers is retried by
		// those still waiting.
		if errors.Is(err, context.Canceled) && ctx.Err() == nil {
			continue
		}

		status := "success"
		if err != nil {
			status = "error"
		}

		observability.RecordEvaluation(e.graph, status, time.Since(start))

		return q, err
	}
}

func (e *Evaluator) await(ctx context.Context, id EntityID) (quantity.Quantity, error) {
	c := e.join(id)
	defer e.leave(id, c)

	ch := e.flight.DoChan(strconv.Itoa(int(id)), func() (any, error) {
		return e.derive(c.ctx, id)
	})

	select {
	case <-ctx.Done():
		return quantity.Quantity{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return quantity.Quantity{}, res.Err
		}

		return res.Val.(quantity.Quantity), nil
	}
}

// join registers a caller of id and returns the shared call context.
func (e *Evaluator) join(id EntityID) *call {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.calls[id]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		c = &call{ctx: ctx, cancel: cancel}
		e.calls[id] = c
	}

	c.waiters++

	return c
}

// leave unregisters a caller; the last one cancels the shared context.
func (e *Evaluator) leave(id EntityID, c *call) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c.waiters--
	if c.waiters > 0 {
		return
	}

	c.cancel()

	if e.calls[id] == c {
		delete(e.calls, id)
	}
}

// derive runs one derivation of id once no other derivation is running.
func (e *Evaluator) derive(ctx context.Context, id EntityID) (quantity.Quantity, error) {
	select {
	case <-ctx.Done():
		return quantity.Quantity{}, ctx.Err()
	case e.sem <- struct{}{}:
	}

	defer func() { <-e.sem }()

	q, err := e.resolve(ctx, id)
	if err != nil && e.opts.CycleTolerance && errors.Is(err, ErrCyclicDependency) {
		q, err = e.fixedPoint(ctx, id)
	}

	return q, err
}

func (e *Evaluator) resolve(ctx context.Context, id EntityID) (quantity.Quantity, error) {
	if err := ctx.Err(); err != nil {
		return quantity.Quantity{}, err
	}

	e.mu.Lock()

	switch e.states[id] {
	case Resolved:
		q := e.values[id]
		e.mu.Unlock()

		return q, nil
	case Failed:
		err := e.errs[id]
		e.mu.Unlock()

		return quantity.Quantity{}, err
	case InProgress:
		e.mu.Unlock()
		return quantity.Quantity{}, &EvalError{Entity: e.entities[id].name, Err: ErrCyclicDependency}
	}

	e.states[id] = InProgress
	e.mu.Unlock()

	e.derivations.Add(1)

	q, err := e.compute(ctx, id)

	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case err == nil:
		e.states[id] = Resolved
		e.values[id] = q
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		e.states[id] = Unvisited
	case e.opts.CycleTolerance && errors.Is(err, ErrCyclicDependency):
		e.states[id] = Unvisited
	default:
		e.states[id] = Failed
		e.errs[id] = err
	}

	return q, err
}

// stock returns the observed value of id, or the sum of its stocks.
func (e *Evaluator) stock(id EntityID) (quantity.Quantity, bool, error) {
	if q, ok := e.observed[id]; ok {
		return q, true, nil
	}

	stocks := e.entities[id].stocks
	if len(stocks) == 0 {
		return quantity.Quantity{}, false, nil
	}

	q, err := quantity.Sum(stocks...)
	if err != nil {
		return quantity.Quantity{}, true, &EvalError{Entity: e.entities[id].name, Err: err}
	}

	return q, true, nil
}

func (e *Evaluator) compute(ctx context.Context, id EntityID) (quantity.Quantity, error) {
	ent := e.entities[id]

	if q, ok, err := e.stock(id); ok {
		return q, err
	}

	if len(ent.in) == 0 {
		if q, ok, err := e.bottomUp(id, make(map[EntityID]struct{})); ok || err != nil {
			return q, err
		}

		return quantity.Quantity{}, &EvalError{Entity: ent.name, Err: ErrMissingDependency}
	}

	q, err := e.topDown(ctx, id)
	if err != nil && errors.Is(err, ErrMissingDependency) {
		if rq, ok, rerr := e.bottomUp(id, make(map[EntityID]struct{})); ok && rerr == nil {
			return rq, nil
		}
	}

	return q, err
}

// topDown sums the weighted values of the sources of id.
func (e *Evaluator) topDown(ctx context.Context, id EntityID) (quantity.Quantity, error) {
	ent := e.entities[id]
	terms := make([]quantity.Quantity, 0, len(ent.in))

	for _, rid := range ent.in {
		r := e.relations[rid]

		src, err := e.resolve(ctx, r.src)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return quantity.Quantity{}, err
			}

			return quantity.Quantity{}, &EvalError{
				Entity: ent.name,
				Err:    fmt.Errorf("%w: %s: %w", ErrUpstreamFailed, e.entities[r.src].name, err),
			}
		}

		term, err := e.apply(r, src)
		if err != nil {
			return quantity.Quantity{}, &EvalError{Entity: ent.name, Err: err}
		}

		terms = append(terms, term)
	}

	q, err := quantity.Sum(terms...)
	if err != nil {
		return quantity.Quantity{}, &EvalError{Entity: ent.name, Err: err}
	}

	return q, nil
}

// bottomUp derives id from the destinations of its flows through their
// opposite weights. ok is false when a flow has no opposite weight or a
// destination is neither known nor derivable bottom-up itself.
func (e *Evaluator) bottomUp(id EntityID, seen map[EntityID]struct{}) (quantity.Quantity, bool, error) {
	if _, ok := seen[id]; ok {
		return quantity.Quantity{}, false, nil
	}

	seen[id] = struct{}{}
	defer delete(seen, id)

	var terms []quantity.Quantity

	for _, rid := range e.entities[id].out {
		r := e.relations[rid]
		if !r.role.IsFlow() {
			continue
		}

		if r.opposite == nil {
			return quantity.Quantity{}, false, nil
		}

		dst, ok, err := e.known(r.dst)
		if err != nil {
			return quantity.Quantity{}, false, err
		}

		if !ok {
			if dst, ok, err = e.bottomUp(r.dst, seen); !ok || err != nil {
				return quantity.Quantity{}, ok, err
			}
		}

		term, err := quantity.Combine(quantity.Mul, dst, *r.opposite)
		if err != nil {
			return quantity.Quantity{}, false, &EvalError{Entity: e.entities[id].name, Err: err}
		}

		terms = append(terms, term)
	}

	if len(terms) == 0 {
		return quantity.Quantity{}, false, nil
	}

	q, err := quantity.Sum(terms...)
	if err != nil {
		return quantity.Quantity{}, false, &EvalError{Entity: e.entities[id].name, Err: err}
	}

	return q, true, nil
}

// known returns the value of id without deriving it: an observation, its
// stocks or an earlier derivation.
func (e *Evaluator) known(id EntityID) (quantity.Quantity, bool, error) {
	if q, ok, err := e.stock(id); ok {
		return q, err == nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.states[id] == Resolved {
		return e.values[id], true, nil
	}

	return quantity.Quantity{}, false, nil
}

// apply multiplies the source value by the relation weight.
func (e *Evaluator) apply(r relation, src quantity.Quantity) (quantity.Quantity, error) {
	w, err := e.weight(r)
	if err != nil {
		return quantity.Quantity{}, err
	}

	return quantity.Combine(quantity.Mul, src, w)
}

func (e *Evaluator) weight(r relation) (quantity.Quantity, error) {
	switch {
	case r.weight != nil:
		return *r.weight, nil
	case r.expr != nil:
		v, err := expr.Eval(expr.LowerIdents(r.expr), e.params)
		if err != nil {
			return quantity.Quantity{}, fmt.Errorf("weight %s -> %s: %w", e.entities[r.src].name, e.entities[r.dst].name, err)
		}

		return quantity.New(v, units.Dimensionless), nil
	default:
		return quantity.Quantity{}, fmt.Errorf("%w: %s -> %s", ErrMissingWeight, e.entities[r.src].name, e.entities[r.dst].name)
	}
}
