package flowgraph

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/ethpandaops/nis/pkg/quantity"
)

// fixedPoint resolves target and every entity upstream of it by Jacobi
// iteration: each round recomputes all unknown entities from the values
// of the previous round until no value changes by more than the relative
// tolerance.
func (e *Evaluator) fixedPoint(ctx context.Context, target EntityID) (quantity.Quantity, error) {
	upstream := e.upstream(target)

	fixed := make(map[EntityID]quantity.Quantity)

	var unknown []EntityID

	for _, id := range upstream {
		e.mu.Lock()
		state, value, failure := e.states[id], e.values[id], e.errs[id]
		e.mu.Unlock()

		switch state {
		case Resolved:
			fixed[id] = value
			continue
		case Failed:
			return quantity.Quantity{}, failure
		}

		q, ok, err := e.stock(id)
		if err != nil {
			return quantity.Quantity{}, e.fail(id, err)
		}

		if ok {
			fixed[id] = q
			continue
		}

		if len(e.entities[id].in) == 0 {
			return quantity.Quantity{}, e.fail(id, &EvalError{Entity: e.entities[id].name, Err: ErrMissingDependency})
		}

		unknown = append(unknown, id)
	}

	cur := make(map[EntityID]quantity.Quantity, len(unknown))

	for iter := 1; iter <= e.opts.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return quantity.Quantity{}, err
		}

		next := make(map[EntityID]quantity.Quantity, len(unknown))

		for _, id := range unknown {
			q, ok, err := e.iterate(id, fixed, cur)
			if err != nil {
				return quantity.Quantity{}, e.fail(id, &EvalError{Entity: e.entities[id].name, Err: err})
			}

			if ok {
				next[id] = q
			}
		}

		if e.converged(unknown, cur, next) {
			e.mu.Lock()
			for _, id := range unknown {
				e.states[id] = Resolved
				e.values[id] = next[id]
			}
			e.mu.Unlock()

			if q, ok := fixed[target]; ok {
				return q, nil
			}

			return next[target], nil
		}

		cur = next
	}

	err := &EvalError{
		Entity: e.entities[target].name,
		Err:    fmt.Errorf("%w after %d iterations", ErrNoConvergence, e.opts.MaxIterations),
	}

	e.mu.Lock()
	for _, id := range unknown {
		e.states[id] = Failed
		e.errs[id] = err
	}
	e.mu.Unlock()

	return quantity.Quantity{}, err
}

// iterate computes one Jacobi update. Terms from sources without a value
// yet are skipped; ok is false when no term is available.
func (e *Evaluator) iterate(id EntityID, fixed, cur map[EntityID]quantity.Quantity) (quantity.Quantity, bool, error) {
	var terms []quantity.Quantity

	for _, rid := range e.entities[id].in {
		r := e.relations[rid]

		src, ok := fixed[r.src]
		if !ok {
			src, ok = cur[r.src]
		}

		if !ok {
			continue
		}

		term, err := e.apply(r, src)
		if err != nil {
			return quantity.Quantity{}, false, err
		}

		terms = append(terms, term)
	}

	if len(terms) == 0 {
		return quantity.Quantity{}, false, nil
	}

	q, err := quantity.Sum(terms...)

	return q, err == nil, err
}

func (e *Evaluator) converged(ids []EntityID, prev, next map[EntityID]quantity.Quantity) bool {
	for _, id := range ids {
		a, okA := prev[id]
		b, okB := next[id]

		if !okA || !okB {
			return false
		}

		conv, err := quantity.Convert(b, a.Unit)
		if err != nil {
			return false
		}

		if math.Abs(conv.Value-a.Value) > e.opts.Tolerance*math.Max(1, math.Abs(a.Value)) {
			return false
		}
	}

	return true
}

func (e *Evaluator) fail(id EntityID, err error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.states[id] = Failed
	e.errs[id] = err

	return err
}

// upstream returns target and every entity it transitively depends on,
// sorted by id.
func (e *Evaluator) upstream(target EntityID) []EntityID {
	seen := map[EntityID]struct{}{target: {}}
	queue := []EntityID{target}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		if _, ok := e.observed[id]; ok || len(e.entities[id].stocks) > 0 {
			continue
		}

		for _, rid := range e.entities[id].in {
			src := e.relations[rid].src
			if _, ok := seen[src]; !ok {
				seen[src] = struct{}{}
				queue = append(queue, src)
			}
		}
	}

	out := make([]EntityID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}
