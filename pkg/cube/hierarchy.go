package cube

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethpandaops/nis/pkg/facts"
)

func (c *Cube) hierarchy(dim string) (*facts.Hierarchy, error) {
	d, ok := c.schema.Dimension(dim)
	if !ok {
		return nil, fmt.Errorf("cube %s: %w: %s", c.name, facts.ErrUnknownDimension, dim)
	}

	if d.Hierarchy == nil {
		return nil, fmt.Errorf("cube %s: %w: %s", c.name, ErrNoHierarchy, dim)
	}

	return d.Hierarchy, nil
}

// RollUp replaces every value of dim by its ancestor at level and
// aggregates facts that land on the same coordinates. Values without an
// ancestor at that level go to the facts.Unclassified bucket.
func (c *Cube) RollUp(ctx context.Context, dim, level string, agg AggFunc) (*Cube, error) {
	h, err := c.hierarchy(dim)
	if err != nil {
		return nil, err
	}

	depth, err := h.LevelDepth(level)
	if err != nil {
		return nil, fmt.Errorf("cube %s: %w", c.name, err)
	}

	src := c.Facts()
	mapped := make([]facts.Fact, len(src))

	for i, f := range src {
		mapped[i] = f.WithCoordinates(f.Coordinates().With(dim, h.AncestorAt(f.Dimension(dim), depth)))
	}

	out, err := c.reduce(ctx, mapped, c.schema.DimensionNames(), agg)
	if err != nil {
		return nil, err
	}

	return c.derived(facts.Schema{Dimensions: c.schema.Dimensions, Measures: c.schema.Measures}, out), nil
}

// DrillDown expands the values of dim one level down using the facts of
// base, the cube c was rolled up from. Only children of coordinates present
// in c are returned, aggregated over the dimensions c has.
func (c *Cube) DrillDown(ctx context.Context, base *Cube, dim string, agg AggFunc) (*Cube, error) {
	h, err := c.hierarchy(dim)
	if err != nil {
		return nil, err
	}

	parents := make(map[string]struct{})
	depths := make(map[int]struct{})

	for _, f := range c.Facts() {
		parents[parentKey(f.Measure(), f.Coordinates())] = struct{}{}

		if d := h.Depth(f.Dimension(dim)); d >= 0 {
			depths[d] = struct{}{}
		}
	}

	groupBy := c.schema.DimensionNames()

	var selected []facts.Fact

	for _, f := range base.Facts() {
		v := f.Dimension(dim)

		parent, child := facts.Unclassified, v

		for d := range depths {
			if a := h.AncestorAt(v, d); a != facts.Unclassified {
				if _, ok := parents[parentKey(f.Measure(), f.Coordinates().With(dim, a).Project(groupBy))]; ok {
					parent, child = a, h.AncestorAt(v, d+1)
					if child == facts.Unclassified {
						child = a
					}

					break
				}
			}
		}

		if parent == facts.Unclassified {
			if _, ok := parents[parentKey(f.Measure(), f.Coordinates().With(dim, facts.Unclassified).Project(groupBy))]; !ok {
				continue
			}
		}

		selected = append(selected, f.WithCoordinates(f.Coordinates().With(dim, child)))
	}

	out, err := c.reduce(ctx, selected, groupBy, agg)
	if err != nil {
		return nil, err
	}

	return c.derived(facts.Schema{Dimensions: c.schema.Dimensions, Measures: c.schema.Measures}, out), nil
}

func parentKey(measure string, coords facts.Coordinates) string {
	return strings.ToLower(measure) + "\x00" + coords.Key()
}
