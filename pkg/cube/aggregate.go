package cube

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/ethpandaops/nis/pkg/facts"
	"github.com/ethpandaops/nis/pkg/observability"
	"github.com/ethpandaops/nis/pkg/quantity"
	"golang.org/x/sync/errgroup"
)

type group struct {
	measure string
	coords  facts.Coordinates
	members []facts.Fact
	result  facts.Fact
}

// Aggregate returns one fact per distinct (measure, groupBy values) tuple.
// Dimensions outside groupBy are dropped from the result schema. Groups are
// reduced in parallel; the output is sorted by measure then coordinates.
func (c *Cube) Aggregate(ctx context.Context, groupBy []string, agg AggFunc) (*Cube, error) {
	dims := make([]facts.Dimension, 0, len(groupBy))

	for _, name := range groupBy {
		d, ok := c.schema.Dimension(name)
		if !ok {
			return nil, fmt.Errorf("cube %s: %w: %s", c.name, facts.ErrUnknownDimension, name)
		}

		dims = append(dims, d)
	}

	out, err := c.reduce(ctx, c.Facts(), groupBy, agg)
	if err != nil {
		observability.RecordAggregation(c.name, string(agg), "error")
		return nil, err
	}

	observability.RecordAggregation(c.name, string(agg), "success")

	return c.derived(facts.Schema{Dimensions: dims, Measures: c.schema.Measures}, out), nil
}

// reduce groups fs by measure and the projection onto groupBy and applies
// agg to every group. agg is checked up front, so an unknown function fails
// even when every group has a single member.
func (c *Cube) reduce(ctx context.Context, fs []facts.Fact, groupBy []string, agg AggFunc) ([]facts.Fact, error) {
	agg, err := ParseAggFunc(string(agg))
	if err != nil {
		return nil, fmt.Errorf("cube %s: %w", c.name, err)
	}

	index := make(map[string]*group)

	var groups []*group

	for _, f := range fs {
		coords := f.Coordinates().Project(groupBy)
		k := strings.ToLower(f.Measure()) + "\x00" + coords.Key()

		g, ok := index[k]
		if !ok {
			g = &group{measure: f.Measure(), coords: coords}
			index[k] = g
			groups = append(groups, g)
		}

		g.members = append(g.members, f)
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.GOMAXPROCS(0))

	for _, g := range groups {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			f, err := c.combine(g, agg)
			if err != nil {
				return err
			}

			g.result = f

			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].measure != groups[j].measure {
			return groups[i].measure < groups[j].measure
		}

		return groups[i].coords.Key() < groups[j].coords.Key()
	})

	out := make([]facts.Fact, len(groups))
	for i, g := range groups {
		out[i] = g.result
	}

	return out, nil
}

func (c *Cube) combine(g *group, agg AggFunc) (facts.Fact, error) {
	if len(g.members) == 1 {
		return g.members[0].WithCoordinates(g.coords), nil
	}

	qs := make([]quantity.Quantity, len(g.members))
	refs := make([]string, len(g.members))

	for i, m := range g.members {
		qs[i] = m.Quantity()
		refs[i] = m.Provenance().String()
	}

	q, err := agg.Apply(qs)
	if err != nil {
		return facts.Fact{}, &AggregationError{Cube: c.name, Measure: g.measure, Group: g.coords, Err: err}
	}

	prov := facts.Provenance{
		SourceID: "cube:" + c.name,
		Record:   len(g.members),
		Raw:      strings.Join(refs, ","),
	}

	return facts.New(g.coords, g.measure, q, prov), nil
}
