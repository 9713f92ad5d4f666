package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethpandaops/nis/pkg/cache"
	"github.com/ethpandaops/nis/pkg/cube"
	"github.com/ethpandaops/nis/pkg/expr"
	"github.com/ethpandaops/nis/pkg/facts"
	"github.com/ethpandaops/nis/pkg/flowgraph"
	"github.com/ethpandaops/nis/pkg/models"
	"github.com/ethpandaops/nis/pkg/quantity"
	"github.com/ethpandaops/nis/pkg/units"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrGraphWithoutCube is returned when solving a graph that observes no cube
	ErrGraphWithoutCube = errors.New("graph has no cube to observe")
	// ErrInvalidQuery is returned for malformed cube queries
	ErrInvalidQuery = errors.New("invalid query")
)

// BaselineScenario is solved in addition to the scenarios a graph declares.
const BaselineScenario = "baseline"

// CubeSummary describes a cube without its facts
type CubeSummary struct {
	ID          string             `json:"id"`
	Description string             `json:"description,omitempty"`
	Sources     []string           `json:"sources"`
	Measures    []string           `json:"measures,omitempty"`
	Aggregation string             `json:"aggregation"`
	Dimensions  []DimensionSummary `json:"dimensions"`
}

// DimensionSummary describes one cube dimension
type DimensionSummary struct {
	Name   string   `json:"name"`
	Levels []string `json:"levels,omitempty"`
}

// RollUp moves a hierarchical dimension up to a level
type RollUp struct {
	Dimension string `json:"dimension"`
	Level     string `json:"level"`
}

// CubeQuery selects and aggregates the facts of a cube. Filter keeps facts
// whose dimension values are listed; GroupBy aggregates over every other
// dimension; RollUp is applied before GroupBy. Unit converts the result.
type CubeQuery struct {
	CubeID   string              `json:"cube"`
	Filter   map[string][]string `json:"filter,omitempty"`
	GroupBy  []string            `json:"group_by,omitempty"`
	Measures []string            `json:"measures,omitempty"`
	Agg      string              `json:"agg,omitempty"`
	RollUp   *RollUp             `json:"roll_up,omitempty"`
	Unit     string              `json:"unit,omitempty"`
}

// CubeResult is the answer to a CubeQuery
type CubeResult struct {
	Cube       string       `json:"cube"`
	Dimensions []string     `json:"dimensions"`
	Measures   []string     `json:"measures"`
	Facts      []facts.Fact `json:"facts"`
}

// EntityResult is the derived quantity of one entity. Graphs without a cube
// yield a single Value; graphs observing a cube yield one fact per scenario
// and period.
type EntityResult struct {
	Graph    string             `json:"graph"`
	Entity   string             `json:"entity"`
	Kind     flowgraph.Kind     `json:"kind"`
	Value    *quantity.Quantity `json:"value,omitempty"`
	Facts    []facts.Fact       `json:"facts,omitempty"`
	Observed []facts.Fact       `json:"observed,omitempty"`
	Issues   []flowgraph.Issue  `json:"issues,omitempty"`
}

// builtGraph is a graph definition instantiated once
type builtGraph struct {
	def    models.GraphDefinition
	graph  *flowgraph.Graph
	params *expr.ParameterSet
	issues []flowgraph.Issue
}

// ListCubes describes every configured cube
func (s *Service) ListCubes() []CubeSummary {
	defs := s.models.Cubes()
	out := make([]CubeSummary, 0, len(defs))

	for _, d := range defs {
		agg, _ := d.AggFunc()

		sum := CubeSummary{
			ID:          d.ID,
			Description: d.Description,
			Sources:     d.Sources,
			Measures:    d.Measures,
			Aggregation: string(agg),
		}

		for _, dim := range d.Dimensions {
			sum.Dimensions = append(sum.Dimensions, DimensionSummary{Name: dim.Name, Levels: dim.Levels})
		}

		out = append(out, sum)
	}

	return out
}

// QueryCube answers q. Results are cached until a source of the cube is
// refreshed.
func (s *Service) QueryCube(ctx context.Context, q CubeQuery) (*CubeResult, error) {
	if err := s.Open(ctx); err != nil {
		return nil, err
	}

	def, err := s.models.Cube(q.CubeID)
	if err != nil {
		return nil, err
	}

	agg, err := def.AggFunc()
	if err != nil {
		return nil, err
	}

	if q.Agg != "" {
		if agg, err = cube.ParseAggFunc(q.Agg); err != nil {
			return nil, err
		}
	}

	if q.RollUp != nil && (q.RollUp.Dimension == "" || q.RollUp.Level == "") {
		return nil, fmt.Errorf("%w: roll up needs a dimension and a level", ErrInvalidQuery)
	}

	lineage, err := s.lineage(def)
	if err != nil {
		return nil, err
	}

	key, err := cache.Key(cache.CubePrefix(def.ID), def, lineage, q, agg)
	if err != nil {
		return nil, err
	}

	return cache.GetOrComputeJSON(ctx, s.cache, key, func(ctx context.Context) (*CubeResult, error) {
		return s.queryCube(ctx, def, q, agg)
	})
}

func (s *Service) queryCube(ctx context.Context, def models.CubeDefinition, q CubeQuery, agg cube.AggFunc) (*CubeResult, error) {
	c, err := s.buildCube(ctx, def)
	if err != nil {
		return nil, err
	}

	filter := make(map[string][]string, len(q.Filter)+1)
	for dim, values := range q.Filter {
		filter[dim] = values
	}

	if len(q.Measures) > 0 {
		filter[cube.MeasureKey] = q.Measures
	}

	c, err = c.Slice(filter)
	if err != nil {
		return nil, err
	}

	if q.RollUp != nil {
		if c, err = c.RollUp(ctx, q.RollUp.Dimension, q.RollUp.Level, agg); err != nil {
			return nil, err
		}
	}

	if len(q.GroupBy) > 0 {
		if c, err = c.Aggregate(ctx, q.GroupBy, agg); err != nil {
			return nil, err
		}
	}

	out := c.Facts()

	if q.Unit != "" {
		target, err := units.Parse(q.Unit)
		if err != nil {
			return nil, err
		}

		for i, f := range out {
			converted, err := quantity.Convert(f.Quantity(), target)
			if err != nil {
				return nil, fmt.Errorf("cube %s: fact %s: %w", def.ID, f.Key(), err)
			}

			out[i] = f.WithQuantity(converted)
		}
	}

	s.log.WithFields(logrus.Fields{
		"cube":  def.ID,
		"facts": len(out),
	}).Debug("Cube queried")

	return &CubeResult{
		Cube:       def.ID,
		Dimensions: c.Schema().DimensionNames(),
		Measures:   c.Measures(),
		Facts:      out,
	}, nil
}

// buildCube assembles a cube from the facts of its sources, loaded in
// parallel. Facts of measures the cube does not declare are left out.
func (s *Service) buildCube(ctx context.Context, def models.CubeDefinition) (*cube.Cube, error) {
	schema, err := def.Schema()
	if err != nil {
		return nil, err
	}

	all := make([][]facts.Fact, len(def.Sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Normalize.Parallelism)

	for i, id := range def.Sources {
		g.Go(func() error {
			fs, err := s.sourceFacts(gctx, id)
			if err != nil {
				return fmt.Errorf("cube %s: source %s: %w", def.ID, id, err)
			}

			all[i] = fs

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var fs []facts.Fact

	for _, part := range all {
		for _, f := range part {
			if len(schema.Measures) > 0 && !schema.HasMeasure(f.Measure()) {
				continue
			}

			fs = append(fs, f)
		}
	}

	c, err := cube.New(def.ID, schema, fs)
	if err != nil {
		return nil, err
	}

	if err := s.facts.SaveCube(ctx, def.ID, c.Facts()); err != nil {
		s.log.WithError(err).WithField("cube", def.ID).Warn("Failed to persist cube")
	}

	return c, nil
}

func (s *Service) graph(id string) (*builtGraph, error) {
	s.mu.RLock()
	bg, ok := s.graphs[id]
	s.mu.RUnlock()

	if ok {
		return bg, nil
	}

	def, err := s.models.Graph(id)
	if err != nil {
		return nil, err
	}

	g, params, err := def.Build(s.log)
	if err != nil {
		return nil, err
	}

	bg = &builtGraph{def: def, graph: g, params: params, issues: g.Complete()}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.graphs[id]; ok {
		return existing, nil
	}

	s.graphs[id] = bg

	return bg, nil
}

func scenarios(def models.GraphDefinition) []flowgraph.Scenario {
	for _, sc := range def.Scenarios {
		if strings.EqualFold(sc.Name, BaselineScenario) {
			return def.Scenarios
		}
	}

	return append([]flowgraph.Scenario{{Name: BaselineScenario}}, def.Scenarios...)
}

func solveDimensions(opts flowgraph.SolveOptions) (entityDim, timeDim string) {
	entityDim, timeDim = opts.EntityDimension, opts.TimeDimension
	if entityDim == "" {
		entityDim = "entity"
	}

	if timeDim == "" {
		timeDim = "time"
	}

	return entityDim, timeDim
}

// observations are the facts of the graph's cube, aggregated per entity
// and period.
func (s *Service) observations(ctx context.Context, bg *builtGraph) ([]facts.Fact, error) {
	def, err := s.models.Cube(bg.def.Cube)
	if err != nil {
		return nil, err
	}

	agg, err := def.AggFunc()
	if err != nil {
		return nil, err
	}

	c, err := s.buildCube(ctx, def)
	if err != nil {
		return nil, err
	}

	entityDim, timeDim := solveDimensions(bg.def.Solve)

	groupBy := []string{entityDim}
	if _, ok := c.Schema().Dimension(timeDim); ok {
		groupBy = append(groupBy, timeDim)
	}

	aggregated, err := c.Aggregate(ctx, groupBy, agg)
	if err != nil {
		return nil, err
	}

	return aggregated.Facts(), nil
}

// Solve derives every entity of a graph from the observations of its cube,
// per scenario and period. Results are cached until a source feeding the
// cube is refreshed.
func (s *Service) Solve(ctx context.Context, graphID string) (*flowgraph.SolveResult, error) {
	if err := s.Open(ctx); err != nil {
		return nil, err
	}

	bg, err := s.graph(graphID)
	if err != nil {
		return nil, err
	}

	if bg.def.Cube == "" {
		return nil, fmt.Errorf("%w: %s", ErrGraphWithoutCube, graphID)
	}

	cubeDef, err := s.models.Cube(bg.def.Cube)
	if err != nil {
		return nil, err
	}

	lineage, err := s.lineage(cubeDef)
	if err != nil {
		return nil, err
	}

	key, err := cache.Key(cache.GraphPrefix(bg.def.ID), "solve", bg.def, cubeDef, lineage)
	if err != nil {
		return nil, err
	}

	return cache.GetOrComputeJSON(ctx, s.cache, key, func(ctx context.Context) (*flowgraph.SolveResult, error) {
		observed, err := s.observations(ctx, bg)
		if err != nil {
			return nil, err
		}

		res, err := bg.graph.Solve(ctx, bg.params, scenarios(bg.def), observed, bg.def.Solve)
		if err != nil {
			return nil, err
		}

		res.Issues = append(append([]flowgraph.Issue(nil), bg.issues...), res.Issues...)

		return res, nil
	})
}

// EvaluateEntity derives the quantity of one entity of a graph.
func (s *Service) EvaluateEntity(ctx context.Context, graphID, entity string) (*EntityResult, error) {
	if err := s.Open(ctx); err != nil {
		return nil, err
	}

	bg, err := s.graph(graphID)
	if err != nil {
		return nil, err
	}

	id, err := bg.graph.Lookup(entity)
	if err != nil {
		return nil, err
	}

	ent, err := bg.graph.Entity(id)
	if err != nil {
		return nil, err
	}

	out := &EntityResult{Graph: bg.def.ID, Entity: ent.Name, Kind: ent.Kind}

	if bg.def.Cube == "" {
		q, err := bg.graph.Evaluate(ctx, id)
		if err != nil {
			return nil, err
		}

		out.Value = &q
		out.Issues = issuesAbout(bg.issues, ent.Name)

		return out, nil
	}

	res, err := s.Solve(ctx, graphID)
	if err != nil {
		return nil, err
	}

	for _, f := range res.Facts {
		if strings.EqualFold(f.Dimension("entity"), ent.Name) {
			out.Facts = append(out.Facts, f)
		}
	}

	observed, err := s.observations(ctx, bg)
	if err != nil {
		return nil, err
	}

	entityDim, _ := solveDimensions(bg.def.Solve)

	for _, f := range observed {
		if strings.EqualFold(f.Dimension(entityDim), ent.Name) {
			out.Observed = append(out.Observed, f)
		}
	}

	out.Issues = issuesAbout(res.Issues, ent.Name)

	return out, nil
}

func issuesAbout(issues []flowgraph.Issue, entity string) []flowgraph.Issue {
	var out []flowgraph.Issue

	for _, i := range issues {
		if strings.Contains(i.Message, entity) {
			out = append(out, i)
		}
	}

	return out
}
