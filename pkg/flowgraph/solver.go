package flowgraph

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethpandaops/nis/pkg/expr"
	"github.com/ethpandaops/nis/pkg/facts"
	"github.com/ethpandaops/nis/pkg/quantity"
	"github.com/sirupsen/logrus"
)

// ErrNoObservations is returned by Solve when nothing is observed.
var ErrNoObservations = fmt.Errorf("%w: no observations to solve from", ErrGraph)

// Scenario is a named set of parameter overrides.
type Scenario struct {
	Name      string            `yaml:"name" json:"name"`
	Overrides map[string]string `yaml:"parameters" json:"parameters,omitempty"`
}

// SolveOptions names the dimensions of observed and derived facts.
type SolveOptions struct {
	EntityDimension string `yaml:"entityDimension" default:"entity"`
	TimeDimension   string `yaml:"timeDimension" default:"time"`
	// Measure names the measure of derived facts.
	Measure string `yaml:"measure" default:"value"`
}

func (o SolveOptions) withDefaults() SolveOptions {
	if o.EntityDimension == "" {
		o.EntityDimension = "entity"
	}

	if o.TimeDimension == "" {
		o.TimeDimension = "time"
	}

	if o.Measure == "" {
		o.Measure = "value"
	}

	return o
}

// SolveResult holds the derived facts of every scenario and period.
type SolveResult struct {
	Facts   []facts.Fact `json:"facts"`
	Issues  []Issue      `json:"issues,omitempty"`
	Periods []string     `json:"periods"`
}

type observation struct {
	entity EntityID
	period facts.Period
	value  quantity.Quantity
}

// Solve binds observed facts to entities and derives every other entity,
// once per scenario and time period. Observations carry the entity name in
// opts.EntityDimension and a period in opts.TimeDimension; generic periods
// ("Year", "Month") apply to every concrete period. Derived facts have the
// dimensions scenario, time and entity. Entities that cannot be derived
// are reported as issues.
func (g *Graph) Solve(ctx context.Context, params *expr.ParameterSet, scenarios []Scenario, observed []facts.Fact, opts SolveOptions) (*SolveResult, error) {
	opts = opts.withDefaults()

	if len(scenarios) == 0 {
		scenarios = []Scenario{{Name: "default"}}
	}

	res := &SolveResult{}

	obs, periods, err := g.bind(observed, opts, res)
	if err != nil {
		return nil, err
	}

	for _, p := range periods {
		res.Periods = append(res.Periods, p.String())
	}

	entities := g.Entities()

	for _, sc := range scenarios {
		env, err := g.scenarioEnv(params, sc)
		if err != nil {
			return nil, err
		}

		log := g.log.WithField("scenario", sc.Name)

		for _, period := range periods {
			values := make(map[EntityID]quantity.Quantity)

			for _, o := range obs {
				if !appliesTo(o.period, period) {
					continue
				}

				if _, dup := values[o.entity]; dup {
					res.Issues = append(res.Issues, Issue{Level: LevelWarning, Message: fmt.Sprintf(
						"scenario %s period %s: conflicting observations for %s, keeping the first", sc.Name, period, entities[o.entity].Name)})

					continue
				}

				values[o.entity] = o.value
			}

			ev := g.NewEvaluator(env, values)

			for _, ent := range entities {
				if _, ok := values[ent.ID]; ok {
					continue
				}

				q, err := ev.Evaluate(ctx, ent.ID)
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return nil, err
					}

					res.Issues = append(res.Issues, Issue{Level: LevelWarning, Message: fmt.Sprintf(
						"scenario %s period %s: %v", sc.Name, period, err)})

					continue
				}

				coords := facts.Of("scenario", sc.Name, "time", period.String(), "entity", ent.Name)
				prov := facts.Provenance{SourceID: "graph:" + g.name, Raw: sc.Name + "/" + period.String()}
				res.Facts = append(res.Facts, facts.New(coords, opts.Measure, q, prov))
			}

			log.WithFields(logrus.Fields{
				"period":      period.String(),
				"observed":    len(values),
				"derivations": ev.Derivations(),
			}).Debug("Solved period")
		}
	}

	return res, nil
}

// bind resolves observation entities and the concrete periods to solve.
func (g *Graph) bind(observed []facts.Fact, opts SolveOptions, res *SolveResult) ([]observation, []facts.Period, error) {
	if len(observed) == 0 {
		return nil, nil, ErrNoObservations
	}

	times := make([]string, 0, len(observed))
	for _, f := range observed {
		times = append(times, f.Dimension(opts.TimeDimension))
	}

	periods, err := facts.ConcretePeriods(times)
	if err != nil {
		return nil, nil, fmt.Errorf("graph %s: %w", g.name, err)
	}

	var out []observation

	for _, f := range observed {
		name := f.Dimension(opts.EntityDimension)

		id, err := g.Lookup(name)
		if err != nil {
			res.Issues = append(res.Issues, Issue{Level: LevelWarning, Message: fmt.Sprintf("observation at %q is not taken into account", name)})
			continue
		}

		g.mu.RLock()
		scaled := g.isScaledLocked(id)
		g.mu.RUnlock()

		if scaled {
			res.Issues = append(res.Issues, Issue{Level: LevelError, Message: fmt.Sprintf("%s is a scale destination and cannot be observed", name)})
			continue
		}

		p, _ := facts.ParsePeriod(f.Dimension(opts.TimeDimension))
		out = append(out, observation{entity: id, period: p, value: f.Quantity()})
	}

	if len(out) == 0 {
		return nil, nil, ErrNoObservations
	}

	if len(periods) == 0 {
		// Only generic periods were observed; solve them as one period.
		periods = []facts.Period{out[0].period}
	}

	return out, periods, nil
}

func appliesTo(obs, period facts.Period) bool {
	for _, p := range facts.Expand(obs, []facts.Period{period}) {
		if p == period {
			return true
		}
	}

	return false
}

func (g *Graph) scenarioEnv(params *expr.ParameterSet, sc Scenario) (expr.Env, error) {
	if params == nil {
		if len(sc.Overrides) > 0 {
			return nil, fmt.Errorf("scenario %s: %w: no parameters declared", sc.Name, expr.ErrUnknownParameter)
		}

		return nil, nil
	}

	env, err := params.Resolve(sc.Overrides)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}

	return env, nil
}
