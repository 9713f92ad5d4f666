package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethpandaops/nis/pkg/expr"
	"github.com/ethpandaops/nis/pkg/flowgraph"
	"github.com/ethpandaops/nis/pkg/quantity"
	"github.com/ethpandaops/nis/pkg/uncertainty"
	"github.com/ethpandaops/nis/pkg/units"
	"github.com/sirupsen/logrus"
)

// GraphDefinition declares a flow graph, its parameters and scenarios.
type GraphDefinition struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description,omitempty"`
	// Cube provides observed facts bound to entities when solving.
	Cube       string                 `yaml:"cube,omitempty"`
	Options    flowgraph.Options      `yaml:"options,omitempty"`
	Solve      flowgraph.SolveOptions `yaml:"solve,omitempty"`
	Parameters []expr.Parameter       `yaml:"parameters,omitempty"`
	Scenarios  []flowgraph.Scenario   `yaml:"scenarios,omitempty"`
	Entities   []EntityDefinition     `yaml:"entities"`
	Relations  []RelationDefinition   `yaml:"relations,omitempty"`
}

// EntityDefinition declares an entity with an optional stock.
type EntityDefinition struct {
	Name  string              `yaml:"name"`
	Kind  string              `yaml:"kind,omitempty"`
	Stock *QuantityDefinition `yaml:"stock,omitempty"`
}

// QuantityDefinition is a value with unit and optional standard deviation.
type QuantityDefinition struct {
	Value  float64 `yaml:"value"`
	Unit   string  `yaml:"unit"`
	StdDev float64 `yaml:"stddev,omitempty"`
}

// Quantity parses the unit and attaches a normal uncertainty when StdDev is set.
func (q QuantityDefinition) Quantity() (quantity.Quantity, error) {
	u := units.Dimensionless

	if q.Unit != "" {
		parsed, err := units.Parse(q.Unit)
		if err != nil {
			return quantity.Quantity{}, err
		}

		u = parsed
	}

	out := quantity.New(q.Value, u)
	if q.StdDev > 0 {
		out = out.WithUncertainty(uncertainty.Normal(q.StdDev))
	}

	return out, nil
}

// RelationDefinition connects two entities. Weight is a number or an
// expression over the graph parameters; an empty weight is inferred by
// completion.
type RelationDefinition struct {
	From     string   `yaml:"from"`
	To       string   `yaml:"to"`
	Role     string   `yaml:"role,omitempty"`
	Weight   string   `yaml:"weight,omitempty"`
	Unit     string   `yaml:"unit,omitempty"`
	Opposite *float64 `yaml:"opposite,omitempty"`
}

func (r RelationDefinition) options() ([]flowgraph.RelationOption, error) {
	var opts []flowgraph.RelationOption

	if w := strings.TrimSpace(r.Weight); w != "" {
		opt, err := weightOption(w, r.Unit)
		if err != nil {
			return nil, fmt.Errorf("weight %s -> %s: %w", r.From, r.To, err)
		}

		opts = append(opts, opt)
	}

	if r.Opposite != nil {
		opts = append(opts, flowgraph.WithOpposite(quantity.New(*r.Opposite, units.Dimensionless)))
	}

	return opts, nil
}

func weightOption(w, unit string) (flowgraph.RelationOption, error) {
	if v, err := strconv.ParseFloat(w, 64); err == nil {
		q, err := QuantityDefinition{Value: v, Unit: unit}.Quantity()
		if err != nil {
			return nil, err
		}

		return flowgraph.WithWeight(q), nil
	}

	n, err := expr.Parse(w)
	if err != nil {
		return nil, err
	}

	return flowgraph.WithExpr(n), nil
}

// ParseGraphs decodes every graph definition in content.
func ParseGraphs(content []byte, path string) ([]GraphDefinition, error) {
	defs, err := decodeAll[GraphDefinition](content, path)
	if err != nil {
		return nil, err
	}

	for i := range defs {
		if err := defs[i].Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	return defs, nil
}

// Validate checks the definition builds a graph and its parameters resolve
// for every scenario.
func (d *GraphDefinition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: graph id is required", ErrValidationFailed)
	}

	if _, _, err := d.Build(logrus.New()); err != nil {
		return fmt.Errorf("%w: graph %s: %w", ErrValidationFailed, d.ID, err)
	}

	return nil
}

// Build constructs the flow graph and its parameter set. The graph's
// parameters are the resolved defaults.
func (d *GraphDefinition) Build(log logrus.FieldLogger) (*flowgraph.Graph, *expr.ParameterSet, error) {
	params, err := expr.NewParameterSet(d.Parameters...)
	if err != nil {
		return nil, nil, err
	}

	defaults, err := params.Resolve(nil)
	if err != nil {
		return nil, nil, err
	}

	for _, sc := range d.Scenarios {
		if _, err := params.Resolve(sc.Overrides); err != nil {
			return nil, nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
		}
	}

	g := flowgraph.New(d.ID, log, d.Options)
	g.SetParameters(defaults)

	for _, e := range d.Entities {
		var stocks []quantity.Quantity

		if e.Stock != nil {
			q, err := e.Stock.Quantity()
			if err != nil {
				return nil, nil, fmt.Errorf("entity %s: %w", e.Name, err)
			}

			stocks = append(stocks, q)
		}

		if _, err := g.AddEntity(e.Name, flowgraph.Kind(e.Kind), stocks...); err != nil {
			return nil, nil, err
		}
	}

	for _, r := range d.Relations {
		src, err := g.Lookup(r.From)
		if err != nil {
			return nil, nil, err
		}

		dst, err := g.Lookup(r.To)
		if err != nil {
			return nil, nil, err
		}

		role, err := flowgraph.ParseRole(r.Role)
		if err != nil {
			return nil, nil, err
		}

		opts, err := r.options()
		if err != nil {
			return nil, nil, err
		}

		if _, err := g.AddRelation(src, dst, role, opts...); err != nil {
			return nil, nil, err
		}
	}

	return g, params, nil
}
