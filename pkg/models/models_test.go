package models

import (
	"context"
	"testing"

	"github.com/ethpandaops/nis/pkg/cube"
	"github.com/ethpandaops/nis/pkg/flowgraph"
	"github.com/ethpandaops/nis/pkg/normalize"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sourcesYAML = `id: fao
type: faostat
uri: data/wheat.csv
refresh: "@daily"
units:
  production: t
---
id: ssp
type: ssp
uri: "s3://scenarios/{{ .Params.release }}/population.csv"
params:
  release: v2
policy: lenient
`

const cubesYAML = `id: wheat
sources: [fao]
measures: [production]
aggregation: weighted-mean
dimensions:
  - name: country
    levels: [world, region, country]
    hierarchy:
      - value: World
        children:
          - value: Europe
            children: [Spain, France, Germany]
          - value: Africa
            children: [Kenya]
  - name: item
  - name: time
`

const graphsYAML = `id: food
cube: wheat
solve:
  entityDimension: item
parameters:
  - name: feed_share
    value: "0.3"
scenarios:
  - name: low
    parameters:
      feed_share: "0.1"
entities:
  - name: harvest
    kind: fund
    stock: {value: 100, unit: t, stddev: 5}
  - name: feed
  - name: food
relations:
  - {from: harvest, to: feed, weight: feed_share}
  - {from: harvest, to: food, weight: "0.7"}
`

func TestParseSources(t *testing.T) {
	srcs, err := ParseSources([]byte(sourcesYAML), "sources.yaml")
	require.NoError(t, err)
	require.Len(t, srcs, 2)

	assert.Equal(t, "fao", srcs[0].ID)
	assert.Equal(t, normalize.SourceTypeFAOSTAT, srcs[0].Type)
	assert.Equal(t, normalize.PolicyStrict, srcs[0].Policy)
	assert.Equal(t, "t", srcs[0].Units["production"])
	assert.Equal(t, normalize.PolicyLenient, srcs[1].Policy)
	assert.Equal(t, "v2", srcs[1].Params["release"])
}

func TestParseSources_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr error
	}{
		{name: "bad schedule", yaml: "id: a\ntype: ssp\nuri: x\nrefresh: every day\n", wantErr: ErrInvalidSchedule},
		{name: "unknown type", yaml: "id: a\ntype: xlsx\nuri: x\n", wantErr: normalize.ErrUnsupportedSourceType},
		{name: "missing id", yaml: "type: ssp\nuri: x\n", wantErr: ErrValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSources([]byte(tt.yaml), "bad.yaml")
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateSchedule(t *testing.T) {
	for _, s := range []string{"@daily", "@every 6h", "0 3 * * 1"} {
		require.NoError(t, ValidateSchedule(s), s)
	}

	require.ErrorIs(t, ValidateSchedule("61 * * * *"), ErrInvalidSchedule)
}

func TestParseCubes(t *testing.T) {
	defs, err := ParseCubes([]byte(cubesYAML), "cubes.yaml")
	require.NoError(t, err)
	require.Len(t, defs, 1)

	agg, err := defs[0].AggFunc()
	require.NoError(t, err)
	assert.Equal(t, cube.WeightedMean, agg)

	schema, err := defs[0].Schema()
	require.NoError(t, err)
	assert.Equal(t, []string{"country", "item", "time"}, schema.DimensionNames())

	country, ok := schema.Dimension("country")
	require.True(t, ok)
	require.NotNil(t, country.Hierarchy)

	parent, ok := country.Hierarchy.Parent("spain")
	require.True(t, ok)
	assert.Equal(t, "Europe", parent)
	assert.Equal(t, []string{"world", "region", "country"}, country.Hierarchy.Levels())

	item, _ := schema.Dimension("item")
	assert.Nil(t, item.Hierarchy)
}

func TestParseCubes_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "no sources", yaml: "id: c\ndimensions: [{name: a}]\n"},
		{name: "unknown aggregation", yaml: "id: c\nsources: [s]\naggregation: median\n"},
		{name: "duplicate dimension", yaml: "id: c\nsources: [s]\ndimensions: [{name: a}, {name: a}]\n"},
		{name: "conflicting parent", yaml: `id: c
sources: [s]
dimensions:
  - name: a
    hierarchy:
      - {value: X, children: [Z]}
      - {value: Y, children: [Z]}
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCubes([]byte(tt.yaml), "bad.yaml")
			require.Error(t, err)
		})
	}
}

func TestGraphDefinition_Build(t *testing.T) {
	defs, err := ParseGraphs([]byte(graphsYAML), "graphs.yaml")
	require.NoError(t, err)
	require.Len(t, defs, 1)

	def := defs[0]
	assert.Equal(t, "item", def.Solve.EntityDimension)

	g, params, err := def.Build(logrus.New())
	require.NoError(t, err)
	assert.Equal(t, []string{"feed_share"}, params.Names())

	feed, err := g.Lookup("feed")
	require.NoError(t, err)

	q, err := g.Evaluate(context.Background(), feed)
	require.NoError(t, err)
	assert.InDelta(t, 30, q.Value, 1e-9)
	assert.InDelta(t, 1.5, q.Uncertainty.StdDev(), 1e-9)

	food, err := g.Lookup("food")
	require.NoError(t, err)

	q, err = g.Evaluate(context.Background(), food)
	require.NoError(t, err)
	assert.InDelta(t, 70, q.Value, 1e-9)

	harvest, err := g.Entity(0)
	require.NoError(t, err)
	assert.Equal(t, flowgraph.KindFund, harvest.Kind)
}

func TestParseGraphs_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "missing id", yaml: "entities: [{name: a}]\n"},
		{name: "unknown entity", yaml: "id: g\nentities: [{name: a}]\nrelations: [{from: a, to: b}]\n"},
		{name: "bad role", yaml: "id: g\nentities: [{name: a}, {name: b}]\nrelations: [{from: a, to: b, role: sideways}]\n"},
		{name: "bad weight", yaml: "id: g\nentities: [{name: a}, {name: b}]\nrelations: [{from: a, to: b, weight: '0.3 *'}]\n"},
		{name: "bad unit", yaml: "id: g\nentities: [{name: a, stock: {value: 1, unit: furlongs}}]\n"},
		{name: "unknown override", yaml: "id: g\nscenarios: [{name: s, parameters: {nope: '1'}}]\nentities: [{name: a}]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseGraphs([]byte(tt.yaml), "bad.yaml")
			require.ErrorIs(t, err, ErrValidationFailed)
		})
	}
}
