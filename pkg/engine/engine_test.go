package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/creasty/defaults"
	"github.com/ethpandaops/nis/internal/testutil"
	"github.com/ethpandaops/nis/pkg/cache"
	"github.com/ethpandaops/nis/pkg/cube"
	"github.com/ethpandaops/nis/pkg/facts"
	"github.com/ethpandaops/nis/pkg/flowgraph"
	"github.com/ethpandaops/nis/pkg/models"
	"github.com/ethpandaops/nis/pkg/normalize"
	"github.com/ethpandaops/nis/pkg/quantity"
	"github.com/ethpandaops/nis/pkg/store"
	"github.com/ethpandaops/nis/pkg/units"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cubesYAML = `id: wheat
description: Wheat production by country
sources: [fao]
measures: [production]
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
  - name: Wheat
    kind: fund
  - name: feed
  - name: food
relations:
  - {from: Wheat, to: feed, weight: feed_share}
  - {from: Wheat, to: food, weight: "0.7"}
---
id: farm
entities:
  - name: harvest
    kind: fund
    stock: {value: 100, unit: t, stddev: 5}
  - name: feed
relations:
  - {from: harvest, to: feed, weight: "0.3"}
`

type fixture struct {
	svc     *Service
	cfg     *Config
	dir     string
	csvPath string
}

func newTestLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	csvPath := testutil.WriteFile(t, dir, "data/wheat.csv", testutil.EuropeanWheat())

	testutil.WriteFile(t, dir, "sources/fao.yaml", []byte("id: fao\ntype: faostat\nuri: "+csvPath+"\n"))
	testutil.WriteFile(t, dir, "cubes/wheat.yaml", []byte(cubesYAML))
	testutil.WriteFile(t, dir, "graphs/food.yaml", []byte(graphsYAML))

	cfg := &Config{}
	require.NoError(t, defaults.Set(cfg))

	cfg.MetricsAddr = ""
	cfg.Cache.Dir = filepath.Join(dir, "cache")
	cfg.Models = models.Config{
		Sources: models.PathsConfig{Paths: []string{filepath.Join(dir, "sources")}},
		Cubes:   models.PathsConfig{Paths: []string{filepath.Join(dir, "cubes")}},
		Graphs:  models.PathsConfig{Paths: []string{filepath.Join(dir, "graphs")}},
	}

	f := &fixture{cfg: cfg, dir: dir, csvPath: csvPath}
	f.start(t)

	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()

	svc, err := NewService(newTestLogger(), f.cfg)
	require.NoError(t, err)
	require.NoError(t, svc.Open(context.Background()))

	t.Cleanup(func() { _ = svc.Stop() })

	f.svc = svc
}

// restart stops the service and starts a new one on the same cache
// directory and model paths.
func (f *fixture) restart(t *testing.T) {
	t.Helper()

	require.NoError(t, f.svc.Stop())
	f.start(t)
}

func tonnes(t *testing.T, q quantity.Quantity) float64 {
	t.Helper()

	out, err := quantity.Convert(q, units.MustParse("t"))
	require.NoError(t, err)

	return out.Value
}

func find(t *testing.T, fs []facts.Fact, pairs ...string) facts.Fact {
	t.Helper()

	for _, f := range fs {
		match := true

		for i := 0; i+1 < len(pairs); i += 2 {
			if !strings.EqualFold(f.Dimension(pairs[i]), pairs[i+1]) {
				match = false
				break
			}
		}

		if match {
			return f
		}
	}

	require.Failf(t, "fact not found", "%v", pairs)

	return facts.Fact{}
}

func TestConfigValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		require.NoError(t, defaults.Set(cfg))

		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{
			name:    "redis cache without redis",
			mutate:  func(c *Config) { c.Cache.Backend = cache.BackendRedis },
			wantErr: ErrRedisURLRequired,
		},
		{
			name:    "bad store driver",
			mutate:  func(c *Config) { c.Store.Driver = "sqlite" },
			wantErr: store.ErrInvalidDriver,
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Store.Driver = store.DriverPostgres },
			wantErr: store.ErrDSNRequired,
		},
		{
			name:    "zero parallelism",
			mutate:  func(c *Config) { c.Normalize.Parallelism = 0 },
			wantErr: ErrInvalidParallelism,
		},
		{
			name: "redis enabled",
			mutate: func(c *Config) {
				c.Redis.URL = "redis://localhost:6379/0"
				c.Cache.Backend = cache.BackendRedis
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
		})
	}
}

func TestNewService_WithRedis(t *testing.T) {
	mr := testutil.NewMiniredis(t)

	cfg := &Config{}
	require.NoError(t, defaults.Set(cfg))

	cfg.MetricsAddr = ""
	cfg.Redis.URL = "redis://" + mr.Addr()
	cfg.Cache.Backend = cache.BackendRedis

	svc, err := NewService(newTestLogger(), cfg)
	require.NoError(t, err)

	assert.NotNil(t, svc.queue)
	assert.NotNil(t, svc.scheduler)
	assert.NotNil(t, svc.worker)
	assert.Equal(t, "nis", cfg.Redis.Prefix)

	require.NoError(t, svc.Stop())
}

func TestListCubes(t *testing.T) {
	f := newFixture(t)

	cubes := f.svc.ListCubes()
	require.Len(t, cubes, 1)

	assert.Equal(t, "wheat", cubes[0].ID)
	assert.Equal(t, []string{"fao"}, cubes[0].Sources)
	assert.Equal(t, "sum", cubes[0].Aggregation)
	require.Len(t, cubes[0].Dimensions, 3)
	assert.Equal(t, []string{"world", "region", "country"}, cubes[0].Dimensions[0].Levels)
}

func TestQueryCube_RollUpToEuropeInTonnes(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.QueryCube(context.Background(), CubeQuery{
		CubeID: "wheat",
		Filter: map[string][]string{"time": {"2010"}},
		RollUp: &RollUp{Dimension: "country", Level: "region"},
		Unit:   "t",
	})
	require.NoError(t, err)

	assert.Equal(t, "wheat", res.Cube)
	assert.Equal(t, []string{"production"}, res.Measures)
	require.Len(t, res.Facts, 2)

	europe := find(t, res.Facts, "country", "Europe")
	// 1000 t + 2500 kt + 800000 kg
	assert.InDelta(t, 1000+2.5e6+800, europe.Quantity().Value, 1e-6)
	assert.Equal(t, "t", europe.Quantity().Unit.String())

	africa := find(t, res.Facts, "country", "Africa")
	assert.InDelta(t, 300, africa.Quantity().Value, 1e-9)
}

func TestQueryCube_GroupBy(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.QueryCube(context.Background(), CubeQuery{
		CubeID:   "wheat",
		GroupBy:  []string{"time"},
		Measures: []string{"production"},
		Unit:     "Mt",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"time"}, res.Dimensions)
	require.Len(t, res.Facts, 2)
	assert.InDelta(t, 2.5021, find(t, res.Facts, "time", "2010").Quantity().Value, 1e-9)
	assert.InDelta(t, 2.6011, find(t, res.Facts, "time", "2011").Quantity().Value, 1e-9)
}

func TestQueryCube_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		query   CubeQuery
		wantErr error
	}{
		{name: "unknown cube", query: CubeQuery{CubeID: "rice"}, wantErr: models.ErrModelNotFound},
		{name: "unknown aggregation", query: CubeQuery{CubeID: "wheat", Agg: "median"}, wantErr: cube.ErrUnknownAggFunc},
		{name: "unknown filter dimension", query: CubeQuery{CubeID: "wheat", Filter: map[string][]string{"flag": {"A"}}}, wantErr: facts.ErrUnknownDimension},
		{name: "incomplete roll up", query: CubeQuery{CubeID: "wheat", RollUp: &RollUp{Dimension: "country"}}, wantErr: ErrInvalidQuery},
		{name: "roll up without hierarchy", query: CubeQuery{CubeID: "wheat", RollUp: &RollUp{Dimension: "item", Level: "x"}}, wantErr: cube.ErrNoHierarchy},
		{name: "incompatible unit", query: CubeQuery{CubeID: "wheat", Unit: "s"}, wantErr: units.ErrIncompatibleUnits},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.QueryCube(ctx, tt.query)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestQueryCube_CachedUntilRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	query := CubeQuery{CubeID: "wheat", Filter: map[string][]string{"country": {"Spain"}, "time": {"2010"}}}

	res, err := f.svc.QueryCube(ctx, query)
	require.NoError(t, err)
	require.Len(t, res.Facts, 1)
	assert.InDelta(t, 1000, tonnes(t, res.Facts[0].Quantity()), 1e-9)

	// Served from the cache once the source is gone.
	require.NoError(t, os.Remove(f.csvPath))

	res, err = f.svc.QueryCube(ctx, query)
	require.NoError(t, err)
	assert.InDelta(t, 1000, tonnes(t, res.Facts[0].Quantity()), 1e-9)

	_, err = f.svc.RefreshSource(ctx, "fao")
	require.ErrorIs(t, err, normalize.ErrSourceUnavailable)

	testutil.WriteFile(t, filepath.Dir(f.csvPath), filepath.Base(f.csvPath), testutil.FAOSTATCSV(
		testutil.Production("Spain", "2010", "2000"),
	))

	report, err := f.svc.RefreshSource(ctx, "fao")
	require.NoError(t, err)
	assert.Equal(t, "fao", report.SourceID)
	assert.Equal(t, 1, report.Facts)
	assert.Equal(t, []string{"wheat"}, report.Cubes)
	assert.Equal(t, []string{"food"}, report.Graphs)
	assert.Positive(t, report.Invalidated)

	res, err = f.svc.QueryCube(ctx, query)
	require.NoError(t, err)
	assert.InDelta(t, 2000, tonnes(t, res.Facts[0].Quantity()), 1e-9)
}

func TestQueryCube_PersistsFacts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.QueryCube(ctx, CubeQuery{CubeID: "wheat"})
	require.NoError(t, err)

	datasets, err := f.svc.facts.List(ctx, store.KindDataset)
	require.NoError(t, err)
	assert.Equal(t, []string{"fao"}, datasets)

	ds, err := f.svc.facts.LoadCube(ctx, "wheat")
	require.NoError(t, err)
	assert.Len(t, ds.Facts, 6)
}

func TestQueryCube_SourceDefinitionChange(t *testing.T) {
	tests := []struct {
		name      string
		extra     string
		countries []string
		facts     int
	}{
		{
			name:      "unchanged",
			countries: []string{"France", "Germany", "Kenya", "Spain"},
			facts:     6,
		},
		{
			name:      "filter",
			extra:     "version: \"2\"\nfilter:\n  country: [Spain]\n",
			countries: []string{"Spain"},
			facts:     2,
		},
		{
			name:      "period range",
			extra:     "start_period: 2011\n",
			countries: []string{"France", "Spain"},
			facts:     2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			res, err := f.svc.QueryCube(ctx, CubeQuery{CubeID: "wheat"})
			require.NoError(t, err)
			require.Len(t, res.Facts, 6)

			before, err := f.svc.facts.LoadDataset(ctx, "fao")
			require.NoError(t, err)

			testutil.WriteFile(t, f.dir, "sources/fao.yaml",
				[]byte("id: fao\ntype: faostat\nuri: "+f.csvPath+"\n"+tt.extra))
			f.restart(t)

			res, err = f.svc.QueryCube(ctx, CubeQuery{CubeID: "wheat"})
			require.NoError(t, err)
			require.Len(t, res.Facts, tt.facts)

			seen := map[string]bool{}
			for _, fact := range res.Facts {
				seen[fact.Dimension("country")] = true
			}

			countries := make([]string, 0, len(seen))
			for c := range seen {
				countries = append(countries, c)
			}

			assert.ElementsMatch(t, tt.countries, countries)

			if tt.extra == "" {
				// Served from the cache directory kept across the restart.
				return
			}

			after, err := f.svc.facts.LoadDataset(ctx, "fao")
			require.NoError(t, err)
			assert.Len(t, after.Facts, tt.facts)
			assert.NotEqual(t, before.Fingerprint, after.Fingerprint)
		})
	}
}

func TestSourceFacts_StaleStoredDataset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.QueryCube(ctx, CubeQuery{CubeID: "wheat"})
	require.NoError(t, err)

	require.NoError(t, f.svc.facts.SaveDataset(ctx, "fao", "source/fao/old", res.Facts[:1]))

	_, err = f.svc.cache.Invalidate(ctx, "")
	require.NoError(t, err)

	fs, err := f.svc.sourceFacts(ctx, "fao")
	require.NoError(t, err)
	assert.Len(t, fs, 6)

	ds, err := f.svc.facts.LoadDataset(ctx, "fao")
	require.NoError(t, err)
	assert.NotEqual(t, "source/fao/old", ds.Fingerprint)
	assert.Len(t, ds.Facts, 6)
}

func TestSolve(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Solve(context.Background(), "food")
	require.NoError(t, err)

	assert.Equal(t, []string{"2010", "2011"}, res.Periods)

	tests := []struct {
		scenario string
		entity   string
		period   string
		want     float64
	}{
		{scenario: "baseline", entity: "feed", period: "2010", want: 0.3 * 2502100},
		{scenario: "baseline", entity: "food", period: "2011", want: 0.7 * 2601100},
		{scenario: "low", entity: "feed", period: "2010", want: 0.1 * 2502100},
		{scenario: "low", entity: "feed", period: "2011", want: 0.1 * 2601100},
	}

	for _, tt := range tests {
		t.Run(tt.scenario+"/"+tt.entity+"/"+tt.period, func(t *testing.T) {
			fact := find(t, res.Facts, "scenario", tt.scenario, "entity", tt.entity, "time", tt.period)
			assert.InDelta(t, tt.want, tonnes(t, fact.Quantity()), 1e-6)
		})
	}

	_, err = f.svc.Solve(context.Background(), "farm")
	require.ErrorIs(t, err, ErrGraphWithoutCube)
}

func TestEvaluateEntity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("graph without cube", func(t *testing.T) {
		res, err := f.svc.EvaluateEntity(ctx, "farm", "feed")
		require.NoError(t, err)

		require.NotNil(t, res.Value)
		assert.InDelta(t, 30, tonnes(t, *res.Value), 1e-9)
		assert.InDelta(t, 1.5, res.Value.Uncertainty.StdDev(), 1e-9)
		assert.Empty(t, res.Facts)
	})

	t.Run("graph observing a cube", func(t *testing.T) {
		res, err := f.svc.EvaluateEntity(ctx, "food", "feed")
		require.NoError(t, err)

		assert.Nil(t, res.Value)
		assert.Len(t, res.Facts, 4)

		for _, fact := range res.Facts {
			assert.Equal(t, "feed", fact.Dimension("entity"))
		}
	})

	t.Run("observed entity", func(t *testing.T) {
		res, err := f.svc.EvaluateEntity(ctx, "food", "Wheat")
		require.NoError(t, err)

		assert.Equal(t, flowgraph.KindFund, res.Kind)
		assert.Empty(t, res.Facts)
		require.Len(t, res.Observed, 2)
		assert.InDelta(t, 2502100, tonnes(t, find(t, res.Observed, "time", "2010").Quantity()), 1e-6)
	})

	t.Run("unknown entity", func(t *testing.T) {
		_, err := f.svc.EvaluateEntity(ctx, "farm", "barley")
		require.ErrorIs(t, err, flowgraph.ErrUnknownEntity)
	})

	t.Run("unknown graph", func(t *testing.T) {
		_, err := f.svc.EvaluateEntity(ctx, "forest", "feed")
		require.ErrorIs(t, err, models.ErrModelNotFound)
	})
}

func TestRefresh_UnknownSource(t *testing.T) {
	f := newFixture(t)

	err := f.svc.Refresh(context.Background(), "imf")
	require.ErrorIs(t, err, models.ErrModelNotFound)
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	spain := models.CubeDefinition{
		ID:         "spain",
		Sources:    []string{"fao"},
		Dimensions: []models.DimensionDefinition{{Name: "country"}, {Name: "item"}, {Name: "time"}},
	}

	require.NoError(t, f.svc.Register(ctx, nil, []models.CubeDefinition{spain}, nil))
	assert.Len(t, f.svc.ListCubes(), 2)

	res, err := f.svc.QueryCube(ctx, CubeQuery{CubeID: "spain", Filter: map[string][]string{"country": {"Spain"}}})
	require.NoError(t, err)
	assert.Len(t, res.Facts, 2)
}

func TestLenientPolicy(t *testing.T) {
	f := newFixture(t)
	f.svc.config.Normalize.Lenient = true

	require.NoError(t, f.svc.registerSources(f.svc.models.Sources()))

	src, err := f.svc.sources.Get("fao")
	require.NoError(t, err)
	assert.Equal(t, normalize.PolicyLenient, src.Policy)
}

func TestHealthHandler(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, defaults.Set(cfg))

	cfg.MetricsAddr = ""
	cfg.Cache.Backend = cache.BackendMemory
	cfg.Models = models.Config{
		Sources: models.PathsConfig{Paths: []string{t.TempDir()}},
		Cubes:   models.PathsConfig{Paths: []string{t.TempDir()}},
		Graphs:  models.PathsConfig{Paths: []string{t.TempDir()}},
	}

	svc, err := NewService(newTestLogger(), cfg)
	require.NoError(t, err)

	h := svc.healthHandler()

	get := func(path string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

		return rec.Code
	}

	assert.Equal(t, http.StatusOK, get("/health"))
	assert.Equal(t, http.StatusServiceUnavailable, get("/ready"))

	require.NoError(t, svc.Open(context.Background()))
	assert.Equal(t, http.StatusOK, get("/ready"))

	require.NoError(t, svc.Stop())
	assert.Equal(t, http.StatusServiceUnavailable, get("/ready"))
}

func TestEnqueueRefresh_WithoutRedis(t *testing.T) {
	f := newFixture(t)

	err := f.svc.EnqueueRefresh(context.Background(), "fao")
	require.ErrorIs(t, err, ErrRedisURLRequired)
}

func TestRefreshSources(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reports, err := f.svc.RefreshSources(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "fao", reports[0].SourceID)
	assert.Equal(t, 6, reports[0].Facts)

	_, err = f.svc.RefreshSources(ctx, "fao", "imf")
	require.ErrorIs(t, err, models.ErrModelNotFound)

	require.NoError(t, os.Remove(f.csvPath))

	reports, err = f.svc.RefreshSources(ctx, "fao")
	require.ErrorIs(t, err, normalize.ErrSourceUnavailable)
	assert.Empty(t, reports)
}
