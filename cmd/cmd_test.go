package cmd

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/ethpandaops/nis/internal/testutil"
	"github.com/ethpandaops/nis/pkg/cache"
	"github.com/ethpandaops/nis/pkg/engine"
	"github.com/ethpandaops/nis/pkg/facts"
	"github.com/ethpandaops/nis/pkg/quantity"
	"github.com/ethpandaops/nis/pkg/units"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCube = `id: wheat
sources: [fao]
measures: [production]
dimensions:
  - name: country
    levels: [region, country]
    hierarchy:
      - value: Europe
        children: [Spain, France, Germany]
      - value: Africa
        children: [Kenya]
  - name: item
  - name: time
`

func writeProject(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	csv := testutil.WriteFile(t, dir, "data/wheat.csv", testutil.EuropeanWheat())

	testutil.WriteFile(t, dir, "models/sources/fao.yaml", []byte("id: fao\ntype: faostat\nuri: "+csv+"\n"))
	testutil.WriteFile(t, dir, "models/cubes/wheat.yaml", []byte(testCube))
	testutil.WriteFile(t, dir, "models/graphs/.keep", nil)

	return testutil.WriteFile(t, dir, "config.yaml", []byte(`logging: error
metricsAddr: ""
cache:
  backend: memory
models:
  sources:
    paths: [`+filepath.Join(dir, "models/sources")+`]
  cubes:
    paths: [`+filepath.Join(dir, "models/cubes")+`]
  graphs:
    paths: [`+filepath.Join(dir, "models/graphs")+`]
`))
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)

	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()

	return out.String(), err
}

func TestLoadConfig(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)

		assert.Equal(t, "info", cfg.Logging)
		assert.Equal(t, cache.BackendFile, cfg.Cache.Backend)
		assert.Equal(t, 4, cfg.Normalize.Parallelism)
		assert.False(t, cfg.RedisEnabled())
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := testutil.WriteFile(t, t.TempDir(), "config.yaml", []byte(`logging: debug
redis:
  url: redis://localhost:6379/0
normalize:
  lenient: true
`))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)

		assert.Equal(t, "debug", cfg.Logging)
		assert.True(t, cfg.RedisEnabled())
		assert.True(t, cfg.Normalize.Lenient)
		assert.Equal(t, 4, cfg.Normalize.Parallelism)
		assert.Equal(t, "nis", cfg.Redis.Prefix)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := testutil.WriteFile(t, t.TempDir(), "config.yaml", []byte("logging: [unterminated"))

		_, err := LoadConfig(path)
		require.Error(t, err)
	})
}

func TestParseFilters(t *testing.T) {
	tests := []struct {
		name    string
		raw     []string
		want    map[string][]string
		wantErr bool
	}{
		{name: "none", raw: nil, want: nil},
		{
			name: "several dimensions",
			raw:  []string{"country=Spain, France", "time=2010"},
			want: map[string][]string{"country": {"Spain", "France"}, "time": {"2010"}},
		},
		{
			name: "repeated dimension",
			raw:  []string{"time=2010", "time=2011"},
			want: map[string][]string{"time": {"2010", "2011"}},
		},
		{name: "missing separator", raw: []string{"country"}, wantErr: true},
		{name: "missing values", raw: []string{"country="}, wantErr: true},
		{name: "missing dimension", raw: []string{"=Spain"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFilters(tt.raw)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidFlag)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRollUp(t *testing.T) {
	r, err := parseRollUp("country:region")
	require.NoError(t, err)
	assert.Equal(t, &engine.RollUp{Dimension: "country", Level: "region"}, r)

	r, err = parseRollUp("")
	require.NoError(t, err)
	assert.Nil(t, r)

	_, err = parseRollUp("country")
	require.ErrorIs(t, err, ErrInvalidFlag)
}

func TestWriteFacts(t *testing.T) {
	fs := []facts.Fact{
		facts.New(facts.Of("country", "Spain", "time", "2010"), "production",
			quantity.New(1000, units.MustParse("t")), facts.Provenance{}),
	}

	var out bytes.Buffer
	require.NoError(t, writeFacts(&out, nil, fs))

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Regexp(t, `^COUNTRY\s+TIME\s+MEASURE\s+VALUE\s+UNIT\s+STDDEV$`, string(lines[0]))
	assert.Regexp(t, `^Spain\s+2010\s+production\s+1000\s+t\s+-$`, string(lines[1]))
}

func TestKeep(t *testing.T) {
	fs := []facts.Fact{
		facts.New(facts.Of("scenario", "baseline"), "value", quantity.New(1, units.Dimensionless), facts.Provenance{}),
		facts.New(facts.Of("scenario", "low"), "value", quantity.New(2, units.Dimensionless), facts.Provenance{}),
	}

	assert.Len(t, keep(fs, "scenario", nil), 2)

	kept := keep(fs, "scenario", []string{"LOW"})
	require.Len(t, kept, 1)
	assert.Equal(t, "low", kept[0].Dimension("scenario"))
}

func TestQueryCommand(t *testing.T) {
	cfg := writeProject(t)

	out, err := execute(t, "query", "wheat", "--config", cfg,
		"--filter", "time=2010", "--rollup", "country:region", "--unit", "t", "-o", "json")
	require.NoError(t, err)

	var res engine.CubeResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))

	assert.Equal(t, "wheat", res.Cube)
	require.Len(t, res.Facts, 2)

	for _, f := range res.Facts {
		switch f.Dimension("country") {
		case "Europe":
			assert.InDelta(t, 2501800, f.Quantity().Value, 1e-6)
		case "Africa":
			assert.InDelta(t, 300, f.Quantity().Value, 1e-9)
		default:
			t.Fatalf("unexpected country %q", f.Dimension("country"))
		}
	}
}

func TestModelsDAGCommand(t *testing.T) {
	cfg := writeProject(t)

	out, err := execute(t, "models", "dag", "--config", cfg, "--dot")
	require.NoError(t, err)

	assert.Contains(t, out, `"source/fao" -> "cube/wheat";`)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)
}
