package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethpandaops/nis/pkg/normalize"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeModels(t *testing.T) *Config {
	t.Helper()

	dir := t.TempDir()

	files := map[string]string{
		"sources/fao.yaml":  sourcesYAML,
		"cubes/wheat.yaml":  cubesYAML,
		"graphs/food.yaml":  graphsYAML,
		"graphs/README.txt": "ignored",
	}

	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	return &Config{
		Sources: PathsConfig{Paths: []string{filepath.Join(dir, "sources")}},
		Cubes:   PathsConfig{Paths: []string{filepath.Join(dir, "cubes")}},
		Graphs:  PathsConfig{Paths: []string{filepath.Join(dir, "graphs")}},
	}
}

func TestService_Start(t *testing.T) {
	svc := NewService(logrus.New(), writeModels(t))
	require.NoError(t, svc.Start())
	defer func() { require.NoError(t, svc.Stop()) }()

	require.Len(t, svc.Sources(), 2)
	require.Len(t, svc.Cubes(), 1)
	require.Len(t, svc.Graphs(), 1)

	src, err := svc.Source("ssp")
	require.NoError(t, err)
	assert.Equal(t, normalize.SourceTypeSSP, src.Type)

	_, err = svc.Cube("wheat")
	require.NoError(t, err)

	_, err = svc.Graph("food")
	require.NoError(t, err)

	_, err = svc.Graph("missing")
	require.ErrorIs(t, err, ErrModelNotFound)

	cubes, graphs := svc.Affected("fao")
	assert.Equal(t, []string{"wheat"}, cubes)
	assert.Equal(t, []string{"food"}, graphs)

	assert.True(t, svc.GetDAG().IsPathBetween("source/fao", "graph/food"))
}

func TestService_StartErrors(t *testing.T) {
	t.Run("duplicate source", func(t *testing.T) {
		cfg := writeModels(t)
		path := filepath.Join(cfg.Sources.Paths[0], "again.yaml")
		require.NoError(t, os.WriteFile(path, []byte("id: fao\ntype: faostat\nuri: x\n"), 0o644))

		err := NewService(logrus.New(), cfg).Start()
		require.ErrorIs(t, err, ErrDuplicateModel)
	})

	t.Run("cube on unknown source", func(t *testing.T) {
		cfg := writeModels(t)
		path := filepath.Join(cfg.Cubes.Paths[0], "orphan.yaml")
		require.NoError(t, os.WriteFile(path, []byte("id: orphan\nsources: [gone]\n"), 0o644))

		err := NewService(logrus.New(), cfg).Start()
		require.ErrorIs(t, err, ErrNonExistentDependency)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		cfg := writeModels(t)
		path := filepath.Join(cfg.Graphs.Paths[0], "broken.yaml")
		require.NoError(t, os.WriteFile(path, []byte("id: [unterminated\n"), 0o644))

		err := NewService(logrus.New(), cfg).Start()
		require.Error(t, err)
	})
}

func TestService_Register(t *testing.T) {
	svc := NewService(logrus.New(), &Config{
		Sources: PathsConfig{Paths: []string{t.TempDir()}},
		Cubes:   PathsConfig{Paths: []string{t.TempDir()}},
		Graphs:  PathsConfig{Paths: []string{t.TempDir()}},
	})
	require.NoError(t, svc.Start())

	err := svc.Register(
		[]normalize.Source{{ID: "fao", Type: normalize.SourceTypeFAOSTAT, URI: "x"}},
		[]CubeDefinition{{ID: "wheat", Sources: []string{"fao"}}},
		nil,
	)
	require.NoError(t, err)

	cubes, _ := svc.Affected("fao")
	assert.Equal(t, []string{"wheat"}, cubes)

	err = svc.Register([]normalize.Source{{ID: "bad", Type: "xlsx"}}, nil, nil)
	require.ErrorIs(t, err, ErrValidationFailed)
}
