package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverPaths(t *testing.T) {
	tmpDir := t.TempDir()

	sourcesDir := filepath.Join(tmpDir, "sources")
	nestedDir := filepath.Join(sourcesDir, "fao")
	require.NoError(t, os.MkdirAll(nestedDir, 0o755))

	files := []string{
		filepath.Join(sourcesDir, "ssp.yaml"),
		filepath.Join(nestedDir, "wheat.yml"),
		filepath.Join(sourcesDir, "notes.txt"), // Should be ignored
		filepath.Join(sourcesDir, "query.sql"), // Should be ignored
	}

	for _, path := range files {
		require.NoError(t, os.WriteFile(path, []byte("id: x"), 0o644))
	}

	found, err := DiscoverPaths([]string{sourcesDir, filepath.Join(tmpDir, "missing")})
	require.NoError(t, err)
	require.Len(t, found, 2)

	assert.Equal(t, filepath.Join(nestedDir, "wheat.yml"), found[0].FilePath)
	assert.Equal(t, filepath.Join(sourcesDir, "ssp.yaml"), found[1].FilePath)
	assert.Equal(t, []byte("id: x"), found[0].Content)
}

func TestConfig_SetDefaults(t *testing.T) {
	cfg := &Config{Cubes: PathsConfig{Paths: []string{"custom/cubes"}}}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"models/sources"}, cfg.Sources.Paths)
	assert.Equal(t, []string{"custom/cubes"}, cfg.Cubes.Paths)
	assert.Equal(t, []string{"models/graphs"}, cfg.Graphs.Paths)
}

func TestDecodeAll_MultipleDocuments(t *testing.T) {
	type doc struct {
		ID string `yaml:"id"`
	}

	docs, err := decodeAll[doc]([]byte("id: a\n---\nid: b\n"), "x.yaml")
	require.NoError(t, err)
	assert.Equal(t, []doc{{ID: "a"}, {ID: "b"}}, docs)

	_, err = decodeAll[doc]([]byte("id: a\nunknown: 1\n"), "x.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "x.yaml")
}
