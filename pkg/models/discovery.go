// Package models handles discovery and parsing of source, cube and flow
// graph definitions, and the dependency graph between them
package models

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// File represents a discovered model file
type File struct {
	FilePath string
	Content  []byte
}

// DiscoverPaths walks every path and returns the YAML files found, sorted
// by path. Missing directories are skipped.
func DiscoverPaths(paths []string) ([]File, error) {
	var files []File

	for _, base := range paths {
		err := filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil // Skip if directory doesn't exist
				}

				return err
			}

			if info.IsDir() {
				return nil
			}

			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			content, err := os.ReadFile(path)
			if err != nil {
				return err
			}

			files = append(files, File{FilePath: path, Content: content})

			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to discover models in %s: %w", base, err)
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].FilePath < files[j].FilePath })

	return files, nil
}

// decodeAll decodes every YAML document of content into a T.
func decodeAll[T any](content []byte, path string) ([]T, error) {
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var out []T

	for {
		var v T

		err := dec.Decode(&v)
		if errors.Is(err, io.EOF) {
			return out, nil
		}

		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}

		out = append(out, v)
	}
}
