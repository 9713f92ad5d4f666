package models

import (
	"fmt"

	"github.com/ethpandaops/nis/pkg/cube"
	"github.com/ethpandaops/nis/pkg/facts"
	"gopkg.in/yaml.v3"
)

// CubeDefinition declares a cube over the facts of one or more sources.
type CubeDefinition struct {
	ID          string                `yaml:"id"`
	Description string                `yaml:"description,omitempty"`
	Sources     []string              `yaml:"sources"`
	Measures    []string              `yaml:"measures,omitempty"`
	Strict      bool                  `yaml:"strict,omitempty"`
	Aggregation string                `yaml:"aggregation,omitempty"`
	Dimensions  []DimensionDefinition `yaml:"dimensions"`
}

// DimensionDefinition declares a dimension and its optional hierarchy.
type DimensionDefinition struct {
	Name      string          `yaml:"name"`
	Levels    []string        `yaml:"levels,omitempty"`
	Hierarchy []HierarchyNode `yaml:"hierarchy,omitempty"`
}

// HierarchyNode is a value with its children. A plain scalar is a leaf.
type HierarchyNode struct {
	Value    string          `yaml:"value"`
	Children []HierarchyNode `yaml:"children,omitempty"`
}

// UnmarshalYAML accepts both "Spain" and {value: Europe, children: [...]}.
func (n *HierarchyNode) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		n.Value = node.Value
		return nil
	}

	type plain HierarchyNode

	return node.Decode((*plain)(n))
}

// ParseCubes decodes every cube definition in content.
func ParseCubes(content []byte, path string) ([]CubeDefinition, error) {
	defs, err := decodeAll[CubeDefinition](content, path)
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

// Validate checks the definition builds a schema.
func (d *CubeDefinition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: cube id is required", ErrValidationFailed)
	}

	if len(d.Sources) == 0 {
		return fmt.Errorf("%w: cube %s has no sources", ErrValidationFailed, d.ID)
	}

	if _, err := d.AggFunc(); err != nil {
		return fmt.Errorf("%w: cube %s: %w", ErrValidationFailed, d.ID, err)
	}

	if _, err := d.Schema(); err != nil {
		return fmt.Errorf("%w: cube %s: %w", ErrValidationFailed, d.ID, err)
	}

	return nil
}

// AggFunc returns the default aggregation of the cube.
func (d *CubeDefinition) AggFunc() (cube.AggFunc, error) {
	return cube.ParseAggFunc(d.Aggregation)
}

// Schema builds the cube schema, hierarchies included.
func (d *CubeDefinition) Schema() (facts.Schema, error) {
	schema := facts.Schema{Measures: d.Measures, Strict: d.Strict}
	seen := make(map[string]bool, len(d.Dimensions))

	for _, dim := range d.Dimensions {
		if dim.Name == "" {
			return facts.Schema{}, fmt.Errorf("%w: dimension without name", ErrValidationFailed)
		}

		if seen[dim.Name] {
			return facts.Schema{}, fmt.Errorf("%w: dimension %s declared twice", ErrValidationFailed, dim.Name)
		}

		seen[dim.Name] = true

		fd := facts.Dimension{Name: dim.Name}

		if len(dim.Hierarchy) > 0 {
			h := facts.NewHierarchy(dim.Levels...)
			for _, root := range dim.Hierarchy {
				if err := addNode(h, root, ""); err != nil {
					return facts.Schema{}, fmt.Errorf("dimension %s: %w", dim.Name, err)
				}
			}

			fd.Hierarchy = h
		}

		schema.Dimensions = append(schema.Dimensions, fd)
	}

	return schema, nil
}

func addNode(h *facts.Hierarchy, n HierarchyNode, parent string) error {
	if n.Value == "" {
		return fmt.Errorf("%w: empty hierarchy value", ErrValidationFailed)
	}

	if parent == "" {
		h.AddRoot(n.Value)
	} else if err := h.Add(n.Value, parent); err != nil {
		return err
	}

	for _, c := range n.Children {
		if err := addNode(h, c, n.Value); err != nil {
			return err
		}
	}

	return nil
}
