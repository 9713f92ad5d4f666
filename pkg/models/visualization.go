package models

import (
	"fmt"
	"sort"
	"strings"
)

// DAGInfo groups the nodes of the dependency graph for display
type DAGInfo struct {
	// Levels holds vertex ids by depth: sources, then cubes, then graphs.
	Levels     [][]string
	Dependents map[string][]string
	RootNodes  []string
	TotalNodes int
}

// nodeLevel places graphs without a cube next to the graphs that have one.
func nodeLevel(t NodeType) int {
	switch t {
	case NodeTypeSource:
		return 0
	case NodeTypeCube:
		return 1
	default:
		return 2
	}
}

// GetDAGInfo returns DAG visualization information
func (d *DependencyGraph) GetDAGInfo() *DAGInfo {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	info := &DAGInfo{
		Levels:     make([][]string, 3),
		Dependents: make(map[string][]string),
	}

	for id, v := range d.dag.GetVertices() {
		node, ok := v.(Node)
		if !ok {
			continue
		}

		level := nodeLevel(node.NodeType)
		info.Levels[level] = append(info.Levels[level], id)
		info.TotalNodes++

		if children, err := d.dag.GetChildren(id); err == nil && len(children) > 0 {
			info.Dependents[id] = sortedKeys(children)
		}

		if parents, err := d.dag.GetParents(id); err == nil && len(parents) == 0 {
			info.RootNodes = append(info.RootNodes, id)
		}
	}

	for _, level := range info.Levels {
		sort.Strings(level)
	}

	sort.Strings(info.RootNodes)

	return info
}

// GenerateDOTFormat renders the graph for graphviz
func (d *DependencyGraph) GenerateDOTFormat() string {
	info := d.GetDAGInfo()

	var sb strings.Builder

	sb.WriteString("digraph models {\n")
	sb.WriteString("  rankdir=LR;\n")

	shapes := []string{
		"shape=cylinder, style=filled, fillcolor=lightblue",
		"shape=box3d",
		"shape=ellipse, style=filled, fillcolor=lightyellow",
	}

	for level, ids := range info.Levels {
		for _, id := range ids {
			fmt.Fprintf(&sb, "  %q [%s];\n", id, shapes[level])
		}
	}

	for _, ids := range info.Levels {
		for _, id := range ids {
			for _, dep := range info.Dependents[id] {
				fmt.Fprintf(&sb, "  %q -> %q;\n", id, dep)
			}
		}
	}

	sb.WriteString("}")

	return sb.String()
}
