package models

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethpandaops/nis/pkg/normalize"
	"github.com/heimdalr/dag"
)

var (
	// ErrNonExistentDependency is returned when a model depends on a non-existent model
	ErrNonExistentDependency = errors.New("model depends on non-existent model")
	// ErrInvalidNodeType is returned when a node has an invalid type
	ErrInvalidNodeType = errors.New("invalid node type")
)

// NodeType represents the type of a node in the dependency graph
type NodeType string

const (
	// NodeTypeSource represents a source definition
	NodeTypeSource NodeType = "source"
	// NodeTypeCube represents a cube definition
	NodeTypeCube NodeType = "cube"
	// NodeTypeGraph represents a flow graph definition
	NodeTypeGraph NodeType = "graph"
)

// NodeID returns the vertex id of a model, e.g. "cube/wheat".
func NodeID(t NodeType, id string) string {
	return string(t) + "/" + id
}

// Node represents a node in the dependency graph
type Node struct {
	NodeType NodeType
	ID       string
}

// DAGReader provides read-only access to the dependency graph
type DAGReader interface {
	GetNode(id string) (Node, error)
	GetDependencies(id string) []string
	GetDependents(id string) []string
	GetAllDependencies(id string) []string
	GetAllDependents(id string) []string
	IsPathBetween(from, to string) bool
	GetDAGInfo() *DAGInfo
	GenerateDOTFormat() string
}

// DependencyGraph tracks which cubes read which sources and which graphs
// read which cubes. Edges point from a dependency to its dependents.
type DependencyGraph struct {
	dag   *dag.DAG
	mutex sync.RWMutex
}

var _ DAGReader = (*DependencyGraph)(nil)

// NewDependencyGraph creates a new dependency graph
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		dag: dag.NewDAG(),
	}
}

// BuildGraph rebuilds the graph from the model definitions
func (d *DependencyGraph) BuildGraph(sources []normalize.Source, cubes []CubeDefinition, graphs []GraphDefinition) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.dag = dag.NewDAG()

	for _, s := range sources {
		if err := d.addVertex(NodeTypeSource, s.ID); err != nil {
			return err
		}
	}

	for _, c := range cubes {
		if err := d.addVertex(NodeTypeCube, c.ID); err != nil {
			return err
		}
	}

	for _, g := range graphs {
		if err := d.addVertex(NodeTypeGraph, g.ID); err != nil {
			return err
		}
	}

	for _, c := range cubes {
		for _, src := range c.Sources {
			if err := d.addEdge(NodeID(NodeTypeSource, src), NodeID(NodeTypeCube, c.ID)); err != nil {
				return err
			}
		}
	}

	for _, g := range graphs {
		if g.Cube == "" {
			continue
		}

		if err := d.addEdge(NodeID(NodeTypeCube, g.Cube), NodeID(NodeTypeGraph, g.ID)); err != nil {
			return err
		}
	}

	return nil
}

func (d *DependencyGraph) addVertex(t NodeType, id string) error {
	nid := NodeID(t, id)
	if err := d.dag.AddVertexByID(nid, Node{NodeType: t, ID: id}); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDuplicateModel, nid, err)
	}

	return nil
}

func (d *DependencyGraph) addEdge(from, to string) error {
	if _, err := d.dag.GetVertex(from); err != nil {
		return fmt.Errorf("%w: %s depends on %s", ErrNonExistentDependency, to, from)
	}

	// AddEdge returns error if it would create a cycle
	if err := d.dag.AddEdge(from, to); err != nil {
		return fmt.Errorf("invalid dependency %s → %s: %w", from, to, err)
	}

	return nil
}

// GetNode retrieves a node by vertex id
func (d *DependencyGraph) GetNode(id string) (Node, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	vertex, err := d.dag.GetVertex(id)
	if err != nil {
		return Node{}, fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}

	node, ok := vertex.(Node)
	if !ok {
		return Node{}, fmt.Errorf("%w for model %s", ErrInvalidNodeType, id)
	}

	return node, nil
}

// GetDependents returns the direct dependents of a node
func (d *DependencyGraph) GetDependents(id string) []string {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	children, err := d.dag.GetChildren(id)
	if err != nil {
		return nil
	}

	return sortedKeys(children)
}

// GetDependencies returns the direct dependencies of a node
func (d *DependencyGraph) GetDependencies(id string) []string {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	parents, err := d.dag.GetParents(id)
	if err != nil {
		return nil
	}

	return sortedKeys(parents)
}

// GetAllDependents returns all dependents (recursive) of a node
func (d *DependencyGraph) GetAllDependents(id string) []string {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	descendants, err := d.dag.GetDescendants(id)
	if err != nil {
		return nil
	}

	return sortedKeys(descendants)
}

// GetAllDependencies returns all dependencies (recursive) of a node
func (d *DependencyGraph) GetAllDependencies(id string) []string {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	ancestors, err := d.dag.GetAncestors(id)
	if err != nil {
		return nil
	}

	return sortedKeys(ancestors)
}

// IsPathBetween checks if there's a path from one node to another
func (d *DependencyGraph) IsPathBetween(from, to string) bool {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	descendants, err := d.dag.GetDescendants(from)
	if err != nil {
		return false
	}

	_, exists := descendants[to]

	return exists
}

// Affected returns the cubes and graphs that read source, directly or
// through a cube.
func (d *DependencyGraph) Affected(sourceID string) (cubes, graphs []string) {
	for _, id := range d.GetAllDependents(NodeID(NodeTypeSource, sourceID)) {
		node, err := d.GetNode(id)
		if err != nil {
			continue
		}

		switch node.NodeType {
		case NodeTypeCube:
			cubes = append(cubes, node.ID)
		case NodeTypeGraph:
			graphs = append(graphs, node.ID)
		}
	}

	return cubes, graphs
}

func sortedKeys(m map[string]interface{}) []string {
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}

	sort.Strings(out)

	return out
}
