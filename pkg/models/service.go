package models

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethpandaops/nis/pkg/normalize"
	"github.com/sirupsen/logrus"
)

// Service loads model definitions and maintains their dependency graph
type Service struct {
	config *Config
	log    logrus.FieldLogger

	dag *DependencyGraph

	mu      sync.RWMutex
	sources map[string]normalize.Source
	cubes   map[string]CubeDefinition
	graphs  map[string]GraphDefinition
}

// NewService creates a new models service
func NewService(log logrus.FieldLogger, cfg *Config) *Service {
	if cfg == nil {
		cfg = &Config{}
	}

	return &Service{
		config:  cfg,
		log:     log.WithField("service", "models"),
		dag:     NewDependencyGraph(),
		sources: make(map[string]normalize.Source),
		cubes:   make(map[string]CubeDefinition),
		graphs:  make(map[string]GraphDefinition),
	}
}

// Start parses every definition and builds the dependency graph
func (s *Service) Start() error {
	if err := s.config.Validate(); err != nil {
		return err
	}

	if err := s.parseModels(); err != nil {
		return err
	}

	if err := s.buildDAG(); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"sources": len(s.sources),
		"cubes":   len(s.cubes),
		"graphs":  len(s.graphs),
	}).Info("Models service started successfully")

	return nil
}

// Stop gracefully shuts down the models service
func (s *Service) Stop() error {
	return nil
}

func (s *Service) parseModels() error {
	sourceFiles, err := DiscoverPaths(s.config.Sources.Paths)
	if err != nil {
		return err
	}

	cubeFiles, err := DiscoverPaths(s.config.Cubes.Paths)
	if err != nil {
		return err
	}

	graphFiles, err := DiscoverPaths(s.config.Graphs.Paths)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, file := range sourceFiles {
		srcs, err := ParseSources(file.Content, file.FilePath)
		if err != nil {
			return err
		}

		for _, src := range srcs {
			if err := s.addSourceLocked(src); err != nil {
				return fmt.Errorf("%s: %w", file.FilePath, err)
			}
		}
	}

	for _, file := range cubeFiles {
		defs, err := ParseCubes(file.Content, file.FilePath)
		if err != nil {
			return err
		}

		for _, def := range defs {
			if _, dup := s.cubes[def.ID]; dup {
				return fmt.Errorf("%s: %w: cube %s", file.FilePath, ErrDuplicateModel, def.ID)
			}

			s.cubes[def.ID] = def
		}
	}

	for _, file := range graphFiles {
		defs, err := ParseGraphs(file.Content, file.FilePath)
		if err != nil {
			return err
		}

		for _, def := range defs {
			if _, dup := s.graphs[def.ID]; dup {
				return fmt.Errorf("%s: %w: graph %s", file.FilePath, ErrDuplicateModel, def.ID)
			}

			s.graphs[def.ID] = def
		}
	}

	return nil
}

func (s *Service) addSourceLocked(src normalize.Source) error {
	if _, dup := s.sources[src.ID]; dup {
		return fmt.Errorf("%w: source %s", ErrDuplicateModel, src.ID)
	}

	s.sources[src.ID] = src

	return nil
}

func (s *Service) buildDAG() error {
	return s.dag.BuildGraph(s.Sources(), s.Cubes(), s.Graphs())
}

// Register adds definitions after Start, e.g. from a programmatic caller,
// and rebuilds the dependency graph.
func (s *Service) Register(sources []normalize.Source, cubes []CubeDefinition, graphs []GraphDefinition) error {
	s.mu.Lock()

	for i := range sources {
		if err := ValidateSource(&sources[i]); err != nil {
			s.mu.Unlock()
			return err
		}

		if err := s.addSourceLocked(sources[i]); err != nil {
			s.mu.Unlock()
			return err
		}
	}

	for i := range cubes {
		if err := cubes[i].Validate(); err != nil {
			s.mu.Unlock()
			return err
		}

		s.cubes[cubes[i].ID] = cubes[i]
	}

	for i := range graphs {
		if err := graphs[i].Validate(); err != nil {
			s.mu.Unlock()
			return err
		}

		s.graphs[graphs[i].ID] = graphs[i]
	}

	s.mu.Unlock()

	return s.buildDAG()
}

// GetDAG returns the dependency graph
func (s *Service) GetDAG() DAGReader {
	return s.dag
}

// Affected returns the cubes and graphs that depend on a source
func (s *Service) Affected(sourceID string) (cubes, graphs []string) {
	return s.dag.Affected(sourceID)
}

// Sources returns every source definition sorted by id
func (s *Service) Sources() []normalize.Source {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]normalize.Source, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, src)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// Cubes returns every cube definition sorted by id
func (s *Service) Cubes() []CubeDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]CubeDefinition, 0, len(s.cubes))
	for _, c := range s.cubes {
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// Graphs returns every graph definition sorted by id
func (s *Service) Graphs() []GraphDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]GraphDefinition, 0, len(s.graphs))
	for _, g := range s.graphs {
		out = append(out, g)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// Source returns a source definition by id
func (s *Service) Source(id string) (normalize.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src, ok := s.sources[id]
	if !ok {
		return normalize.Source{}, fmt.Errorf("%w: source %s", ErrModelNotFound, id)
	}

	return src, nil
}

// Cube returns a cube definition by id
func (s *Service) Cube(id string) (CubeDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cubes[id]
	if !ok {
		return CubeDefinition{}, fmt.Errorf("%w: cube %s", ErrModelNotFound, id)
	}

	return c, nil
}

// Graph returns a graph definition by id
func (s *Service) Graph(id string) (GraphDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.graphs[id]
	if !ok {
		return GraphDefinition{}, fmt.Errorf("%w: graph %s", ErrModelNotFound, id)
	}

	return g, nil
}
