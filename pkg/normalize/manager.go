package normalize

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Manager is the registry of data sources. It fetches and normalizes them,
// independently and in parallel when asked for several at once.
type Manager struct {
	log         logrus.FieldLogger
	normalizer  *Normalizer
	fetcher     Fetcher
	parallelism int

	mu      sync.RWMutex
	sources map[string]Source
}

// NewManager returns an empty registry. parallelism bounds concurrent
// normalizations; values below one mean one.
func NewManager(log logrus.FieldLogger, normalizer *Normalizer, fetcher Fetcher, parallelism int) *Manager {
	if parallelism < 1 {
		parallelism = 1
	}

	return &Manager{
		log:         log.WithField("component", "source_manager"),
		normalizer:  normalizer,
		fetcher:     fetcher,
		parallelism: parallelism,
		sources:     make(map[string]Source),
	}
}

func sourceKey(id string) string {
	return strings.ToLower(id)
}

// Register adds a source. Ids are case-insensitive.
func (m *Manager) Register(src Source) error {
	if err := src.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sources[sourceKey(src.ID)]; ok {
		return fmt.Errorf("%w: %s", ErrSourceExists, src.ID)
	}

	m.sources[sourceKey(src.ID)] = src

	return nil
}

// Unregister removes a source. Removing an unknown id is a no-op.
func (m *Manager) Unregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sources, sourceKey(id))
}

// Get returns a registered source.
func (m *Manager) Get(id string) (Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src, ok := m.sources[sourceKey(id)]
	if !ok {
		return Source{}, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}

	return src, nil
}

// Sources returns the registered sources sorted by id.
func (m *Manager) Sources() []Source {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Source, 0, len(m.sources))
	for _, s := range m.sources {
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// Datasets groups the registered dataset names by source type.
func (m *Manager) Datasets() map[SourceType][]string {
	out := make(map[SourceType][]string)

	for _, s := range m.Sources() {
		name := s.Dataset
		if name == "" {
			name = s.ID
		}

		out[s.Type] = append(out[s.Type], name)
	}

	return out
}

// Load fetches and normalizes one source.
func (m *Manager) Load(ctx context.Context, id string) (*Result, error) {
	src, err := m.Get(id)
	if err != nil {
		return nil, err
	}

	uri, err := RenderURI(&src)
	if err != nil {
		return nil, err
	}

	raw, err := m.fetcher.Fetch(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", src.ID, err)
	}

	return m.normalizer.Normalize(ctx, src, raw)
}

// LoadAll normalizes the given sources, or every registered source when
// ids is empty. A failing source does not stop the others; its error is
// returned in the errors map.
func (m *Manager) LoadAll(ctx context.Context, ids ...string) (map[string]*Result, map[string]error) {
	if len(ids) == 0 {
		for _, s := range m.Sources() {
			ids = append(ids, s.ID)
		}
	}

	var (
		mu      sync.Mutex
		results = make(map[string]*Result, len(ids))
		errs    = make(map[string]error)
	)

	g := new(errgroup.Group)
	g.SetLimit(m.parallelism)

	for _, id := range ids {
		g.Go(func() error {
			res, err := m.Load(ctx, id)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				m.log.WithError(err).WithField("source", id).Warn("Failed to load source")
				errs[id] = err

				return nil
			}

			results[id] = res

			return nil
		})
	}

	_ = g.Wait()

	return results, errs
}
