package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/nis/pkg/cache"
	"github.com/ethpandaops/nis/pkg/facts"
	"github.com/ethpandaops/nis/pkg/models"
	"github.com/ethpandaops/nis/pkg/normalize"
	"github.com/ethpandaops/nis/pkg/store"
	"github.com/ethpandaops/nis/pkg/tasks"
	"github.com/sirupsen/logrus"
)

// RefreshReport summarizes one re-normalization of a source
type RefreshReport struct {
	SourceID    string        `json:"source_id"`
	Facts       int           `json:"facts"`
	Rejected    int           `json:"rejected"`
	Dropped     int           `json:"dropped"`
	Cubes       []string      `json:"cubes,omitempty"`
	Graphs      []string      `json:"graphs,omitempty"`
	Invalidated int           `json:"invalidated"`
	Duration    time.Duration `json:"duration"`
}

// Refresh implements tasks.Refresher
func (s *Service) Refresh(ctx context.Context, sourceID string) error {
	_, err := s.RefreshSource(ctx, sourceID)
	return err
}

// EnqueueRefresh queues a manual refresh of a source for the workers.
func (s *Service) EnqueueRefresh(ctx context.Context, sourceID string) error {
	if s.queue == nil {
		return fmt.Errorf("%w: refresh queue is unavailable", ErrRedisURLRequired)
	}

	if err := s.Open(ctx); err != nil {
		return err
	}

	src, err := s.models.Source(sourceID)
	if err != nil {
		return err
	}

	return s.queue.EnqueueRefresh(ctx, tasks.RefreshPayload{
		SourceID:   src.ID,
		Trigger:    tasks.TriggerManual,
		EnqueuedAt: time.Now().UTC(),
	})
}

// RefreshSource re-fetches and re-normalizes a source, persists its facts
// and invalidates every cached result derived from it.
func (s *Service) RefreshSource(ctx context.Context, sourceID string) (*RefreshReport, error) {
	if err := s.Open(ctx); err != nil {
		return nil, err
	}

	src, err := s.models.Source(sourceID)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	res, err := s.sources.Load(ctx, src.ID)
	if err != nil {
		return nil, err
	}

	return s.commit(ctx, src, res, start)
}

// RefreshSources refreshes several sources in parallel, every source when
// ids is empty. A failing source does not stop the others; reports of the
// successful ones are returned together with the joined errors.
func (s *Service) RefreshSources(ctx context.Context, ids ...string) ([]*RefreshReport, error) {
	if err := s.Open(ctx); err != nil {
		return nil, err
	}

	ids = append([]string(nil), ids...)

	if len(ids) == 0 {
		for _, src := range s.models.Sources() {
			ids = append(ids, src.ID)
		}
	}

	srcs := make(map[string]normalize.Source, len(ids))

	for i, id := range ids {
		src, err := s.models.Source(id)
		if err != nil {
			return nil, err
		}

		ids[i] = src.ID
		srcs[src.ID] = src
	}

	start := time.Now()
	results, loadErrs := s.sources.LoadAll(ctx, ids...)

	var (
		reports []*RefreshReport
		errs    []error
	)

	for _, id := range ids {
		if err, ok := loadErrs[id]; ok {
			errs = append(errs, fmt.Errorf("source %s: %w", id, err))
			continue
		}

		report, err := s.commit(ctx, srcs[id], results[id], start)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		reports = append(reports, report)
	}

	return reports, errors.Join(errs...)
}

// commit persists a normalized source and evicts every cached result that
// was derived from it.
func (s *Service) commit(ctx context.Context, src normalize.Source, res *normalize.Result, start time.Time) (*RefreshReport, error) {
	sourceID := src.ID

	fp, err := sourceFingerprint(src)
	if err != nil {
		return nil, err
	}

	if err := s.facts.SaveDataset(ctx, sourceID, fp, res.Facts); err != nil {
		return nil, fmt.Errorf("failed to persist source %s: %w", sourceID, err)
	}

	cubes, graphs := s.models.Affected(sourceID)

	prefixes := []string{cache.SourcePrefix(sourceID)}
	for _, c := range cubes {
		prefixes = append(prefixes, cache.CubePrefix(c))
	}

	for _, g := range graphs {
		prefixes = append(prefixes, cache.GraphPrefix(g))
	}

	invalidated := 0

	for _, p := range prefixes {
		n, err := s.cache.Invalidate(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("failed to invalidate %s: %w", p, err)
		}

		invalidated += n
	}

	report := &RefreshReport{
		SourceID:    sourceID,
		Facts:       len(res.Facts),
		Rejected:    len(res.Rejected),
		Dropped:     res.Dropped,
		Cubes:       cubes,
		Graphs:      graphs,
		Invalidated: invalidated,
		Duration:    time.Since(start),
	}

	s.log.WithFields(logrus.Fields{
		"source":      sourceID,
		"facts":       report.Facts,
		"rejected":    report.Rejected,
		"invalidated": invalidated,
	}).Info("Source refreshed")

	return report, nil
}

// sourceFingerprint identifies the facts a source definition normalizes
// to. Every field but the refresh schedule takes part.
func sourceFingerprint(src normalize.Source) (string, error) {
	src.Refresh = ""
	return cache.Fingerprint(src.ID, src)
}

// lineage returns the fingerprints of the sources of a cube, in order.
func (s *Service) lineage(def models.CubeDefinition) ([]string, error) {
	out := make([]string, 0, len(def.Sources))

	for _, id := range def.Sources {
		src, err := s.models.Source(id)
		if err != nil {
			return nil, fmt.Errorf("cube %s: %w", def.ID, err)
		}

		fp, err := sourceFingerprint(src)
		if err != nil {
			return nil, err
		}

		out = append(out, fp)
	}

	return out, nil
}

// sourceFacts returns the facts of a source: from the cache, then the
// store, normalizing the source only when neither has it. Both are keyed
// by the fingerprint of the current definition, so facts normalized with
// an older version, code map or filter are never served.
func (s *Service) sourceFacts(ctx context.Context, sourceID string) ([]facts.Fact, error) {
	src, err := s.models.Source(sourceID)
	if err != nil {
		return nil, err
	}

	fp, err := sourceFingerprint(src)
	if err != nil {
		return nil, err
	}

	return cache.GetOrComputeJSON(ctx, s.cache, fp, func(ctx context.Context) ([]facts.Fact, error) {
		ds, err := s.facts.LoadDataset(ctx, src.ID)

		switch {
		case err == nil && ds.Fingerprint == fp:
			return ds.Facts, nil
		case err == nil:
			s.log.WithFields(logrus.Fields{
				"source":  src.ID,
				"version": src.Version,
			}).Info("Stored dataset was normalized from another definition, normalizing again")
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}

		res, err := s.sources.Load(ctx, src.ID)
		if err != nil {
			return nil, err
		}

		if err := s.facts.SaveDataset(ctx, src.ID, fp, res.Facts); err != nil {
			return nil, fmt.Errorf("failed to persist source %s: %w", src.ID, err)
		}

		return res.Facts, nil
	})
}
