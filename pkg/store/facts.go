package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethpandaops/nis/pkg/facts"
)

// Record kinds written by the FactRepository.
const (
	KindDataset = "dataset"
	KindCube    = "cube"
)

// Dataset is a named batch of facts with the time it was stored.
// Fingerprint identifies the definition the facts were produced from.
type Dataset struct {
	ID          string
	Kind        string
	Fingerprint string
	Facts       []facts.Fact
	UpdatedAt   time.Time
}

// batch is the stored payload of a Dataset.
type batch struct {
	Fingerprint string       `json:"fingerprint,omitempty"`
	Facts       []facts.Fact `json:"facts"`
}

// FactRepository stores batches of facts through any Store.
type FactRepository struct {
	store Store
}

// NewFactRepository wraps s.
func NewFactRepository(s Store) *FactRepository {
	return &FactRepository{store: s}
}

func recordKey(kind, id string) string {
	return kind + "/" + id
}

// SaveDataset stores the normalized facts of a source together with the
// fingerprint of the source definition they were normalized with.
func (r *FactRepository) SaveDataset(ctx context.Context, sourceID, fingerprint string, fs []facts.Fact) error {
	return r.save(ctx, KindDataset, sourceID, fingerprint, fs)
}

// SaveCube stores the facts of a materialized cube.
func (r *FactRepository) SaveCube(ctx context.Context, name string, fs []facts.Fact) error {
	return r.save(ctx, KindCube, name, "", fs)
}

// LoadDataset returns the stored facts of a source, or ErrNotFound.
func (r *FactRepository) LoadDataset(ctx context.Context, sourceID string) (*Dataset, error) {
	return r.load(ctx, KindDataset, sourceID)
}

// LoadCube returns the stored facts of a cube, or ErrNotFound.
func (r *FactRepository) LoadCube(ctx context.Context, name string) (*Dataset, error) {
	return r.load(ctx, KindCube, name)
}

// DeleteDataset removes the stored facts of a source.
func (r *FactRepository) DeleteDataset(ctx context.Context, sourceID string) error {
	return r.store.Delete(ctx, recordKey(KindDataset, sourceID))
}

// List returns the ids of stored batches of kind, sorted.
func (r *FactRepository) List(ctx context.Context, kind string) ([]string, error) {
	recs, err := r.store.Query(ctx, Predicate{Kinds: []string{kind}, KeyPrefix: kind + "/"})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, strings.TrimPrefix(rec.Key, kind+"/"))
	}

	sort.Strings(ids)

	return ids, nil
}

func (r *FactRepository) save(ctx context.Context, kind, id, fingerprint string, fs []facts.Fact) error {
	if fs == nil {
		fs = []facts.Fact{}
	}

	payload, err := json.Marshal(batch{Fingerprint: fingerprint, Facts: fs})
	if err != nil {
		return fmt.Errorf("failed to encode %s %s: %w", kind, id, err)
	}

	return r.store.Put(ctx, Record{Key: recordKey(kind, id), Kind: kind, Payload: payload})
}

func (r *FactRepository) load(ctx context.Context, kind, id string) (*Dataset, error) {
	rec, err := r.store.Get(ctx, recordKey(kind, id))
	if err != nil {
		return nil, err
	}

	var b batch
	if err := json.Unmarshal(rec.Payload, &b); err != nil {
		return nil, fmt.Errorf("failed to decode %s %s: %w", kind, id, err)
	}

	return &Dataset{ID: id, Kind: kind, Fingerprint: b.Fingerprint, Facts: b.Facts, UpdatedAt: rec.UpdatedAt}, nil
}
