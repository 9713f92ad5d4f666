package store

import (
	"context"
	"testing"
	"time"

	"github.com/ethpandaops/nis/pkg/facts"
	"github.com/ethpandaops/nis/pkg/quantity"
	"github.com/ethpandaops/nis/pkg/units"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredicate_Match(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := &Record{Key: "dataset/fao", Kind: KindDataset, UpdatedAt: base}

	tests := []struct {
		name string
		p    Predicate
		want bool
	}{
		{name: "empty matches", p: Predicate{}, want: true},
		{name: "kind", p: Predicate{Kinds: []string{KindCube, KindDataset}}, want: true},
		{name: "other kind", p: Predicate{Kinds: []string{KindCube}}, want: false},
		{name: "prefix", p: Predicate{KeyPrefix: "dataset/"}, want: true},
		{name: "other prefix", p: Predicate{KeyPrefix: "cube/"}, want: false},
		{name: "updated after", p: Predicate{UpdatedAfter: base.Add(-time.Second)}, want: true},
		{name: "not updated after", p: Predicate{UpdatedAfter: base}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.p.Match(rec))
		})
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.ErrorIs(t, s.Put(ctx, Record{Kind: KindCube}), ErrInvalidRecord)
	require.ErrorIs(t, s.Put(ctx, Record{Key: "x"}), ErrInvalidRecord)

	payload := []byte(`{"a":1}`)
	require.NoError(t, s.Put(ctx, Record{Key: "dataset/b", Kind: KindDataset, Payload: payload}))
	require.NoError(t, s.Put(ctx, Record{Key: "dataset/a", Kind: KindDataset, Payload: payload}))
	require.NoError(t, s.Put(ctx, Record{Key: "cube/x", Kind: KindCube, Payload: payload}))

	payload[0] = 'X'

	got, err := s.Get(ctx, "dataset/a")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got.Payload), "store keeps its own copy")
	assert.Equal(t, now, got.UpdatedAt)

	recs, err := s.Query(ctx, Predicate{Kinds: []string{KindDataset}})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "dataset/a", recs[0].Key)
	assert.Equal(t, "dataset/b", recs[1].Key)

	require.NoError(t, s.Delete(ctx, "dataset/a"))
	require.NoError(t, s.Delete(ctx, "dataset/a"))

	_, err = s.Get(ctx, "dataset/a")
	require.ErrorIs(t, err, ErrNotFound)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	_, err = s.Query(cancelled, Predicate{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestFactRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewFactRepository(NewMemoryStore())

	tonnes := units.MustParse("t")
	fs := []facts.Fact{
		facts.New(facts.Of("area", "Spain", "time", "2010"), "production",
			quantity.New(1000, tonnes), facts.Provenance{SourceID: "fao", Record: 1}),
		facts.New(facts.Of("area", "France", "time", "2010"), "production",
			quantity.New(2500, tonnes), facts.Provenance{SourceID: "fao", Record: 2}),
	}

	require.NoError(t, repo.SaveDataset(ctx, "fao", "source/fao/v1", fs))
	require.NoError(t, repo.SaveDataset(ctx, "ssp", "", nil))
	require.NoError(t, repo.SaveCube(ctx, "wheat", fs[:1]))

	ds, err := repo.LoadDataset(ctx, "fao")
	require.NoError(t, err)
	require.Len(t, ds.Facts, 2)
	assert.Equal(t, "fao", ds.ID)
	assert.Equal(t, "source/fao/v1", ds.Fingerprint)
	assert.Equal(t, fs[0].Key(), ds.Facts[0].Key())
	assert.InDelta(t, 2500, ds.Facts[1].Quantity().Value, 1e-9)
	assert.Equal(t, 2, ds.Facts[1].Provenance().Record)

	empty, err := repo.LoadDataset(ctx, "ssp")
	require.NoError(t, err)
	assert.Empty(t, empty.Facts)
	assert.Empty(t, empty.Fingerprint)

	cube, err := repo.LoadCube(ctx, "wheat")
	require.NoError(t, err)
	require.Len(t, cube.Facts, 1)
	assert.Empty(t, cube.Fingerprint)

	ids, err := repo.List(ctx, KindDataset)
	require.NoError(t, err)
	assert.Equal(t, []string{"fao", "ssp"}, ids)

	ids, err = repo.List(ctx, KindCube)
	require.NoError(t, err)
	assert.Equal(t, []string{"wheat"}, ids)

	require.NoError(t, repo.DeleteDataset(ctx, "fao"))

	_, err = repo.LoadDataset(ctx, "fao")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, (&Config{Driver: DriverMemory}).Validate())
	require.NoError(t, (&Config{Driver: DriverPostgres, DSN: "postgres://x"}).Validate())
	require.ErrorIs(t, (&Config{Driver: DriverPostgres}).Validate(), ErrDSNRequired)
	require.ErrorIs(t, (&Config{Driver: "sqlite"}).Validate(), ErrInvalidDriver)

	s, err := Open(context.Background(), &Config{Driver: DriverMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
}
