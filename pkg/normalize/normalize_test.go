package normalize

import (
	"context"
	"errors"
	"testing"

	"github.com/ethpandaops/nis/internal/testutil"
	"github.com/ethpandaops/nis/pkg/facts"
	"github.com/ethpandaops/nis/pkg/quantity"
	"github.com/ethpandaops/nis/pkg/units"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNormalizer() *Normalizer {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return NewNormalizer(log, nil)
}

func tonnes(t *testing.T, f facts.Fact) float64 {
	t.Helper()

	q, err := quantity.Convert(f.Quantity(), units.MustParse("t"))
	require.NoError(t, err)

	return q.Value
}

func TestNormalizeFAOSTAT(t *testing.T) {
	src := Source{ID: "fao-qcl", Type: SourceTypeFAOSTAT}

	res, err := newTestNormalizer().Normalize(context.Background(), src, testutil.EuropeanWheat())
	require.NoError(t, err)

	require.Len(t, res.Facts, 6)
	assert.Empty(t, res.Rejected)
	assert.Equal(t, "fao-qcl", res.SourceID)

	first := res.Facts[0]
	assert.Equal(t, "production", first.Measure())
	assert.Equal(t, "Spain", first.Dimension("country"))
	assert.Equal(t, "Wheat", first.Dimension("item"))
	assert.Equal(t, "2010", first.Dimension("time"))
	assert.Equal(t, 2, first.Provenance().Record)
	assert.Equal(t, "A", first.Provenance().Flag)

	expected := []float64{1000, 2.5e6, 800, 300, 1100, 2.6e6}
	for i, f := range res.Facts {
		assert.InDelta(t, expected[i], tonnes(t, f), 1e-6, "fact %d", i)
	}
}

func TestNormalizeIsDeterministic(t *testing.T) {
	n := newTestNormalizer()
	src := Source{ID: "sdmx", Type: SourceTypeSDMXJSON, Measure: "production", Codes: map[string]map[string]string{
		"unit": {"T": "t"},
	}}

	a, err := n.Normalize(context.Background(), src, []byte(testutil.SDMXJSONWheat))
	require.NoError(t, err)

	for range 5 {
		b, err := n.Normalize(context.Background(), src, []byte(testutil.SDMXJSONWheat))
		require.NoError(t, err)
		require.Len(t, b.Facts, len(a.Facts))

		for i := range a.Facts {
			assert.Equal(t, a.Facts[i].Key(), b.Facts[i].Key())
			assert.Equal(t, a.Facts[i].Provenance(), b.Facts[i].Provenance())
			assert.InDelta(t, a.Facts[i].Quantity().Value, b.Facts[i].Quantity().Value, 0)
		}
	}
}

func TestNormalizeSDMXJSON(t *testing.T) {
	src := Source{
		ID:              "sdmx",
		Type:            SourceTypeSDMXJSON,
		Measure:         "production",
		Codes:           map[string]map[string]string{"unit": {"T": "t"}, "country": {"FR": "France", "ES": "Spain"}},
		FlagUncertainty: map[string]float64{"E": 0.1},
	}

	res, err := newTestNormalizer().Normalize(context.Background(), src, []byte(testutil.SDMXJSONWheat))
	require.NoError(t, err)

	require.Len(t, res.Facts, 3)
	assert.Equal(t, 1, res.Empty)
	assert.Empty(t, res.Rejected)

	fr := res.Facts[0]
	assert.Equal(t, "France", fr.Dimension("country"))
	assert.Equal(t, "2010", fr.Dimension("time"))
	assert.InDelta(t, 2500, tonnes(t, fr), 1e-9)
	assert.True(t, fr.Quantity().Uncertainty.IsPoint())

	estimated := res.Facts[1]
	assert.Equal(t, "Spain", estimated.Dimension("country"))
	assert.Equal(t, "E", estimated.Provenance().Flag)
	lo, hi := estimated.Quantity().Interval()
	assert.InDelta(t, 900, lo, 1e-9)
	assert.InDelta(t, 1100, hi, 1e-9)

	assert.Equal(t, "2011", res.Facts[2].Dimension("time"))
}

func TestNormalizeSDMXML(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		facts    int
		rejected int
		flag     string
	}{
		{name: "generic", raw: testutil.SDMXMLGenericWheat, facts: 1, rejected: 1},
		{name: "structure specific", raw: testutil.SDMXMLStructureSpecificWheat, facts: 2, flag: "E"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := Source{ID: "ml", Type: SourceTypeSDMXML, Measure: "production"}

			res, err := newTestNormalizer().Normalize(context.Background(), src, []byte(tt.raw))
			require.NoError(t, err)

			require.Len(t, res.Facts, tt.facts)
			assert.Len(t, res.Rejected, tt.rejected)

			f := res.Facts[0]
			assert.Equal(t, "ES", f.Dimension("country"))
			assert.Equal(t, "wheat", f.Dimension("item"))
			assert.Equal(t, "2010", f.Dimension("time"))
			assert.Equal(t, tt.flag, f.Provenance().Flag)
			assert.InDelta(t, 1000, tonnes(t, f), 1e-9)

			for _, r := range res.Rejected {
				assert.ErrorIs(t, r.Err, ErrInvalidValue)
			}
		})
	}
}

func TestNormalizeSSP(t *testing.T) {
	src := Source{ID: "ssp", Type: SourceTypeSSP, Filter: map[string][]string{"scenario": {"SSP2"}}}

	res, err := newTestNormalizer().Normalize(context.Background(), src, []byte(testutil.SSPPopulationCSV))
	require.NoError(t, err)

	// SSP1 has two values filtered and one empty cell.
	assert.Equal(t, 2, res.Filtered)
	assert.Equal(t, 1, res.Empty)
	require.Len(t, res.Facts, 6)

	f := res.Facts[0]
	assert.Equal(t, "population", f.Measure())
	assert.Equal(t, "ESP", f.Dimension("region"))
	assert.Equal(t, "SSP2", f.Dimension("scenario"))
	assert.Equal(t, "2010", f.Dimension("time"))

	q, err := quantity.Convert(f.Quantity(), units.Dimensionless)
	require.NoError(t, err)
	assert.InDelta(t, 46.6e6, q.Value, 1)
}

func TestNormalizeSSPEmptyCells(t *testing.T) {
	res, err := newTestNormalizer().Normalize(context.Background(), Source{ID: "ssp", Type: SourceTypeSSP}, []byte(testutil.SSPPopulationCSV))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Empty)
	assert.Len(t, res.Facts, 8)
}

func TestUnmappedCodePolicy(t *testing.T) {
	codes := map[string]map[string]string{
		"country": {"Spain": "ES", "France": "FR", "Germany": "DE"},
	}

	t.Run("strict rejects", func(t *testing.T) {
		src := Source{ID: "fao", Type: SourceTypeFAOSTAT, Codes: codes}

		res, err := newTestNormalizer().Normalize(context.Background(), src, testutil.EuropeanWheat())
		require.NoError(t, err)

		assert.Len(t, res.Facts, 5)
		require.Len(t, res.Rejected, 1)
		assert.Zero(t, res.Dropped)

		rej := res.Rejected[0]
		assert.ErrorIs(t, rej.Err, ErrUnmappedCode)
		assert.ErrorIs(t, rej.Err, ErrNormalization)
		assert.Equal(t, 5, rej.Provenance.Record)
		assert.Contains(t, rej.Provenance.Raw, "Kenya")

		var recErr *RecordError
		require.True(t, errors.As(rej.Err, &recErr))
		assert.Equal(t, "fao", recErr.Provenance.SourceID)
	})

	t.Run("lenient drops", func(t *testing.T) {
		src := Source{ID: "fao", Type: SourceTypeFAOSTAT, Codes: codes, Policy: PolicyLenient}

		res, err := newTestNormalizer().Normalize(context.Background(), src, testutil.EuropeanWheat())
		require.NoError(t, err)

		assert.Len(t, res.Facts, 5)
		assert.Empty(t, res.Rejected)
		assert.Equal(t, 1, res.Dropped)
		assert.Equal(t, "ES", res.Facts[0].Dimension("country"))
	})
}

func TestRejectedRecords(t *testing.T) {
	raw := testutil.FAOSTATCSV(
		testutil.Production("Spain", "2010", "abc"),
		testutil.Production("Spain", "2011", "12", testutil.WithUnit("")),
		testutil.Production("Spain", "2012", "12", testutil.WithUnit("furlongs")),
		testutil.Production("Spain", "2013", ""),
		testutil.Production("Spain", "2014", "5"),
	)
	raw = append(raw, []byte("1,Spain,15\n")...)

	res, err := newTestNormalizer().Normalize(context.Background(), Source{ID: "fao", Type: SourceTypeFAOSTAT}, raw)
	require.NoError(t, err)

	require.Len(t, res.Facts, 1)
	assert.Equal(t, "2014", res.Facts[0].Dimension("time"))
	assert.Equal(t, 1, res.Empty)

	require.Len(t, res.Rejected, 4)
	assert.ErrorIs(t, res.Rejected[0].Err, ErrInvalidValue)
	assert.ErrorIs(t, res.Rejected[1].Err, ErrMissingUnit)
	assert.ErrorIs(t, res.Rejected[2].Err, units.ErrUnknownUnit)
	assert.ErrorIs(t, res.Rejected[3].Err, ErrMalformedRecord)
	assert.Equal(t, 7, res.Rejected[3].Provenance.Record)
}

func TestDeclaredUnitOverridesRecordUnit(t *testing.T) {
	raw := testutil.FAOSTATCSV(testutil.Production("Spain", "2010", "7", testutil.WithUnit("")))
	src := Source{ID: "fao", Type: SourceTypeFAOSTAT, Units: map[string]string{"Production": "kt"}}

	res, err := newTestNormalizer().Normalize(context.Background(), src, raw)
	require.NoError(t, err)
	require.Len(t, res.Facts, 1)
	assert.InDelta(t, 7000, tonnes(t, res.Facts[0]), 1e-9)
}

func TestPeriodRange(t *testing.T) {
	src := Source{ID: "fao", Type: SourceTypeFAOSTAT, StartPeriod: 2011, EndPeriod: 2011}

	res, err := newTestNormalizer().Normalize(context.Background(), src, testutil.EuropeanWheat())
	require.NoError(t, err)

	assert.Len(t, res.Facts, 2)
	assert.Equal(t, 4, res.Filtered)
}

func TestNormalizeFatalErrors(t *testing.T) {
	n := newTestNormalizer()

	tests := []struct {
		name string
		src  Source
		raw  string
		err  error
	}{
		{name: "unknown type", src: Source{ID: "x", Type: "parquet"}, raw: "", err: ErrUnsupportedSourceType},
		{name: "missing id", src: Source{Type: SourceTypeSSP}, raw: "", err: ErrInvalidSource},
		{name: "empty csv", src: Source{ID: "x", Type: SourceTypeFAOSTAT}, raw: "", err: ErrInvalidFormat},
		{name: "missing column", src: Source{ID: "x", Type: SourceTypeFAOSTAT}, raw: "Area,Item\nSpain,Wheat\n", err: ErrInvalidFormat},
		{name: "ssp without years", src: Source{ID: "x", Type: SourceTypeSSP}, raw: "Model,Scenario,Region,Variable,Unit\n", err: ErrInvalidFormat},
		{name: "broken json", src: Source{ID: "x", Type: SourceTypeSDMXJSON}, raw: "{", err: ErrInvalidFormat},
		{name: "json without data", src: Source{ID: "x", Type: SourceTypeSDMXJSON}, raw: "{}", err: ErrInvalidFormat},
		{name: "xml without dataset", src: Source{ID: "x", Type: SourceTypeSDMXML}, raw: "<Message/>", err: ErrInvalidFormat},
		{name: "bad policy", src: Source{ID: "x", Type: SourceTypeSSP, Policy: "maybe"}, raw: "", err: ErrInvalidSource},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(context.Background(), tt.src, []byte(tt.raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestNormalizeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestNormalizer().Normalize(ctx, Source{ID: "fao", Type: SourceTypeFAOSTAT}, testutil.EuropeanWheat())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCodeMapper(t *testing.T) {
	m := NewCodeMapper(map[string]map[string]string{"Country": {" ESP ": "Spain"}})

	assert.True(t, m.Has("country"))
	assert.False(t, m.Has("item"))

	v, err := m.Map("COUNTRY", "esp")
	require.NoError(t, err)
	assert.Equal(t, "Spain", v)

	v, err = m.Map("item", " Wheat ")
	require.NoError(t, err)
	assert.Equal(t, "Wheat", v)

	_, err = m.Map("country", "FRA")
	assert.ErrorIs(t, err, ErrUnmappedCode)
}
