// Package normalize translates external statistical datasets (SDMX,
// FAOSTAT and SSP files) into canonical facts. Every format is a tagged
// source type dispatched to its own parse function; the shared pipeline
// maps codes, resolves units and attaches provenance.
package normalize

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ethpandaops/nis/pkg/facts"
	"github.com/ethpandaops/nis/pkg/observability"
	"github.com/ethpandaops/nis/pkg/quantity"
	"github.com/ethpandaops/nis/pkg/uncertainty"
	"github.com/ethpandaops/nis/pkg/units"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// record is the format-independent shape every parser produces.
type record struct {
	index   int
	raw     string
	dims    map[string]string
	measure string
	value   string
	unit    string
	scale   int
	flag    string
	err     error
}

// parseFunc decodes raw bytes into records. A returned error is fatal for
// the source; per-record problems are reported through record.err.
type parseFunc func(src *Source, raw []byte) ([]record, error)

//nolint:gochecknoglobals // dispatch table
var parsers = map[SourceType]parseFunc{
	SourceTypeSDMXJSON: parseSDMXJSON,
	SourceTypeSDMXML:   parseSDMXML,
	SourceTypeFAOSTAT:  parseFAOSTAT,
	SourceTypeSSP:      parseSSP,
}

// Normalizer turns raw source bytes into facts.
type Normalizer struct {
	log      logrus.FieldLogger
	registry *units.Registry
}

// NewNormalizer returns a normalizer resolving units in registry, or in
// the default registry when nil.
func NewNormalizer(log logrus.FieldLogger, registry *units.Registry) *Normalizer {
	if registry == nil {
		registry = units.Default()
	}

	return &Normalizer{
		log:      log.WithField("component", "normalizer"),
		registry: registry,
	}
}

// Normalize parses raw as src.Type. The same input always yields the same
// facts in the same order. Malformed records are collected in
// Result.Rejected and never abort the run.
func (n *Normalizer) Normalize(ctx context.Context, src Source, raw []byte) (*Result, error) {
	start := time.Now()

	if err := src.Validate(); err != nil {
		return nil, err
	}

	parse, ok := parsers[src.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, src.Type)
	}

	log := n.log.WithFields(logrus.Fields{
		"source": src.ID,
		"type":   src.Type,
		"run":    uuid.NewString(),
	})

	records, err := parse(&src, raw)
	if err != nil {
		observability.RecordNormalization(src.ID, "error", 0, 0, time.Since(start))
		return nil, fmt.Errorf("source %s: %w", src.ID, err)
	}

	res := &Result{SourceID: src.ID, Version: src.Version, Facts: make([]facts.Fact, 0, len(records))}
	mapper := NewCodeMapper(src.Codes)

	for i := range records {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		n.build(&src, mapper, &records[i], res)
	}

	log.WithFields(logrus.Fields{
		"facts":    len(res.Facts),
		"rejected": len(res.Rejected),
		"dropped":  res.Dropped,
		"filtered": res.Filtered,
	}).Debug("Normalized source")

	observability.RecordNormalization(src.ID, "success", len(res.Facts), len(res.Rejected), time.Since(start))

	return res, nil
}

func (n *Normalizer) build(src *Source, mapper *CodeMapper, r *record, res *Result) {
	prov := facts.Provenance{SourceID: src.ID, Record: r.index, Raw: r.raw, Flag: r.flag}

	if r.err != nil {
		res.reject(prov, r.err)
		return
	}

	if strings.TrimSpace(r.value) == "" {
		res.Empty++
		return
	}

	coords := make(map[string]string, len(r.dims))

	for dim, code := range r.dims {
		v, err := mapper.Map(dim, code)
		if err != nil {
			if src.Lenient() {
				res.Dropped++
			} else {
				res.reject(prov, err)
			}

			return
		}

		coords[dim] = v
	}

	measure, err := mapper.Map("measure", strings.ToLower(strings.TrimSpace(r.measure)))
	if err != nil {
		if src.Lenient() {
			res.Dropped++
		} else {
			res.reject(prov, err)
		}

		return
	}

	if !keep(src, coords) {
		res.Filtered++
		return
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(r.value), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		res.reject(prov, fmt.Errorf("%w: %q", ErrInvalidValue, r.value))
		return
	}

	unit, err := n.resolveUnit(src, mapper, measure, r.unit)
	if err != nil {
		res.reject(prov, err)
		return
	}

	if r.scale != 0 {
		value *= math.Pow10(r.scale)
	}

	q := quantity.New(value, unit)

	if rel, ok := src.FlagUncertainty[r.flag]; ok && r.flag != "" {
		q = q.WithUncertainty(uncertainty.PlusMinus(rel * math.Abs(value)))
	}

	res.Facts = append(res.Facts, facts.New(facts.NewCoordinates(coords), measure, q, prov))
}

func (n *Normalizer) resolveUnit(src *Source, mapper *CodeMapper, measure, recordUnit string) (units.Unit, error) {
	expr, declared := src.unitFor(measure)
	if !declared {
		expr = strings.TrimSpace(recordUnit)
		if mapper.Has("unit") && expr != "" {
			mapped, err := mapper.Map("unit", expr)
			if err != nil {
				return units.Unit{}, err
			}

			expr = mapped
		}
	}

	if expr == "" {
		return units.Unit{}, fmt.Errorf("%w: measure %s", ErrMissingUnit, measure)
	}

	u, err := n.registry.Parse(expr)
	if err != nil {
		return units.Unit{}, fmt.Errorf("%w: %w", ErrNormalization, err)
	}

	return u, nil
}

// keep applies the dimension filter and the period range.
func keep(src *Source, coords map[string]string) bool {
	for dim, allowed := range src.Filter {
		if len(allowed) == 0 {
			continue
		}

		v, ok := coords[dim]
		if !ok {
			return false
		}

		match := false

		for _, a := range allowed {
			if strings.EqualFold(a, v) {
				match = true
				break
			}
		}

		if !match {
			return false
		}
	}

	if src.StartPeriod == 0 && src.EndPeriod == 0 {
		return true
	}

	t, ok := coords["time"]
	if !ok {
		return true
	}

	p, err := facts.ParsePeriod(t)
	if err != nil || p.Generic() {
		return true
	}

	return p.InRange(src.StartPeriod, src.EndPeriod)
}
