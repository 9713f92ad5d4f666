package normalize

import (
	"fmt"
	"strings"
)

// SourceType tags the format of a raw source. Each tag is dispatched to
// one parse function.
type SourceType string

// Supported formats.
const (
	SourceTypeSDMXJSON SourceType = "sdmx-json"
	SourceTypeSDMXML   SourceType = "sdmx-ml"
	SourceTypeFAOSTAT  SourceType = "faostat"
	SourceTypeSSP      SourceType = "ssp"
)

// Policy decides what happens to a record with an unmapped code.
type Policy string

// Unmapped code policies.
const (
	// PolicyStrict rejects the record and reports it in Result.Rejected.
	PolicyStrict Policy = "strict"
	// PolicyLenient drops the record and only counts it in Result.Dropped.
	PolicyLenient Policy = "lenient"
)

// Source describes one dataset and how to normalize it.
type Source struct {
	ID      string            `yaml:"id" json:"id"`
	Type    SourceType        `yaml:"type" json:"type"`
	URI     string            `yaml:"uri" json:"uri"`
	Dataset string            `yaml:"dataset" json:"dataset,omitempty"`
	Version string            `yaml:"version" json:"version,omitempty"`
	Params  map[string]string `yaml:"params" json:"params,omitempty"`

	// Refresh is a cron expression or descriptor ("@daily") driving re-normalization.
	Refresh string `yaml:"refresh" json:"refresh,omitempty"`

	// Policy applies to unmapped codes. Defaults to strict.
	Policy Policy `yaml:"policy" json:"policy,omitempty"`
	// Codes maps, per canonical dimension, source codes to the shared vocabulary.
	// Dimensions without an entry pass their values through unchanged.
	Codes map[string]map[string]string `yaml:"codes" json:"codes,omitempty"`
	// Dimensions renames source dimension ids to canonical names.
	Dimensions map[string]string `yaml:"dimensions" json:"dimensions,omitempty"`
	// Units declares the unit per measure when records do not carry one, or overrides it.
	Units map[string]string `yaml:"units" json:"units,omitempty"`
	// Measure names the measure of sources without a measure column (SDMX).
	Measure string `yaml:"measure" json:"measure,omitempty"`
	// MeasureDimension turns one SDMX dimension into the measure name.
	MeasureDimension string `yaml:"measure_dimension" json:"measure_dimension,omitempty"`
	// FlagUncertainty attaches a relative ± interval to values with the given flag.
	FlagUncertainty map[string]float64 `yaml:"flag_uncertainty" json:"flag_uncertainty,omitempty"`

	// Filter keeps only records whose canonical dimension value is listed.
	Filter      map[string][]string `yaml:"filter" json:"filter,omitempty"`
	StartPeriod int                 `yaml:"start_period" json:"start_period,omitempty"`
	EndPeriod   int                 `yaml:"end_period" json:"end_period,omitempty"`
}

// Validate checks the definition.
func (s *Source) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidSource)
	}

	switch s.Type {
	case SourceTypeSDMXJSON, SourceTypeSDMXML, SourceTypeFAOSTAT, SourceTypeSSP:
	default:
		return fmt.Errorf("%w: %s has type %q", ErrUnsupportedSourceType, s.ID, s.Type)
	}

	switch s.Policy {
	case "":
		s.Policy = PolicyStrict
	case PolicyStrict, PolicyLenient:
	default:
		return fmt.Errorf("%w: %s has policy %q", ErrInvalidSource, s.ID, s.Policy)
	}

	if s.StartPeriod != 0 && s.EndPeriod != 0 && s.StartPeriod > s.EndPeriod {
		return fmt.Errorf("%w: %s start period %d after end period %d", ErrInvalidSource, s.ID, s.StartPeriod, s.EndPeriod)
	}

	return nil
}

// Lenient reports whether unmapped codes drop records silently.
func (s *Source) Lenient() bool {
	return s.Policy == PolicyLenient
}

// dimensionName returns the canonical name of a source dimension id.
func (s *Source) dimensionName(id string) string {
	for from, to := range s.Dimensions {
		if strings.EqualFold(from, id) {
			return to
		}
	}

	if name, ok := defaultDimensionNames[strings.ToUpper(id)]; ok {
		return name
	}

	return strings.ToLower(id)
}

//nolint:gochecknoglobals // constant table
var defaultDimensionNames = map[string]string{
	"TIME_PERIOD": "time",
	"TIME":        "time",
	"REF_AREA":    "country",
	"GEO":         "country",
}

// unitFor returns the declared unit override of a measure.
func (s *Source) unitFor(measure string) (string, bool) {
	for m, u := range s.Units {
		if strings.EqualFold(m, measure) {
			return u, true
		}
	}

	return "", false
}
