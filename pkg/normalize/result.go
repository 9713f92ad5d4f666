package normalize

import (
	"github.com/ethpandaops/nis/pkg/facts"
)

// Rejected is a record that could not be normalized.
type Rejected struct {
	Provenance facts.Provenance `json:"provenance"`
	Reason     string           `json:"reason"`
	Err        error            `json:"-"`
}

// Result holds the output of one normalization run. Facts keep the order
// of the records in the raw source.
type Result struct {
	SourceID string       `json:"source_id"`
	Version  string       `json:"version,omitempty"`
	Facts    []facts.Fact `json:"facts"`
	Rejected []Rejected   `json:"rejected,omitempty"`
	// Dropped counts records removed by the lenient policy.
	Dropped int `json:"dropped"`
	// Filtered counts records removed by the source filter or period range.
	Filtered int `json:"filtered"`
	// Empty counts cells without a value.
	Empty int `json:"empty"`
}

func (r *Result) reject(prov facts.Provenance, err error) {
	r.Rejected = append(r.Rejected, Rejected{
		Provenance: prov,
		Reason:     err.Error(),
		Err:        &RecordError{Provenance: prov, Err: err},
	})
}
