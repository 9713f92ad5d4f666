// Package facts defines the canonical data model shared by the
// normalizer, the cube and the flow graph: dimensions with hierarchies,
// typed coordinates, immutable facts and their provenance.
package facts

import (
	"encoding/json"
	"fmt"

	"github.com/ethpandaops/nis/pkg/quantity"
)

// Provenance traces a fact back to the record it came from.
type Provenance struct {
	SourceID string `json:"source_id"`
	Record   int    `json:"record"`
	Raw      string `json:"raw,omitempty"`
	Flag     string `json:"flag,omitempty"`
}

// String renders "source#record".
func (p Provenance) String() string {
	return fmt.Sprintf("%s#%d", p.SourceID, p.Record)
}

// Fact is one unit-tagged value indexed by dimension values. Facts are
// immutable: every field is read through accessors and derived facts are
// built with the With* methods, which return copies.
type Fact struct {
	coords     Coordinates
	measure    string
	quantity   quantity.Quantity
	provenance Provenance
}

// New returns a fact.
func New(coords Coordinates, measure string, q quantity.Quantity, prov Provenance) Fact {
	return Fact{coords: coords, measure: measure, quantity: q, provenance: prov}
}

// Coordinates returns the dimension tuple.
func (f Fact) Coordinates() Coordinates { return f.coords }

// Measure returns the measure name.
func (f Fact) Measure() string { return f.measure }

// Quantity returns the value.
func (f Fact) Quantity() quantity.Quantity { return f.quantity }

// Provenance returns the origin of the fact.
func (f Fact) Provenance() Provenance { return f.provenance }

// Dimension returns the value of dimension d.
func (f Fact) Dimension(d string) string { return f.coords.Value(d) }

// WithCoordinates returns a copy with different coordinates.
func (f Fact) WithCoordinates(c Coordinates) Fact {
	f.coords = c
	return f
}

// WithQuantity returns a copy with a different value.
func (f Fact) WithQuantity(q quantity.Quantity) Fact {
	f.quantity = q
	return f
}

// Key identifies the fact cell: coordinates plus measure.
func (f Fact) Key() string {
	return f.coords.Key() + "#" + keyEscaper.Replace(f.measure)
}

// String implements fmt.Stringer.
func (f Fact) String() string {
	return fmt.Sprintf("%s %s=%s", f.coords, f.measure, f.quantity)
}

type wireFact struct {
	Coordinates Coordinates       `json:"coordinates"`
	Measure     string            `json:"measure"`
	Quantity    quantity.Quantity `json:"quantity"`
	Provenance  Provenance        `json:"provenance"`
}

// MarshalJSON implements json.Marshaler.
func (f Fact) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireFact{
		Coordinates: f.coords,
		Measure:     f.measure,
		Quantity:    f.quantity,
		Provenance:  f.provenance,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Fact) UnmarshalJSON(b []byte) error {
	var w wireFact
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}

	*f = New(w.Coordinates, w.Measure, w.Quantity, w.Provenance)

	return nil
}
