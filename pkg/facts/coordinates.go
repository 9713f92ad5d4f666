package facts

import (
	"encoding/json"
	"sort"
	"strings"
)

// Coord is one dimension value.
type Coord struct {
	Dimension string `json:"dimension"`
	Value     string `json:"value"`
}

// Coordinates is an ordered tuple of dimension values, sorted by
// dimension. It is a value type: every modifier returns a copy.
type Coordinates struct {
	coords []Coord
}

// NewCoordinates builds coordinates from dimension/value pairs.
func NewCoordinates(values map[string]string) Coordinates {
	coords := make([]Coord, 0, len(values))
	for d, v := range values {
		coords = append(coords, Coord{Dimension: d, Value: v})
	}

	sort.Slice(coords, func(i, j int) bool { return coords[i].Dimension < coords[j].Dimension })

	return Coordinates{coords: coords}
}

// Of is shorthand for NewCoordinates with alternating dimension and value arguments.
func Of(pairs ...string) Coordinates {
	m := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		m[pairs[i]] = pairs[i+1]
	}

	return NewCoordinates(m)
}

// Len returns the number of dimensions.
func (c Coordinates) Len() int {
	return len(c.coords)
}

// Get returns the value of dimension d.
func (c Coordinates) Get(d string) (string, bool) {
	i := sort.Search(len(c.coords), func(i int) bool { return c.coords[i].Dimension >= d })
	if i < len(c.coords) && c.coords[i].Dimension == d {
		return c.coords[i].Value, true
	}

	return "", false
}

// Value returns the value of dimension d or the empty string.
func (c Coordinates) Value(d string) string {
	v, _ := c.Get(d)
	return v
}

// With returns a copy with d set to v.
func (c Coordinates) With(d, v string) Coordinates {
	m := c.Map()
	m[d] = v

	return NewCoordinates(m)
}

// Project returns a copy limited to dims.
func (c Coordinates) Project(dims []string) Coordinates {
	m := make(map[string]string, len(dims))
	for _, d := range dims {
		if v, ok := c.Get(d); ok {
			m[d] = v
		}
	}

	return NewCoordinates(m)
}

// Dimensions returns the dimension names in order.
func (c Coordinates) Dimensions() []string {
	out := make([]string, len(c.coords))
	for i, cd := range c.coords {
		out[i] = cd.Dimension
	}

	return out
}

// Pairs returns a copy of the underlying tuple.
func (c Coordinates) Pairs() []Coord {
	return append([]Coord(nil), c.coords...)
}

// Map returns the coordinates as a fresh map.
func (c Coordinates) Map() map[string]string {
	m := make(map[string]string, len(c.coords))
	for _, cd := range c.coords {
		m[cd.Dimension] = cd.Value
	}

	return m
}

// keyEscaper backslash-escapes the separators of Key and Fact.Key.
var keyEscaper = strings.NewReplacer(`\`, `\\`, `|`, `\|`, `=`, `\=`, `#`, `\#`)

// Key returns a canonical string usable as a map key. Separators inside
// dimension names and values are escaped, so distinct tuples never share
// a key.
func (c Coordinates) Key() string {
	var b strings.Builder

	for i, cd := range c.coords {
		if i > 0 {
			b.WriteByte('|')
		}

		_, _ = keyEscaper.WriteString(&b, cd.Dimension)
		b.WriteByte('=')
		_, _ = keyEscaper.WriteString(&b, cd.Value)
	}

	return b.String()
}

// Equal reports whether both tuples hold the same values.
func (c Coordinates) Equal(o Coordinates) bool {
	return c.Key() == o.Key()
}

// String implements fmt.Stringer.
func (c Coordinates) String() string {
	return "{" + c.Key() + "}"
}

// MarshalJSON encodes the coordinates as a JSON object.
func (c Coordinates) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Map())
}

// UnmarshalJSON decodes a JSON object.
func (c *Coordinates) UnmarshalJSON(b []byte) error {
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}

	*c = NewCoordinates(m)

	return nil
}
