package normalize

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// SDMX-JSON data messages, versions 1.0 and 2.0. Both the bare
// {"dataSets": [...], "structure": {...}} shape and the wrapped
// {"data": {"dataSets": [...], "structure(s)": ...}} shape are accepted.
//
// Series keys ("0:1:0") and observation keys ("3") index into the value
// lists of structure.dimensions.series and .observation. Observation arrays
// hold the value first and attribute value indexes after it, matched to
// structure.attributes.observation by position; series attributes are
// matched the same way. UNIT_MEASURE gives the unit, UNIT_MULT a power of
// ten scale and OBS_STATUS the flag.

type sdmxJSONMessage struct {
	Data *sdmxJSONData `json:"data"`
	sdmxJSONData
}

type sdmxJSONData struct {
	DataSets   []sdmxJSONDataSet   `json:"dataSets"`
	Structure  *sdmxJSONStructure  `json:"structure"`
	Structures []sdmxJSONStructure `json:"structures"`
}

type sdmxJSONDataSet struct {
	Series map[string]sdmxJSONSeries `json:"series"`
}

type sdmxJSONSeries struct {
	Attributes   []*int                       `json:"attributes"`
	Observations map[string][]json.RawMessage `json:"observations"`
}

type sdmxJSONStructure struct {
	Dimensions struct {
		Series      []sdmxJSONComponent `json:"series"`
		Observation []sdmxJSONComponent `json:"observation"`
	} `json:"dimensions"`
	Attributes struct {
		Series      []sdmxJSONComponent `json:"series"`
		Observation []sdmxJSONComponent `json:"observation"`
	} `json:"attributes"`
}

type sdmxJSONComponent struct {
	ID     string `json:"id"`
	Values []struct {
		ID   string          `json:"id"`
		Name json.RawMessage `json:"name"`
	} `json:"values"`
}

func (c sdmxJSONComponent) value(i int) (string, bool) {
	if i < 0 || i >= len(c.Values) {
		return "", false
	}

	return c.Values[i].ID, true
}

func parseSDMXJSON(src *Source, raw []byte) ([]record, error) {
	var msg sdmxJSONMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	data := msg.sdmxJSONData
	if msg.Data != nil {
		data = *msg.Data
	}

	structure := data.Structure
	if structure == nil && len(data.Structures) > 0 {
		structure = &data.Structures[0]
	}

	if structure == nil || len(data.DataSets) == 0 {
		return nil, fmt.Errorf("%w: message has no structure or data set", ErrInvalidFormat)
	}

	var records []record

	index := 0

	for _, ds := range data.DataSets {
		for _, seriesKey := range sortedKeys(ds.Series) {
			series := ds.Series[seriesKey]

			base, baseErr := seriesDims(structure, seriesKey)
			attrs := seriesAttributes(structure, series.Attributes)

			for _, obsKey := range sortedKeys(series.Observations) {
				index++

				r := record{index: index, raw: fmt.Sprintf("series=%s obs=%s", seriesKey, obsKey)}
				if baseErr != nil {
					r.err = baseErr
					records = append(records, r)

					continue
				}

				r.err = fillObservation(src, structure, &r, base, attrs, obsKey, series.Observations[obsKey])
				records = append(records, r)
			}
		}
	}

	return records, nil
}

func seriesDims(s *sdmxJSONStructure, key string) (map[string]string, error) {
	dims := make(map[string]string, len(s.Dimensions.Series))
	if key == "" {
		return dims, nil
	}

	parts := strings.Split(key, ":")
	if len(parts) != len(s.Dimensions.Series) {
		return nil, fmt.Errorf("%w: series key %q has %d positions, structure has %d", ErrMalformedRecord, key, len(parts), len(s.Dimensions.Series))
	}

	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("%w: series key %q", ErrMalformedRecord, key)
		}

		v, ok := s.Dimensions.Series[i].value(n)
		if !ok {
			return nil, fmt.Errorf("%w: series key %q index %d out of range", ErrMalformedRecord, key, n)
		}

		dims[s.Dimensions.Series[i].ID] = v
	}

	return dims, nil
}

func seriesAttributes(s *sdmxJSONStructure, idx []*int) map[string]string {
	attrs := make(map[string]string)

	for i, p := range idx {
		if p == nil || i >= len(s.Attributes.Series) {
			continue
		}

		if v, ok := s.Attributes.Series[i].value(*p); ok {
			attrs[strings.ToUpper(s.Attributes.Series[i].ID)] = v
		}
	}

	return attrs
}

func fillObservation(src *Source, s *sdmxJSONStructure, r *record, base, seriesAttrs map[string]string, key string, obs []json.RawMessage) error {
	dims := make(map[string]string, len(base)+len(s.Dimensions.Observation))
	for k, v := range base {
		dims[k] = v
	}

	parts := strings.Split(key, ":")
	if len(parts) != len(s.Dimensions.Observation) {
		return fmt.Errorf("%w: observation key %q", ErrMalformedRecord, key)
	}

	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("%w: observation key %q", ErrMalformedRecord, key)
		}

		v, ok := s.Dimensions.Observation[i].value(n)
		if !ok {
			return fmt.Errorf("%w: observation key %q index %d out of range", ErrMalformedRecord, key, n)
		}

		dims[s.Dimensions.Observation[i].ID] = v
	}

	if len(obs) == 0 {
		return fmt.Errorf("%w: empty observation", ErrMalformedRecord)
	}

	value, err := jsonScalar(obs[0])
	if err != nil {
		return err
	}

	attrs := make(map[string]string, len(seriesAttrs))
	for k, v := range seriesAttrs {
		attrs[k] = v
	}

	for i, rawIdx := range obs[1:] {
		if i >= len(s.Attributes.Observation) {
			break
		}

		var p *int
		if err := json.Unmarshal(rawIdx, &p); err != nil || p == nil {
			continue
		}

		if v, ok := s.Attributes.Observation[i].value(*p); ok {
			attrs[strings.ToUpper(s.Attributes.Observation[i].ID)] = v
		}
	}

	r.value = value

	return applySDMX(src, r, dims, attrs)
}

// applySDMX turns SDMX dimension ids and attributes into record fields.
func applySDMX(src *Source, r *record, dims, attrs map[string]string) error {
	r.dims = make(map[string]string, len(dims))
	r.measure = src.Measure

	if r.measure == "" {
		r.measure = src.Dataset
	}

	for id, v := range dims {
		if src.MeasureDimension != "" && strings.EqualFold(id, src.MeasureDimension) {
			r.measure = v
			continue
		}

		r.dims[src.dimensionName(id)] = v
	}

	if r.measure == "" {
		r.measure = "value"
	}

	r.unit = attrs["UNIT_MEASURE"]
	r.flag = attrs["OBS_STATUS"]

	if mult, ok := attrs["UNIT_MULT"]; ok && mult != "" {
		n, err := strconv.Atoi(mult)
		if err != nil {
			return fmt.Errorf("%w: UNIT_MULT %q", ErrMalformedRecord, mult)
		}

		r.scale = n
	}

	return nil
}

func jsonScalar(raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	switch x := v.(type) {
	case nil:
		return "", nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case string:
		return x, nil
	default:
		return "", fmt.Errorf("%w: observation value %s", ErrInvalidValue, string(raw))
	}
}

// sortedKeys orders SDMX keys by their numeric positions so output order
// does not depend on map iteration.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool {
		a, b := strings.Split(keys[i], ":"), strings.Split(keys[j], ":")
		for x := 0; x < len(a) && x < len(b); x++ {
			na, errA := strconv.Atoi(a[x])
			nb, errB := strconv.Atoi(b[x])

			if errA != nil || errB != nil {
				if a[x] != b[x] {
					return a[x] < b[x]
				}

				continue
			}

			if na != nb {
				return na < nb
			}
		}

		return len(a) < len(b)
	})

	return keys
}
