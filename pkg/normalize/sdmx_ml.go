package normalize

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

// SDMX-ML 2.1 data messages. Two layouts are accepted:
//
// Generic data, where components are child elements:
//
//	<generic:Series>
//	  <generic:SeriesKey><generic:Value id="REF_AREA" value="ES"/></generic:SeriesKey>
//	  <generic:Attributes><generic:Value id="UNIT_MEASURE" value="t"/></generic:Attributes>
//	  <generic:Obs>
//	    <generic:ObsDimension value="2010"/>
//	    <generic:ObsValue value="1000"/>
//	  </generic:Obs>
//	</generic:Series>
//
// Structure-specific data, where components are XML attributes:
//
//	<Series REF_AREA="ES" UNIT_MEASURE="t"><Obs TIME_PERIOD="2010" OBS_VALUE="1000"/></Series>
//
// Element names are matched without namespace. In the structure-specific
// layout, attribute ids listed in sdmxAttributeIDs are attributes and every
// other XML attribute is a dimension.

//nolint:gochecknoglobals // constant table
var sdmxAttributeIDs = map[string]bool{
	"UNIT_MEASURE": true,
	"UNIT_MULT":    true,
	"OBS_STATUS":   true,
	"OBS_CONF":     true,
	"DECIMALS":     true,
	"TITLE":        true,
	"COMMENT":      true,
	"OBS_VALUE":    true,
}

type sdmxMLMessage struct {
	DataSets []struct {
		Series []sdmxMLSeries `xml:"Series"`
	} `xml:"DataSet"`
}

type sdmxMLSeries struct {
	Key        []sdmxMLValue `xml:"SeriesKey>Value"`
	Attributes []sdmxMLValue `xml:"Attributes>Value"`
	Attrs      []xml.Attr    `xml:",any,attr"`
	Obs        []sdmxMLObs   `xml:"Obs"`
}

type sdmxMLObs struct {
	Dimension *struct {
		ID    string `xml:"id,attr"`
		Value string `xml:"value,attr"`
	} `xml:"ObsDimension"`
	Value *struct {
		Value string `xml:"value,attr"`
	} `xml:"ObsValue"`
	Attributes []sdmxMLValue `xml:"Attributes>Value"`
	Attrs      []xml.Attr    `xml:",any,attr"`
}

type sdmxMLValue struct {
	ID    string `xml:"id,attr"`
	Value string `xml:"value,attr"`
}

func parseSDMXML(src *Source, raw []byte) ([]record, error) {
	var msg sdmxMLMessage

	dec := xml.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	if len(msg.DataSets) == 0 {
		return nil, fmt.Errorf("%w: no DataSet element", ErrInvalidFormat)
	}

	var records []record

	index := 0

	for d, ds := range msg.DataSets {
		for s, series := range ds.Series {
			dims := make(map[string]string)
			attrs := make(map[string]string)

			for _, v := range series.Key {
				dims[v.ID] = v.Value
			}

			for _, v := range series.Attributes {
				attrs[strings.ToUpper(v.ID)] = v.Value
			}

			splitAttrs(series.Attrs, dims, attrs)

			for o, obs := range series.Obs {
				index++

				r := record{index: index, raw: fmt.Sprintf("dataset=%d series=%d obs=%d", d, s, o)}
				r.err = fillMLObservation(src, &r, dims, attrs, obs)
				records = append(records, r)
			}
		}
	}

	return records, nil
}

func fillMLObservation(src *Source, r *record, seriesDims, seriesAttrs map[string]string, obs sdmxMLObs) error {
	dims := make(map[string]string, len(seriesDims)+1)
	for k, v := range seriesDims {
		dims[k] = v
	}

	attrs := make(map[string]string, len(seriesAttrs))
	for k, v := range seriesAttrs {
		attrs[k] = v
	}

	for _, v := range obs.Attributes {
		attrs[strings.ToUpper(v.ID)] = v.Value
	}

	splitAttrs(obs.Attrs, dims, attrs)

	if obs.Dimension != nil {
		id := obs.Dimension.ID
		if id == "" {
			id = "TIME_PERIOD"
		}

		dims[id] = obs.Dimension.Value
	}

	switch {
	case obs.Value != nil:
		r.value = obs.Value.Value
	default:
		r.value = attrs["OBS_VALUE"]
	}

	if len(dims) == 0 {
		return fmt.Errorf("%w: observation without dimensions", ErrMalformedRecord)
	}

	return applySDMX(src, r, dims, attrs)
}

func splitAttrs(xs []xml.Attr, dims, attrs map[string]string) {
	for _, a := range xs {
		if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" || a.Name.Space != "" {
			continue
		}

		id := strings.ToUpper(a.Name.Local)
		if sdmxAttributeIDs[id] {
			attrs[id] = a.Value
			continue
		}

		dims[a.Name.Local] = a.Value
	}
}
