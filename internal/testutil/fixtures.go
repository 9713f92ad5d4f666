package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// FAOSTATRow is one row of a FAOSTAT bulk download.
type FAOSTATRow struct {
	Area    string
	Item    string
	Element string
	Year    string
	Unit    string
	Value   string
	Flag    string
}

// FAOSTATOption customises a FAOSTAT row.
type FAOSTATOption func(*FAOSTATRow)

// WithUnit sets the unit column.
func WithUnit(unit string) FAOSTATOption {
	return func(r *FAOSTATRow) {
		r.Unit = unit
	}
}

// WithFlag sets the flag column.
func WithFlag(flag string) FAOSTATOption {
	return func(r *FAOSTATRow) {
		r.Flag = flag
	}
}

// WithElement sets the element (measure) column.
func WithElement(element string) FAOSTATOption {
	return func(r *FAOSTATRow) {
		r.Element = element
	}
}

// Production returns a wheat production row in tonnes.
func Production(area, year, value string, opts ...FAOSTATOption) FAOSTATRow {
	r := FAOSTATRow{
		Area:    area,
		Item:    "Wheat",
		Element: "Production",
		Year:    year,
		Unit:    "tonnes",
		Value:   value,
		Flag:    "A",
	}

	for _, opt := range opts {
		opt(&r)
	}

	return r
}

// FAOSTATCSV renders rows in the FAOSTAT bulk layout.
func FAOSTATCSV(rows ...FAOSTATRow) []byte {
	var b strings.Builder

	b.WriteString("Area Code,Area,Item Code,Item,Element Code,Element,Year Code,Year,Unit,Value,Flag\n")

	for i, r := range rows {
		fmt.Fprintf(&b, "%d,%s,15,%s,5510,%s,%s,%s,%s,%s,%s\n",
			100+i, r.Area, r.Item, r.Element, r.Year, r.Year, r.Unit, r.Value, r.Flag)
	}

	return []byte(b.String())
}

// EuropeanWheat is production for three European countries and one
// African one across two years.
func EuropeanWheat() []byte {
	return FAOSTATCSV(
		Production("Spain", "2010", "1000"),
		Production("France", "2010", "2500", WithUnit("kt")),
		Production("Germany", "2010", "800000", WithUnit("kg")),
		Production("Kenya", "2010", "300"),
		Production("Spain", "2011", "1100"),
		Production("France", "2011", "2.6", WithUnit("Mt")),
	)
}

// SSPPopulationCSV is an SSP scenario extract in wide layout.
const SSPPopulationCSV = `Model,Scenario,Region,Variable,Unit,2010,2020,2030
IIASA-WiC POP,SSP1,ESP,Population,million,46.6,47.1,
IIASA-WiC POP,SSP2,ESP,Population,million,46.6,47.9,48.5
IIASA-WiC POP,SSP2,FRA,Population,million,63.2,66.4,68.9
`

// SDMXJSONWheat is an SDMX-JSON 2.0 data message with one series
// dimension, one observation dimension and a series-level unit.
const SDMXJSONWheat = `{
  "meta": {"id": "IREF000001", "prepared": "2024-01-01T00:00:00Z"},
  "data": {
    "dataSets": [{
      "series": {
        "1": {"attributes": [0], "observations": {"1": [1100, 0], "0": [1000, 1]}},
        "0": {"attributes": [0], "observations": {"0": [2500, null], "1": [null]}}
      }
    }],
    "structures": [{
      "dimensions": {
        "series": [{"id": "REF_AREA", "values": [{"id": "FR"}, {"id": "ES"}]}],
        "observation": [{"id": "TIME_PERIOD", "values": [{"id": "2010"}, {"id": "2011"}]}]
      },
      "attributes": {
        "series": [{"id": "UNIT_MEASURE", "values": [{"id": "T"}]}],
        "observation": [{"id": "OBS_STATUS", "values": [{"id": "A"}, {"id": "E"}]}]
      }
    }]
  }
}`

// SDMXMLGenericWheat is an SDMX-ML 2.1 generic data message.
const SDMXMLGenericWheat = `<?xml version="1.0" encoding="UTF-8"?>
<message:GenericData xmlns:message="http://www.sdmx.org/resources/sdmxml/schemas/v2_1/message"
    xmlns:generic="http://www.sdmx.org/resources/sdmxml/schemas/v2_1/data/generic">
  <message:Header><message:ID>IREF000002</message:ID></message:Header>
  <message:DataSet>
    <generic:Series>
      <generic:SeriesKey>
        <generic:Value id="REF_AREA" value="ES"/>
        <generic:Value id="ITEM" value="wheat"/>
      </generic:SeriesKey>
      <generic:Attributes>
        <generic:Value id="UNIT_MEASURE" value="t"/>
        <generic:Value id="UNIT_MULT" value="3"/>
      </generic:Attributes>
      <generic:Obs>
        <generic:ObsDimension value="2010"/>
        <generic:ObsValue value="1"/>
      </generic:Obs>
      <generic:Obs>
        <generic:ObsDimension value="2011"/>
        <generic:ObsValue value="n/a"/>
      </generic:Obs>
    </generic:Series>
  </message:DataSet>
</message:GenericData>`

// SDMXMLStructureSpecificWheat is the structure-specific layout of the same data.
const SDMXMLStructureSpecificWheat = `<?xml version="1.0" encoding="UTF-8"?>
<message:StructureSpecificData xmlns:message="http://www.sdmx.org/resources/sdmxml/schemas/v2_1/message"
    xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">
  <message:DataSet xsi:type="ns1:DataSetType">
    <Series REF_AREA="ES" ITEM="wheat" UNIT_MEASURE="t">
      <Obs TIME_PERIOD="2010" OBS_VALUE="1000" OBS_STATUS="E"/>
      <Obs TIME_PERIOD="2011" OBS_VALUE="1100"/>
    </Series>
  </message:DataSet>
</message:StructureSpecificData>`

// WriteFile writes data under dir and returns the path.
func WriteFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o600))

	return path
}
