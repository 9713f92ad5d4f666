package normalize

import (
	"fmt"
	"strings"

	"github.com/ethpandaops/nis/pkg/facts"
)

// SSP scenario database CSV in wide layout, one column per year:
//
//	Model,Scenario,Region,Variable,Unit,2005,2010,2015
//	IIASA GDP,SSP2_v9_130219,ESP,Population,million,44.0,46.6,46.4
//
// Every year cell becomes one record with model, scenario, region and time
// dimensions. Variable is the measure. Empty cells count as missing
// observations.
func parseSSP(_ *Source, raw []byte) ([]record, error) {
	header, rows, err := readCSV(raw)
	if err != nil {
		return nil, err
	}

	col, err := columnIndex(header, "Model", "Scenario", "Region", "Variable", "Unit")
	if err != nil {
		return nil, err
	}

	var years []int

	for i, h := range header {
		if p, err := facts.ParsePeriod(h); err == nil && !p.Generic() {
			years = append(years, i)
		}
	}

	if len(years) == 0 {
		return nil, fmt.Errorf("%w: no period columns", ErrInvalidFormat)
	}

	records := make([]record, 0, len(rows)*len(years))

	for _, row := range rows {
		if row.err != nil {
			records = append(records, record{index: row.line, raw: row.raw(), err: row.err})
			continue
		}

		for _, yc := range years {
			records = append(records, record{
				index: row.line,
				raw:   fmt.Sprintf("%s;%s", row.raw(), header[yc]),
				dims: map[string]string{
					"model":    row.fields[col["Model"]],
					"scenario": row.fields[col["Scenario"]],
					"region":   row.fields[col["Region"]],
					"time":     strings.TrimSpace(header[yc]),
				},
				measure: row.fields[col["Variable"]],
				unit:    row.fields[col["Unit"]],
				value:   row.fields[yc],
			})
		}
	}

	return records, nil
}
