package normalize

// FAOSTAT bulk download CSV (normalized layout):
//
//	Area Code,Area,Item Code,Item,Element Code,Element,Year Code,Year,Unit,Value,Flag
//	203,Spain,15,Wheat,5510,Production,2010,2010,tonnes,1000,A
//
// Area, Item and Year become the country, item and time dimensions;
// Element is the measure. Flag is optional and kept in provenance.
func parseFAOSTAT(_ *Source, raw []byte) ([]record, error) {
	header, rows, err := readCSV(raw)
	if err != nil {
		return nil, err
	}

	col, err := columnIndex(header, "Area", "Item", "Element", "Year", "Unit", "Value")
	if err != nil {
		return nil, err
	}

	flag := optionalColumn(header, "Flag")

	records := make([]record, 0, len(rows))

	for _, row := range rows {
		r := record{index: row.line, raw: row.raw(), err: row.err}

		if row.err == nil {
			r.dims = map[string]string{
				"country": row.fields[col["Area"]],
				"item":    row.fields[col["Item"]],
				"time":    row.fields[col["Year"]],
			}
			r.measure = row.fields[col["Element"]]
			r.unit = row.fields[col["Unit"]]
			r.value = row.fields[col["Value"]]

			if flag >= 0 {
				r.flag = row.fields[flag]
			}
		}

		records = append(records, r)
	}

	return records, nil
}
