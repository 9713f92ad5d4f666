package normalize

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// readCSV returns the header and the rows of a CSV document. Rows keep
// their 1-based line number for provenance. A row with the wrong number of
// fields is returned with a non-nil err instead of failing the document.
func readCSV(raw []byte) ([]string, []csvRow, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, fmt.Errorf("%w: empty document", ErrInvalidFormat)
		}

		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []csvRow

	line := 1

	for {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		line++

		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				rows = append(rows, csvRow{line: line, err: fmt.Errorf("%w: %v", ErrMalformedRecord, err)})
				continue
			}

			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}

		row := csvRow{line: line, fields: fields}
		if len(fields) != len(header) {
			row.err = fmt.Errorf("%w: %d fields, header has %d", ErrMalformedRecord, len(fields), len(header))
		}

		rows = append(rows, row)
	}

	return header, rows, nil
}

type csvRow struct {
	line   int
	fields []string
	err    error
}

func (r csvRow) raw() string {
	return strings.Join(r.fields, ",")
}

// columnIndex finds required columns case-insensitively.
func columnIndex(header []string, names ...string) (map[string]int, error) {
	idx := make(map[string]int, len(names))

	for _, name := range names {
		found := false

		for i, h := range header {
			if strings.EqualFold(h, name) {
				idx[name] = i
				found = true

				break
			}
		}

		if !found {
			return nil, fmt.Errorf("%w: missing column %q", ErrInvalidFormat, name)
		}
	}

	return idx, nil
}

func optionalColumn(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(h, name) {
			return i
		}
	}

	return -1
}
