package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/ethpandaops/nis/pkg/facts"
	"github.com/ethpandaops/nis/pkg/flowgraph"
	"github.com/ethpandaops/nis/pkg/quantity"
)

// Output formats.
const (
	outputTable = "table"
	outputJSON  = "json"
)

//nolint:gochecknoglobals // Command flags need to be global for cobra
var outputFormat string

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

func formatValue(q quantity.Quantity) (value, unit, stddev string) {
	if q.IsSymbolic() {
		value = q.Expr.String()
	} else {
		value = strconv.FormatFloat(q.Value, 'g', 10, 64)
	}

	stddev = "-"
	if sd := q.Uncertainty.StdDev(); sd > 0 {
		stddev = strconv.FormatFloat(sd, 'g', 6, 64)
	}

	return value, q.Unit.String(), stddev
}

// writeFacts prints one row per fact with a column per dimension.
func writeFacts(w io.Writer, dims []string, fs []facts.Fact) error {
	if len(dims) == 0 {
		seen := make(map[string]bool)

		for _, f := range fs {
			for _, d := range f.Coordinates().Dimensions() {
				if !seen[d] {
					seen[d] = true
					dims = append(dims, d)
				}
			}
		}
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	header := make([]string, 0, len(dims)+4)
	for _, d := range dims {
		header = append(header, strings.ToUpper(d))
	}

	header = append(header, "MEASURE", "VALUE", "UNIT", "STDDEV")
	_, _ = fmt.Fprintln(tw, strings.Join(header, "\t"))

	for _, f := range fs {
		row := make([]string, 0, len(header))
		for _, d := range dims {
			row = append(row, f.Dimension(d))
		}

		value, unit, stddev := formatValue(f.Quantity())
		row = append(row, f.Measure(), value, unit, stddev)

		_, _ = fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	return tw.Flush()
}

func writeIssues(w io.Writer, issues []flowgraph.Issue) {
	for _, is := range issues {
		_, _ = fmt.Fprintln(w, is.String())
	}
}
