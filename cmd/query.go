package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethpandaops/nis/pkg/engine"
	"github.com/ethpandaops/nis/pkg/facts"
	"github.com/spf13/cobra"
)

var (
	// ErrInvalidFlag is returned for malformed --filter or --rollup values
	ErrInvalidFlag = errors.New("invalid flag value")
	// ErrUnknownOutput is returned for an unsupported --output format
	ErrUnknownOutput = errors.New("unknown output format")
)

//nolint:gochecknoglobals // Command flags need to be global for cobra
var (
	queryFilters  []string
	queryGroupBy  []string
	queryMeasures []string
	queryAgg      string
	queryRollUp   string
	queryUnit     string

	solveScenarios []string
	solveEntities  []string
)

//nolint:gochecknoglobals // Cobra commands are typically global
var cubesCmd = &cobra.Command{
	Use:   "cubes",
	Short: "List the configured cubes",
	RunE:  runCubes,
}

//nolint:gochecknoglobals // Cobra commands are typically global
var queryCmd = &cobra.Command{
	Use:   "query <cube>",
	Short: "Slice, roll up and aggregate a cube",
	Long: `Query filters the facts of a cube, optionally rolls a hierarchical
dimension up to a level, aggregates over every dimension not grouped by and
converts the result to a unit.

Examples:
  # Wheat production of every European country in 2010
  nis query wheat --filter time=2010 --filter country=Spain,France,Germany

  # Production per region and year, in megatonnes
  nis query wheat --rollup country:region --group-by country,time --unit Mt`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

//nolint:gochecknoglobals // Cobra commands are typically global
var solveCmd = &cobra.Command{
	Use:   "solve <graph>",
	Short: "Derive every entity of a graph per scenario and period",
	Args:  cobra.ExactArgs(1),
	RunE:  runSolve,
}

//nolint:gochecknoglobals // Cobra commands are typically global
var evaluateCmd = &cobra.Command{
	Use:   "evaluate <graph> <entity>",
	Short: "Derive the quantity of one entity",
	Args:  cobra.ExactArgs(2),
	RunE:  runEvaluate,
}

func init() {
	rootCmd.AddCommand(cubesCmd, queryCmd, solveCmd, evaluateCmd)

	for _, c := range []*cobra.Command{cubesCmd, queryCmd, solveCmd, evaluateCmd} {
		c.Flags().StringVarP(&outputFormat, "output", "o", outputTable, "Output format (table, json)")
	}

	queryCmd.Flags().StringArrayVar(&queryFilters, "filter", nil, "Keep facts whose dimension has one of the values (dim=v1,v2)")
	queryCmd.Flags().StringSliceVar(&queryGroupBy, "group-by", nil, "Dimensions to keep when aggregating")
	queryCmd.Flags().StringSliceVar(&queryMeasures, "measure", nil, "Measures to keep")
	queryCmd.Flags().StringVar(&queryAgg, "agg", "", "Aggregation (sum, mean, weighted-mean)")
	queryCmd.Flags().StringVar(&queryRollUp, "rollup", "", "Roll a dimension up to a level (dim:level)")
	queryCmd.Flags().StringVar(&queryUnit, "unit", "", "Convert values to this unit")

	solveCmd.Flags().StringSliceVar(&solveScenarios, "scenario", nil, "Only print these scenarios")
	solveCmd.Flags().StringSliceVar(&solveEntities, "entity", nil, "Only print these entities")
}

func checkOutput() error {
	switch outputFormat {
	case outputTable, outputJSON:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOutput, outputFormat)
	}
}

// parseFilters turns ["country=Spain,France", "time=2010"] into a filter map.
func parseFilters(raw []string) (map[string][]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	out := make(map[string][]string, len(raw))

	for _, f := range raw {
		dim, values, ok := strings.Cut(f, "=")
		dim = strings.TrimSpace(dim)

		if !ok || dim == "" || strings.TrimSpace(values) == "" {
			return nil, fmt.Errorf("%w: filter %q, want dim=v1,v2", ErrInvalidFlag, f)
		}

		for _, v := range strings.Split(values, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out[dim] = append(out[dim], v)
			}
		}
	}

	return out, nil
}

func parseRollUp(raw string) (*engine.RollUp, error) {
	if raw == "" {
		return nil, nil
	}

	dim, level, ok := strings.Cut(raw, ":")
	if !ok || dim == "" || level == "" {
		return nil, fmt.Errorf("%w: rollup %q, want dim:level", ErrInvalidFlag, raw)
	}

	return &engine.RollUp{Dimension: dim, Level: level}, nil
}

func runCubes(cmd *cobra.Command, _ []string) error {
	// Silence usage on error
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	if err := checkOutput(); err != nil {
		return err
	}

	svc, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer closeEngine(svc)

	cubes := svc.ListCubes()

	if outputFormat == outputJSON {
		return writeJSON(cmd.OutOrStdout(), cubes)
	}

	out := cmd.OutOrStdout()

	for _, c := range cubes {
		_, _ = fmt.Fprintf(out, "%s (%s) sources [%s]\n", c.ID, c.Aggregation, strings.Join(c.Sources, ", "))

		for _, d := range c.Dimensions {
			if len(d.Levels) > 0 {
				_, _ = fmt.Fprintf(out, "  %s: %s\n", d.Name, strings.Join(d.Levels, " > "))
				continue
			}

			_, _ = fmt.Fprintf(out, "  %s\n", d.Name)
		}
	}

	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	// Silence usage on error
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	if err := checkOutput(); err != nil {
		return err
	}

	filter, err := parseFilters(queryFilters)
	if err != nil {
		return err
	}

	rollUp, err := parseRollUp(queryRollUp)
	if err != nil {
		return err
	}

	svc, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer closeEngine(svc)

	res, err := svc.QueryCube(cmd.Context(), engine.CubeQuery{
		CubeID:   args[0],
		Filter:   filter,
		GroupBy:  queryGroupBy,
		Measures: queryMeasures,
		Agg:      queryAgg,
		RollUp:   rollUp,
		Unit:     queryUnit,
	})
	if err != nil {
		return err
	}

	if outputFormat == outputJSON {
		return writeJSON(cmd.OutOrStdout(), res)
	}

	return writeFacts(cmd.OutOrStdout(), res.Dimensions, res.Facts)
}

func runSolve(cmd *cobra.Command, args []string) error {
	// Silence usage on error
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	if err := checkOutput(); err != nil {
		return err
	}

	svc, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer closeEngine(svc)

	res, err := svc.Solve(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	res.Facts = keep(res.Facts, "scenario", solveScenarios)
	res.Facts = keep(res.Facts, "entity", solveEntities)

	if outputFormat == outputJSON {
		return writeJSON(cmd.OutOrStdout(), res)
	}

	writeIssues(cmd.ErrOrStderr(), res.Issues)

	return writeFacts(cmd.OutOrStdout(), []string{"scenario", "entity", "time"}, res.Facts)
}

func keep(fs []facts.Fact, dim string, values []string) []facts.Fact {
	if len(values) == 0 {
		return fs
	}

	out := fs[:0:0]

	for _, f := range fs {
		for _, v := range values {
			if strings.EqualFold(f.Dimension(dim), v) {
				out = append(out, f)
				break
			}
		}
	}

	return out
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	// Silence usage on error
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	if err := checkOutput(); err != nil {
		return err
	}

	svc, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer closeEngine(svc)

	res, err := svc.EvaluateEntity(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}

	if outputFormat == outputJSON {
		return writeJSON(cmd.OutOrStdout(), res)
	}

	out := cmd.OutOrStdout()

	writeIssues(cmd.ErrOrStderr(), res.Issues)

	if res.Value != nil {
		value, unit, stddev := formatValue(*res.Value)
		_, _ = fmt.Fprintf(out, "%s (%s) = %s %s ± %s\n", res.Entity, res.Kind, value, unit, stddev)

		return nil
	}

	_, _ = fmt.Fprintf(out, "%s (%s)\n", res.Entity, res.Kind)

	if len(res.Observed) > 0 {
		_, _ = fmt.Fprintln(out, "\nObserved:")
		if err := writeFacts(out, nil, res.Observed); err != nil {
			return err
		}
	}

	_, _ = fmt.Fprintln(out, "\nDerived:")

	return writeFacts(out, []string{"scenario", "time"}, res.Facts)
}
