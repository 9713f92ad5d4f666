package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/ethpandaops/nis/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// modelsCmd represents the models command group
//
//nolint:gochecknoglobals // Cobra commands are typically global
var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Inspect source, cube and graph definitions",
	Long:  `Commands for listing, validating and visualizing model definitions.`,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		// Keep discovery logs out of the output unless asked for
		if !cmd.Flags().Changed("log-level") {
			logger.SetLevel(logrus.ErrorLevel)
		}

		return nil
	},
}

//nolint:gochecknoglobals // Cobra commands are typically global
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all discovered models",
	Long:  `List every source, cube and graph with its dependencies.`,
	RunE:  runModelsList,
}

//nolint:gochecknoglobals // Cobra commands are typically global
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate model definitions",
	Long:  `Parse and validate every definition, including units, hierarchies, graph parameters and dependencies.`,
	RunE:  runModelsValidate,
}

//nolint:gochecknoglobals // Cobra commands are typically global
var dagCmd = &cobra.Command{
	Use:   "dag",
	Short: "Visualize the model dependency DAG",
	Long:  `Show which cubes read which sources and which graphs observe which cubes.`,
	RunE:  runModelsDAG,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.AddCommand(listCmd)
	modelsCmd.AddCommand(validateCmd)
	modelsCmd.AddCommand(dagCmd)

	dagCmd.Flags().Bool("dot", false, "Output in DOT format for graphviz")
}

func loadModels(cmd *cobra.Command) (*models.Service, error) {
	// Silence usage on error
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	cfg, err := LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	svc := models.NewService(logger, &cfg.Models)
	if err := svc.Start(); err != nil {
		return nil, err
	}

	return svc, nil
}

func runModelsList(cmd *cobra.Command, _ []string) error {
	svc, err := loadModels(cmd)
	if err != nil {
		return err
	}

	dag := svc.GetDAG()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "MODEL ID\tTYPE\tDETAILS\tDEPS")

	for _, src := range svc.Sources() {
		details := string(src.Type)
		if src.Refresh != "" {
			details += " refresh=" + src.Refresh
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", src.ID, models.NodeTypeSource, details, "-")
	}

	for _, c := range svc.Cubes() {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d dims, measures [%s]\t%s\n",
			c.ID, models.NodeTypeCube, len(c.Dimensions), strings.Join(c.Measures, ", "),
			deps(dag.GetDependencies(models.NodeID(models.NodeTypeCube, c.ID))))
	}

	for _, g := range svc.Graphs() {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d entities, %d relations, %d scenarios\t%s\n",
			g.ID, models.NodeTypeGraph, len(g.Entities), len(g.Relations), len(g.Scenarios),
			deps(dag.GetDependencies(models.NodeID(models.NodeTypeGraph, g.ID))))
	}

	return w.Flush()
}

func deps(ids []string) string {
	if len(ids) == 0 {
		return "-"
	}

	return strings.Join(ids, ", ")
}

func runModelsValidate(cmd *cobra.Command, _ []string) error {
	svc, err := loadModels(cmd)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrValidationFailed, err)
	}

	out := cmd.OutOrStdout()

	for _, src := range svc.Sources() {
		_, _ = fmt.Fprintf(out, "✓ source %s: valid\n", src.ID)
	}

	for _, c := range svc.Cubes() {
		_, _ = fmt.Fprintf(out, "✓ cube %s: valid\n", c.ID)
	}

	for _, g := range svc.Graphs() {
		_, _ = fmt.Fprintf(out, "✓ graph %s: valid\n", g.ID)
	}

	_, _ = fmt.Fprintf(out, "\n%d sources, %d cubes, %d graphs\n",
		len(svc.Sources()), len(svc.Cubes()), len(svc.Graphs()))

	return nil
}

func runModelsDAG(cmd *cobra.Command, _ []string) error {
	svc, err := loadModels(cmd)
	if err != nil {
		return err
	}

	dag := svc.GetDAG()
	out := cmd.OutOrStdout()

	if dotFlag, _ := cmd.Flags().GetBool("dot"); dotFlag {
		_, _ = fmt.Fprintln(out, dag.GenerateDOTFormat())
		return nil
	}

	info := dag.GetDAGInfo()

	_, _ = fmt.Fprintln(out, "Dependency Graph:")
	_, _ = fmt.Fprintln(out, "=================")

	for level, ids := range info.Levels {
		if len(ids) == 0 {
			continue
		}

		_, _ = fmt.Fprintf(out, "\nLevel %d:\n", level)

		for _, id := range ids {
			_, _ = fmt.Fprintf(out, "  • %s", id)

			if d := dag.GetDependencies(id); len(d) > 0 {
				_, _ = fmt.Fprintf(out, "\n    ← depends on: %s", strings.Join(d, ", "))
			}

			if d := info.Dependents[id]; len(d) > 0 {
				_, _ = fmt.Fprintf(out, "\n    → used by: %s", strings.Join(d, ", "))
			}

			_, _ = fmt.Fprintln(out)
		}
	}

	_, _ = fmt.Fprintln(out, "\nStatistics:")
	_, _ = fmt.Fprintln(out, "===========")
	_, _ = fmt.Fprintf(out, "Independent chains: %d\n", len(info.RootNodes))
	_, _ = fmt.Fprintf(out, "Total models: %d\n", info.TotalNodes)

	return nil
}
