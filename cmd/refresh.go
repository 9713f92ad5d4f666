package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Command flags need to be global for cobra
var (
	refreshAsync bool
	refreshAll   bool
)

// refreshCmd represents the refresh command
//
//nolint:gochecknoglobals // Cobra commands are typically global
var refreshCmd = &cobra.Command{
	Use:     "refresh <source>...",
	Aliases: []string{"normalize"},
	Short:   "Re-fetch and re-normalize sources",
	Long:    `Refresh re-fetches one or more sources, stores their normalized facts
and invalidates every cached cube and graph result derived from them.

Examples:
  # Refresh a source in this process
  nis refresh fao

  # Refresh every source in parallel
  nis refresh --all

  # Queue the refresh for the workers instead (requires Redis)
  nis refresh fao imf --async`,
	RunE: runRefresh,
}

func init() {
	rootCmd.AddCommand(refreshCmd)

	refreshCmd.Flags().BoolVar(&refreshAsync, "async", false, "Queue the refresh for the workers")
	refreshCmd.Flags().BoolVar(&refreshAll, "all", false, "Refresh every source")
}

func runRefresh(cmd *cobra.Command, args []string) error {
	// Silence usage on error
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	if len(args) == 0 && !refreshAll {
		return fmt.Errorf("%w: name a source or pass --all", ErrInvalidFlag)
	}

	svc, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer closeEngine(svc)

	out := cmd.OutOrStdout()

	if refreshAsync {
		if len(args) == 0 {
			for _, src := range svc.Models().Sources() {
				args = append(args, src.ID)
			}
		}

		for _, id := range args {
			if err := svc.EnqueueRefresh(cmd.Context(), id); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(out, "queued %s\n", id)
		}

		return nil
	}

	reports, err := svc.RefreshSources(cmd.Context(), args...)

	for _, report := range reports {
		_, _ = fmt.Fprintf(out, "%s: %d facts, %d rejected, %d dropped in %s\n",
			report.SourceID, report.Facts, report.Rejected, report.Dropped, report.Duration.Round(time.Millisecond))

		if len(report.Cubes)+len(report.Graphs) > 0 {
			_, _ = fmt.Fprintf(out, "  invalidated %d cached results for cubes [%s] graphs [%s]\n",
				report.Invalidated, strings.Join(report.Cubes, ", "), strings.Join(report.Graphs, ", "))
		}
	}

	return err
}
