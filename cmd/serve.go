package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/ethpandaops/nis/pkg/engine"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra commands are typically global
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the NIS engine",
	Long: `Starts the engine with its metrics and health servers. When Redis is
configured the refresh scheduler and workers run as well.`,
	RunE: runServe,
}

//nolint:gochecknoglobals // Cobra commands are typically global
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start a refresh worker without the scheduler",
	Long:  `The worker processes source refresh tasks queued by scheduling nodes or "nis refresh --async".`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	return serve(cmd, func(*engine.Config) {})
}

func runWorker(cmd *cobra.Command, _ []string) error {
	return serve(cmd, func(config *engine.Config) {
		config.Scheduler.Disabled = true
	})
}

func serve(cmd *cobra.Command, adjust func(*engine.Config)) error {
	// Silence usage on error
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	config, err := LoadConfig(cfgFile)
	if err != nil {
		return err
	}

	if err := applyLogLevel(cmd, config); err != nil {
		return err
	}

	adjust(config)

	logger.Info("Configuration loaded")

	svc, err := engine.NewService(logger, config)
	if err != nil {
		return err
	}

	if err := svc.Start(cmd.Context()); err != nil {
		_ = svc.Stop()
		return err
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	return svc.Stop()
}
