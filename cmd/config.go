package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/creasty/defaults"
	"github.com/ethpandaops/nis/pkg/engine"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// LoadConfig loads the engine configuration from a YAML file. A missing
// file yields the defaults.
func LoadConfig(path string) (*engine.Config, error) {
	if path == "" {
		path = "config.yaml"
	}

	config := &engine.Config{}

	if err := defaults.Set(config); err != nil {
		return nil, err
	}

	yamlFile, err := os.ReadFile(path) //nolint:gosec // User-provided config file path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return config, nil
		}

		return nil, err
	}

	if err := yaml.Unmarshal(yamlFile, config); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return config, nil
}

// applyLogLevel uses the configured level unless --log-level was given.
func applyLogLevel(cmd *cobra.Command, config *engine.Config) error {
	if cmd.Flags().Changed("log-level") {
		return nil
	}

	level, err := logrus.ParseLevel(config.Logging)
	if err != nil {
		return err
	}

	logger.SetLevel(level)

	return nil
}

// openEngine builds an engine for one-shot commands. Servers and the
// refresh pipeline stay off.
func openEngine(cmd *cobra.Command) (*engine.Service, error) {
	config, err := LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	if !cmd.Flags().Changed("log-level") {
		logger.SetLevel(logrus.WarnLevel)
	}

	config.MetricsAddr = ""
	config.HealthCheckAddr = ""
	config.PProfAddr = ""

	svc, err := engine.NewService(logger, config)
	if err != nil {
		return nil, err
	}

	if err := svc.Open(cmd.Context()); err != nil {
		_ = svc.Stop()
		return nil, err
	}

	return svc, nil
}

func closeEngine(svc *engine.Service) {
	if err := svc.Stop(); err != nil {
		logger.WithError(err).Error("Failed to stop engine")
	}
}
