package cmd

import (
	"fmt"
	"os"

	"github.com/creasty/defaults"
	"github.com/ethpandaops/chfs/pkg/engine"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// LoadConfig loads the engine configuration from a YAML file. Defaults are
// applied first so explicit zero values in the file win, and ${VAR}
// references are expanded from the environment.
func LoadConfig(path string) (*engine.Config, error) {
	config := &engine.Config{}

	if err := defaults.Set(config); err != nil {
		return nil, err
	}

	yamlFile, err := os.ReadFile(path) //nolint:gosec // User-provided config file path
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(yamlFile))), config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return config, nil
}

// loadValidConfig loads and validates the config and sets up the logger
func loadValidConfig(cmd *cobra.Command) (*engine.Config, error) {
	config, err := LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	if err := setupLogger(cmd, config.Logging); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}
