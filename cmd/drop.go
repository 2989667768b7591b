package cmd

import (
	"context"
	"fmt"

	"github.com/ethpandaops/chfs/pkg/engine"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Command flags need to be global for cobra
var (
	dropFeatures bool
	dropLabels   bool
	dropOnline   bool
)

// dropCmd removes the tables published by the pipeline
//
//nolint:gochecknoglobals // Cobra commands are typically global
var dropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Drop the feature, label and online tables",
	Long: `Drop removes the tables the pipeline publishes. Tables that do not
exist are reported as not found.

Examples:
  # Drop every table
  chfs drop

  # Only drop the online table
  chfs drop --features=false --labels=false`,
	RunE: runDrop,
}

func init() {
	rootCmd.AddCommand(dropCmd)

	dropCmd.Flags().BoolVar(&dropFeatures, "features", true, "Drop the feature table")
	dropCmd.Flags().BoolVar(&dropLabels, "labels", true, "Drop the label table")
	dropCmd.Flags().BoolVar(&dropOnline, "online", true, "Drop the online table")
}

func runDrop(cmd *cobra.Command, _ []string) error {
	// Silence usage on error
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	config, err := loadValidConfig(cmd)
	if err != nil {
		return err
	}

	backends, err := engine.NewBackends(logger, config, false)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := backends.Close(); closeErr != nil {
			logger.WithError(closeErr).Error("Failed to close backends")
		}
	}()

	ctx := context.Background()
	out := cmd.OutOrStdout()

	var tables []string
	if dropFeatures {
		tables = append(tables, config.Pipeline.FeatureTable)
	}

	if dropLabels {
		tables = append(tables, config.Pipeline.LabelTable)
	}

	for _, table := range tables {
		result, err := backends.Clients.Store.DropTable(ctx, table)
		if err != nil {
			return fmt.Errorf("failed to drop %s: %w", table, err)
		}

		fmt.Fprintf(out, "%s: %s\n", table, result)
	}

	if dropOnline && config.Pipeline.OnlineTable != "" {
		result, err := backends.Online.Drop(ctx, config.Pipeline.OnlineTable)
		if err != nil {
			return fmt.Errorf("failed to drop %s: %w", config.Pipeline.OnlineTable, err)
		}

		fmt.Fprintf(out, "%s: %s\n", config.Pipeline.OnlineTable, result)
	}

	return nil
}
