package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/ethpandaops/chfs/pkg/engine"
	"github.com/ethpandaops/chfs/pkg/functions"
	"github.com/ethpandaops/chfs/pkg/pipeline"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Command flags need to be global for cobra
var runDryRun bool

// runCmd runs the pipeline once in the foreground
//
//nolint:gochecknoglobals // Cobra commands are typically global
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the feature pipeline once",
	Long: `Run reads the source table, computes and cleans the features, then
publishes the label table, the feature table and the online table and
registers the on-demand functions.

Examples:
  # Run against ClickHouse and Redis
  chfs run --config config.yaml

  # Read the source table but keep every output in memory
  chfs run --dry-run`,
	RunE: runPipeline,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Keep feature tables and functions in memory and skip the online table")
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	// Silence usage on error
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	config, err := loadValidConfig(cmd)
	if err != nil {
		return err
	}

	backends, err := engine.NewBackends(logger, config, runDryRun)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := backends.Close(); closeErr != nil {
			logger.WithError(closeErr).Error("Failed to close backends")
		}
	}()

	if err := backends.Start(); err != nil {
		return err
	}

	runner, err := pipeline.NewRunner(logger, config.Pipeline, backends.Clients, functions.Builtins()...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := runner.Run(ctx, pipeline.TriggerManual)
	if summary != nil {
		printRunSummary(os.Stdout, summary)
	}

	return err
}

func printRunSummary(out io.Writer, summary *pipeline.RunSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Run:\t%s\n", summary.ID)
	fmt.Fprintf(w, "Status:\t%s\n", summary.Status)

	if summary.FinishedAt != nil {
		fmt.Fprintf(w, "Duration:\t%s\n", summary.FinishedAt.Sub(summary.StartedAt))
	}

	if summary.Error != "" {
		fmt.Fprintf(w, "Error:\t%s\n", summary.Error)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "STAGE\tROWS")

	for _, stage := range summary.Stages {
		fmt.Fprintf(w, "%s\t%d\n", stage, summary.Rows[stage])
	}

	if len(summary.Splits) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "SPLIT\tROWS")

		names := make([]string, 0, len(summary.Splits))
		for name := range summary.Splits {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			fmt.Fprintf(w, "%s\t%d\n", name, summary.Splits[name])
		}
	}

	_ = w.Flush()
}
