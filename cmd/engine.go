package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/ethpandaops/chfs/pkg/engine"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra commands are typically global
var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Start the chfs engine",
	Long: `The engine schedules pipeline runs, executes them from the task queue
and serves online features and on-demand functions over the API.`,
	RunE: runEngine,
}

func init() {
	rootCmd.AddCommand(engineCmd)
}

func runEngine(cmd *cobra.Command, _ []string) error {
	// Silence usage on error
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	config, err := loadValidConfig(cmd)
	if err != nil {
		return err
	}

	logger.WithField("build", currentBuild().String()).Info("Configuration loaded")

	app, err := engine.NewService(logger, config)
	if err != nil {
		return err
	}

	if err := app.Start(); err != nil {
		return err
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	// Graceful shutdown
	return app.Stop()
}
