package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/chfs/pkg/pipeline"
	"github.com/ethpandaops/chfs/pkg/tasks"
	"github.com/spf13/cobra"
)

// enqueueCmd queues a run for the engine's workers
//
//nolint:gochecknoglobals // Cobra commands are typically global
var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue a pipeline run for the engine workers",
	Long: `Enqueue adds a pipeline run to the task queue. At most one run of the
pipeline is queued or active at a time.`,
	RunE: runEnqueue,
}

func init() {
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(cmd *cobra.Command, _ []string) error {
	// Silence usage on error
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	config, err := loadValidConfig(cmd)
	if err != nil {
		return err
	}

	asynqOptions, err := config.Redis.AsynqOptions()
	if err != nil {
		return err
	}

	queue := tasks.NewQueueManager(asynqOptions, config.Redis.PrefixQueue(tasks.QueuePipeline))
	defer func() {
		if closeErr := queue.Close(); closeErr != nil {
			logger.WithError(closeErr).Error("Failed to close queue")
		}
	}()

	info, err := queue.EnqueueRun(tasks.RunPayload{
		Pipeline:   config.Name,
		Trigger:    pipeline.TriggerManual,
		EnqueuedAt: time.Now().UTC(),
	})
	if errors.Is(err, tasks.ErrRunAlreadyQueued) {
		fmt.Fprintf(cmd.OutOrStdout(), "run of %s already queued\n", config.Name)
		return nil
	}

	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "queued %s on %s\n", info.ID, info.Queue)

	return nil
}
