package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/chfs/pkg/observability"
	"github.com/ethpandaops/chfs/pkg/pipeline"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// ErrUnknownPipeline is returned when a task names a pipeline this worker does not run
var ErrUnknownPipeline = errors.New("unknown pipeline")

// Runner executes pipeline runs
type Runner interface {
	Run(ctx context.Context, trigger string) (*pipeline.RunSummary, error)
}

// TaskHandler handles task execution
type TaskHandler struct {
	log     logrus.FieldLogger
	runners map[string]Runner
}

// NewTaskHandler creates a task handler running the given pipelines by name
func NewTaskHandler(log logrus.FieldLogger, runners map[string]Runner) *TaskHandler {
	return &TaskHandler{
		log:     log.WithField("component", "task-handler"),
		runners: runners,
	}
}

// HandleRun handles pipeline run tasks
func (h *TaskHandler) HandleRun(ctx context.Context, t *asynq.Task) error {
	var payload RunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		observability.RecordError("task-handler", "unmarshal_error")

		// Retrying cannot fix a malformed payload.
		return fmt.Errorf("failed to unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}

	log := h.log.WithFields(logrus.Fields{
		"pipeline": payload.Pipeline,
		"trigger":  payload.Trigger,
		"queued":   time.Since(payload.EnqueuedAt),
	})

	runner, ok := h.runners[payload.Pipeline]
	if !ok {
		observability.RecordError("task-handler", "pipeline_not_found")

		return fmt.Errorf("%w: %s: %w", ErrUnknownPipeline, payload.Pipeline, asynq.SkipRetry)
	}

	log.Info("Starting pipeline run task")

	summary, err := runner.Run(ctx, payload.Trigger)
	if err != nil {
		return fmt.Errorf("pipeline run failed: %w", err)
	}

	log.WithFields(logrus.Fields{
		"run_id": summary.ID,
		"rows":   summary.Rows,
	}).Info("Pipeline run task completed")

	return nil
}

// Routes returns the task handler routes for Asynq
func (h *TaskHandler) Routes() map[string]asynq.HandlerFunc {
	return map[string]asynq.HandlerFunc{
		TypePipelineRun: h.HandleRun,
	}
}
