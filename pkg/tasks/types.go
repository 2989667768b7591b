// Package tasks provides task queue management using Asynq
package tasks

import (
	"fmt"
	"time"
)

const (
	// TypePipelineRun is the task type for pipeline runs
	TypePipelineRun = "pipeline:run"
	// QueuePipeline is the base name of the pipeline run queue
	QueuePipeline = "pipeline"
)

// RunPayload is the payload of a pipeline run task
type RunPayload struct {
	Pipeline   string    `json:"pipeline"`
	Trigger    string    `json:"trigger"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// UniqueID identifies the run task of a pipeline. At most one run of a
// pipeline is queued or active at a time.
func (p RunPayload) UniqueID() string {
	return fmt.Sprintf("%s:%s", TypePipelineRun, p.Pipeline)
}
