package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/chfs/pkg/observability"
	"github.com/hibiken/asynq"
)

// ErrRunAlreadyQueued is returned when a run of the pipeline is already queued or active
var ErrRunAlreadyQueued = errors.New("pipeline run already queued")

const (
	defaultMaxRetry = 3
	defaultTimeout  = 30 * time.Minute
)

// QueueManager manages task queuing
type QueueManager struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queue     string
}

// NewQueueManager creates a queue manager enqueueing into queue
func NewQueueManager(redisOpt asynq.RedisConnOpt, queue string) *QueueManager {
	return &QueueManager{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		queue:     queue,
	}
}

// Queue returns the queue name runs are enqueued into
func (q *QueueManager) Queue() string {
	return q.queue
}

// EnqueueRun enqueues a pipeline run. It fails with ErrRunAlreadyQueued when
// a run of the same pipeline is still scheduled, pending or active. An archived run of
// the pipeline is removed first so its task id can be reused.
func (q *QueueManager) EnqueueRun(payload RunPayload, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	busy, err := q.IsRunPendingOrRunning(payload.Pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect run of %s: %w", payload.Pipeline, err)
	}

	if busy {
		return nil, fmt.Errorf("%w: %s", ErrRunAlreadyQueued, payload.Pipeline)
	}

	if err := q.ClearCompleted(payload.Pipeline); err != nil {
		return nil, fmt.Errorf("failed to clear previous run of %s: %w", payload.Pipeline, err)
	}

	if payload.EnqueuedAt.IsZero() {
		payload.EnqueuedAt = time.Now().UTC()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	task := asynq.NewTask(TypePipelineRun, data)

	// Default options
	defaultOpts := []asynq.Option{
		asynq.TaskID(payload.UniqueID()),
		asynq.Queue(q.queue),
		asynq.MaxRetry(defaultMaxRetry),
		asynq.Timeout(defaultTimeout),
	}

	allOpts := defaultOpts
	allOpts = append(allOpts, opts...)

	info, err := q.client.Enqueue(task, allOpts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil, fmt.Errorf("%w: %s", ErrRunAlreadyQueued, payload.Pipeline)
		}

		return nil, fmt.Errorf("failed to enqueue run of %s: %w", payload.Pipeline, err)
	}

	observability.RecordTaskEnqueued(TypePipelineRun, payload.Trigger)

	return info, nil
}

// IsRunPendingOrRunning checks if a run of the pipeline is scheduled, pending,
// running or waiting for a retry
func (q *QueueManager) IsRunPendingOrRunning(pipeline string) (bool, error) {
	info, err := q.inspector.GetTaskInfo(q.queue, RunPayload{Pipeline: pipeline}.UniqueID())
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return false, nil
		}

		return false, err
	}

	switch info.State {
	case asynq.TaskStateScheduled, asynq.TaskStatePending, asynq.TaskStateActive, asynq.TaskStateRetry:
		return true, nil
	default:
		return false, nil
	}
}

// ClearCompleted deletes a finished or archived run task so that its id can
// be reused
func (q *QueueManager) ClearCompleted(pipeline string) error {
	err := q.inspector.DeleteTask(q.queue, RunPayload{Pipeline: pipeline}.UniqueID())
	if err != nil && !errors.Is(err, asynq.ErrTaskNotFound) && !errors.Is(err, asynq.ErrQueueNotFound) {
		return err
	}

	return nil
}

// GetQueueStats returns queue statistics
func (q *QueueManager) GetQueueStats() (*asynq.QueueInfo, error) {
	return q.inspector.GetQueueInfo(q.queue)
}

// Close closes the queue manager
func (q *QueueManager) Close() error {
	if err := q.inspector.Close(); err != nil {
		return err
	}

	return q.client.Close()
}
