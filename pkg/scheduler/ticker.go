package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethpandaops/chfs/pkg/pipeline"
	"github.com/ethpandaops/chfs/pkg/tasks"
	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const defaultTickInterval = time.Second

// Enqueuer queues pipeline runs
type Enqueuer interface {
	EnqueueRun(payload tasks.RunPayload, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// scheduledRun is a pipeline scheduled on a cron schedule
type scheduledRun struct {
	Pipeline string
	Schedule cron.Schedule
	nextRun  *time.Time // cached to avoid a Redis lookup per tick
}

// ticker checks schedules every tick and enqueues due runs. It should only
// run on the leader.
type ticker struct {
	log      logrus.FieldLogger
	tracker  scheduleTracker
	enqueuer Enqueuer
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	runs []scheduledRun
}

func newTicker(log logrus.FieldLogger, tracker scheduleTracker, enqueuer Enqueuer, runs []scheduledRun) *ticker {
	return &ticker{
		log:      log.WithField("component", "ticker"),
		tracker:  tracker,
		enqueuer: enqueuer,
		interval: defaultTickInterval,
		now:      time.Now,
		runs:     runs,
	}
}

// Run blocks until ctx is canceled
func (t *ticker) Run(ctx context.Context) {
	t.log.Info("Starting ticker")

	tick := time.NewTicker(t.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			t.log.Info("Ticker stopped")

			return
		case <-tick.C:
			t.checkSchedules(ctx)
		}
	}
}

func (t *ticker) checkSchedules(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now().UTC()

	for i := range t.runs {
		run := &t.runs[i]

		if run.nextRun != nil && now.Before(*run.nextRun) {
			continue
		}

		lastRun, err := t.tracker.GetLastRun(ctx, run.Pipeline)
		if err != nil {
			t.log.WithError(err).WithField("pipeline", run.Pipeline).Warn("Failed to get last run, will retry next tick")

			continue
		}

		// A pipeline that was never scheduled is due immediately.
		if !lastRun.IsZero() {
			nextRun := run.Schedule.Next(lastRun)
			run.nextRun = &nextRun

			if now.Before(nextRun) {
				continue
			}
		}

		if err := t.enqueue(run.Pipeline, now); err != nil {
			t.log.WithError(err).WithField("pipeline", run.Pipeline).Error("Failed to enqueue scheduled run")

			continue
		}

		if err := t.tracker.SetLastRun(ctx, run.Pipeline, now); err != nil {
			t.log.WithError(err).WithField("pipeline", run.Pipeline).Error("Failed to update last run timestamp")
		}

		nextRun := run.Schedule.Next(now)
		run.nextRun = &nextRun
	}
}

func (t *ticker) enqueue(name string, now time.Time) error {
	info, err := t.enqueuer.EnqueueRun(tasks.RunPayload{
		Pipeline:   name,
		Trigger:    pipeline.TriggerScheduled,
		EnqueuedAt: now,
	})
	if err != nil {
		// A run still in flight covers this slot.
		if errors.Is(err, tasks.ErrRunAlreadyQueued) {
			t.log.WithField("pipeline", name).Debug("Run already queued, skipping")

			return nil
		}

		return err
	}

	t.log.WithFields(logrus.Fields{
		"pipeline": name,
		"task_id":  info.ID,
		"queue":    info.Queue,
	}).Info("Enqueued scheduled run")

	return nil
}
