package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	chfsredis "github.com/ethpandaops/chfs/pkg/redis"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// scheduleTracker records when each pipeline was last scheduled
type scheduleTracker interface {
	// GetLastRun returns zero time if the pipeline was never scheduled
	GetLastRun(ctx context.Context, pipeline string) (time.Time, error)
	SetLastRun(ctx context.Context, pipeline string, timestamp time.Time) error
}

// redisScheduleTracker keeps the timestamps under {prefix}:scheduler:run:{pipeline}
type redisScheduleTracker struct {
	log    logrus.FieldLogger
	redis  *redis.Client
	prefix string
}

func newScheduleTracker(log logrus.FieldLogger, redisClient *redis.Client, prefix string) scheduleTracker {
	return &redisScheduleTracker{
		log:    log.WithField("component", "schedule_tracker"),
		redis:  redisClient,
		prefix: prefix,
	}
}

func (r *redisScheduleTracker) key(pipeline string) string {
	return chfsredis.PrefixKey(r.prefix, "scheduler:run:"+pipeline)
}

func (r *redisScheduleTracker) GetLastRun(ctx context.Context, pipeline string) (time.Time, error) {
	val, err := r.redis.Get(ctx, r.key(pipeline)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			r.log.WithField("pipeline", pipeline).Debug("No last run found for pipeline")

			return time.Time{}, nil
		}

		return time.Time{}, fmt.Errorf("failed to get last run for %s: %w", pipeline, err)
	}

	timestamp, err := time.Parse(time.RFC3339, val)
	if err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"pipeline":  pipeline,
			"raw_value": val,
		}).Error("Failed to parse timestamp")

		return time.Time{}, fmt.Errorf("failed to parse timestamp for %s: %w", pipeline, err)
	}

	return timestamp, nil
}

func (r *redisScheduleTracker) SetLastRun(ctx context.Context, pipeline string, timestamp time.Time) error {
	if err := r.redis.Set(ctx, r.key(pipeline), timestamp.UTC().Format(time.RFC3339), 0).Err(); err != nil {
		return fmt.Errorf("failed to set last run for %s: %w", pipeline, err)
	}

	r.log.WithFields(logrus.Fields{
		"pipeline":  pipeline,
		"timestamp": timestamp,
	}).Debug("Updated last run for pipeline")

	return nil
}

// Verify interface compliance at compile time
var _ scheduleTracker = (*redisScheduleTracker)(nil)
