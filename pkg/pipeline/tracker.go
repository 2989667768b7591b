package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	chfsredis "github.com/ethpandaops/chfs/pkg/redis"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrRunNotFound is returned when a run is not tracked
var ErrRunNotFound = errors.New("pipeline run not found")

// Run statuses
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// runTTL bounds how long finished runs stay queryable
const runTTL = 7 * 24 * time.Hour

// RunSummary describes one pipeline run
type RunSummary struct {
	ID         string         `json:"id"`
	Trigger    string         `json:"trigger"`
	Status     string         `json:"status"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt *time.Time     `json:"finishedAt,omitempty"`
	Stages     []string       `json:"stages"`
	Rows       map[string]int `json:"rows"`
	Splits     map[string]int `json:"splits,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Tracker records pipeline runs
type Tracker interface {
	// Save stores the current state of a run and marks it as the latest
	Save(ctx context.Context, run *RunSummary) error
	// Get returns a run by id
	Get(ctx context.Context, id string) (*RunSummary, error)
	// Latest returns the most recently started run
	Latest(ctx context.Context) (*RunSummary, error)
}

// RedisTracker keeps run summaries in Redis
//
//	{prefix}:pipeline:run:{id}   run summary JSON
//	{prefix}:pipeline:latest     id of the latest run
type RedisTracker struct {
	log    logrus.FieldLogger
	redis  *redis.Client
	prefix string
}

var _ Tracker = (*RedisTracker)(nil)

// NewRedisTracker creates a Redis-backed run tracker
func NewRedisTracker(log logrus.FieldLogger, client *redis.Client, prefix string) *RedisTracker {
	return &RedisTracker{
		log:    log.WithField("component", "run_tracker"),
		redis:  client,
		prefix: prefix,
	}
}

func (r *RedisTracker) runKey(id string) string {
	return chfsredis.PrefixKey(r.prefix, "pipeline:run:"+id)
}

func (r *RedisTracker) latestKey() string {
	return chfsredis.PrefixKey(r.prefix, "pipeline:latest")
}

// Save stores the run and points the latest marker at it
func (r *RedisTracker) Save(ctx context.Context, run *RunSummary) error {
	b, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", run.ID, err)
	}

	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.runKey(run.ID), b, runTTL)
		pipe.Set(ctx, r.latestKey(), run.ID, 0)

		return nil
	})
	if err != nil {
		r.log.WithError(err).WithField("run_id", run.ID).Error("Failed to save run in Redis")

		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}

	r.log.WithFields(logrus.Fields{
		"run_id": run.ID,
		"status": run.Status,
	}).Debug("Saved run")

	return nil
}

// Get returns a run by id
func (r *RedisTracker) Get(ctx context.Context, id string) (*RunSummary, error) {
	val, err := r.redis.Get(ctx, r.runKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}

		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}

	var run RunSummary
	if err := json.Unmarshal(val, &run); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", id, err)
	}

	return &run, nil
}

// Latest returns the most recently started run
func (r *RedisTracker) Latest(ctx context.Context) (*RunSummary, error) {
	id, err := r.redis.Get(ctx, r.latestKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRunNotFound
		}

		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}

	return r.Get(ctx, id)
}
