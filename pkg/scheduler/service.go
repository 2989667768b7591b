package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Service defines the public interface for the scheduler
type Service interface {
	// Start joins leader election; the leader schedules runs
	Start(ctx context.Context) error

	// Stop gracefully shuts down the scheduler service
	Stop() error
}

// service schedules pipeline runs while this instance is the leader
type service struct {
	log logrus.FieldLogger
	cfg *Config

	done chan struct{}
	wg   sync.WaitGroup

	elector LeaderElector
	ticker  *ticker
}

// NewService creates a scheduler enqueueing a run of each named pipeline on
// the configured schedule
func NewService(log logrus.FieldLogger, cfg *Config, redisClient *redis.Client, prefix string, enqueuer Enqueuer, pipelines ...string) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	runs := make([]scheduledRun, 0, len(pipelines))

	if cfg.Enabled {
		sched, err := ParseSchedule(cfg.Schedule)
		if err != nil {
			return nil, err
		}

		for _, name := range pipelines {
			runs = append(runs, scheduledRun{Pipeline: name, Schedule: sched})
		}
	}

	log = log.WithField("service", "scheduler")

	return &service{
		log:     log,
		cfg:     cfg,
		done:    make(chan struct{}),
		elector: NewLeaderElector(log, redisClient, prefix),
		ticker:  newTicker(log, newScheduleTracker(log, redisClient, prefix), enqueuer, runs),
	}, nil
}

// Start initializes and starts the scheduler service
func (s *service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.log.Info("Scheduler disabled")

		return nil
	}

	if err := s.elector.Start(ctx); err != nil {
		return fmt.Errorf("failed to start leader election: %w", err)
	}

	s.wg.Add(1)
	go s.handleLeaderElection(ctx)

	s.log.WithField("schedule", s.cfg.Schedule).Info("Scheduler service started (participating in leader election)")

	return nil
}

// Stop gracefully shuts down the scheduler service
func (s *service) Stop() error {
	if !s.cfg.Enabled {
		return nil
	}

	close(s.done)

	if err := s.elector.Stop(); err != nil {
		s.log.WithError(err).Warn("Failed to stop leader elector")
	}

	s.wg.Wait()

	s.log.Info("Scheduler service stopped successfully")

	return nil
}

// handleLeaderElection runs the ticker while this instance is the leader
func (s *service) handleLeaderElection(ctx context.Context) {
	defer s.wg.Done()

	var (
		stopTicker context.CancelFunc
		tickerDone chan struct{}
	)

	halt := func() {
		if stopTicker == nil {
			return
		}

		stopTicker()
		<-tickerDone
		stopTicker = nil
	}
	defer halt()

	for {
		select {
		case <-s.done:
			return

		case <-ctx.Done():
			return

		case <-s.elector.Promoted():
			if stopTicker != nil {
				s.log.Warn("Received promotion but ticker already running")

				continue
			}

			s.log.Info("Promoted to scheduler leader - starting ticker")

			var tickerCtx context.Context
			tickerCtx, stopTicker = context.WithCancel(ctx)
			tickerDone = make(chan struct{})

			go func(done chan struct{}) {
				defer close(done)
				s.ticker.Run(tickerCtx)
			}(tickerDone)

		case <-s.elector.Demoted():
			s.log.Info("Demoted from scheduler leader - stopping ticker")
			halt()
		}
	}
}

// Ensure service implements the interface
var _ Service = (*service)(nil)
