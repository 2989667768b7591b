// Package worker runs queued pipeline run tasks
package worker

import (
	"context"
	"fmt"

	"github.com/ethpandaops/chfs/pkg/tasks"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// Service defines the public interface for the worker service
type Service interface {
	// Start initializes and starts the worker service
	Start(ctx context.Context) error

	// Stop gracefully shuts down the worker service
	Stop() error
}

// service encapsulates the worker application logic
type service struct {
	config *Config
	log    logrus.FieldLogger

	handler  *tasks.TaskHandler
	queue    string
	redisOpt asynq.RedisConnOpt

	server *asynq.Server
}

// NewService creates a worker consuming pipeline runs from queue
func NewService(log logrus.FieldLogger, cfg *Config, redisOpt asynq.RedisConnOpt, queue string, handler *tasks.TaskHandler) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &service{
		log:      log.WithField("service", "worker"),
		config:   cfg,
		handler:  handler,
		queue:    queue,
		redisOpt: redisOpt,
	}, nil
}

func (s *service) queues() map[string]int {
	return map[string]int{s.queue: 10}
}

func (s *service) mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	for taskType, handlerFunc := range s.handler.Routes() {
		mux.HandleFunc(taskType, handlerFunc)
	}

	return mux
}

// Start initializes and starts the worker service
func (s *service) Start(_ context.Context) error {
	s.log.WithFields(logrus.Fields{
		"queue":       s.queue,
		"concurrency": s.config.Concurrency,
	}).Info("Starting worker service")

	srv := asynq.NewServer(s.redisOpt, asynq.Config{
		Concurrency:     s.config.Concurrency,
		Queues:          s.queues(),
		ShutdownTimeout: s.config.ShutdownTimeout,
		RetryDelayFunc:  s.config.retryDelayFunc(),
		Logger:          newAsynqLogger(s.log),
	})

	if err := srv.Start(s.mux()); err != nil {
		return fmt.Errorf("failed to start worker server: %w", err)
	}

	s.server = srv

	s.log.Info("Worker service started successfully")

	return nil
}

// Stop gracefully shuts down the worker application
func (s *service) Stop() error {
	if s.server != nil {
		s.server.Shutdown()
	}

	s.log.Info("Worker service stopped successfully")

	return nil
}

// Ensure service implements the interface
var _ Service = (*service)(nil)
