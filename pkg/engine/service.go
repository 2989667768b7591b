package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // pprof is intentionally exposed when pprofAddr is configured
	"time"

	"github.com/ethpandaops/chfs/pkg/api"
	"github.com/ethpandaops/chfs/pkg/api/handlers"
	"github.com/ethpandaops/chfs/pkg/functions"
	"github.com/ethpandaops/chfs/pkg/observability"
	"github.com/ethpandaops/chfs/pkg/pipeline"
	"github.com/ethpandaops/chfs/pkg/scheduler"
	"github.com/ethpandaops/chfs/pkg/tasks"
	"github.com/ethpandaops/chfs/pkg/worker"
	"github.com/sirupsen/logrus"
)

// Service runs the scheduler, worker and API around one pipeline
type Service struct {
	config *Config
	log    *logrus.Logger

	backends  *Backends
	runner    *pipeline.Runner
	queue     *tasks.QueueManager
	scheduler scheduler.Service
	worker    worker.Service
	api       api.Service

	// Servers
	healthServer *http.Server
	pprofServer  *http.Server
}

// NewService wires every component of the engine
func NewService(log *logrus.Logger, cfg *Config) (*Service, error) {
	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	backends, err := NewBackends(log, cfg, false)
	if err != nil {
		return nil, err
	}

	library, err := functions.NewLibrary(functions.Builtins()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create function library: %w", err)
	}

	runner, err := pipeline.NewRunner(log, cfg.Pipeline, backends.Clients, library.All()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline runner: %w", err)
	}

	queueName := cfg.Redis.PrefixQueue(tasks.QueuePipeline)
	queue := tasks.NewQueueManager(backends.AsynqOptions, queueName)

	schedulerService, err := scheduler.NewService(log, &cfg.Scheduler, backends.Redis, cfg.Redis.Prefix, queue, cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler service: %w", err)
	}

	handler := tasks.NewTaskHandler(log, map[string]tasks.Runner{cfg.Name: runner})

	workerService, err := worker.NewService(log, &cfg.Worker, backends.AsynqOptions, queueName, handler)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker service: %w", err)
	}

	apiService := api.NewService(&cfg.API, handlers.Dependencies{
		Online:      backends.Online,
		OnlineTable: cfg.Pipeline.OnlineTable,
		Library:     library,
		Registrar:   backends.Clients.Registrar,
		Queue:       queue,
		Tracker:     backends.Tracker,
		Pipeline:    cfg.Name,
	}, log)

	return &Service{
		log:    log,
		config: cfg,

		backends:  backends,
		runner:    runner,
		queue:     queue,
		scheduler: schedulerService,
		worker:    workerService,
		api:       apiService,
	}, nil
}

// Start initializes and starts the engine
func (a *Service) Start() error {
	a.log.WithField("pipeline", a.config.Name).Info("Starting chfs engine...")

	ctx := context.Background()

	// Start metrics server
	observability.StartMetricsServer(a.config.MetricsAddr)
	a.log.WithField("addr", a.config.MetricsAddr).Info("Started metrics server")

	if a.config.HealthCheckAddr != "" {
		a.startHealthCheck()
	}

	if a.config.PProfAddr != "" {
		a.startPProf()
	}

	if err := a.backends.Start(); err != nil {
		return err
	}

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	if err := a.worker.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	if err := a.api.Start(ctx); err != nil {
		return fmt.Errorf("failed to start API service: %w", err)
	}

	a.log.Info("chfs engine started successfully")

	return nil
}

// Stop gracefully shuts down the engine
func (a *Service) Stop() error {
	a.log.Info("Shutting down engine...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stopService := func(name string, stopFunc func() error) {
		if err := stopFunc(); err != nil {
			a.log.WithError(err).Errorf("Failed to stop %s", name)
		}
	}

	// 1. Stop scheduler first (stop creating new runs)
	if a.scheduler != nil {
		stopService("scheduler service", a.scheduler.Stop)
	}

	// 2. Stop worker (finish the in-flight run)
	if a.worker != nil {
		stopService("worker service", a.worker.Stop)
	}

	if a.api != nil {
		stopService("API service", a.api.Stop)
	}

	if a.queue != nil {
		stopService("queue client", a.queue.Close)
	}

	// Close backends last, nothing is using them now
	if a.backends != nil {
		if err := a.backends.Close(); err != nil {
			a.log.WithError(err).Error("Failed to close backends")
			return err
		}
	}

	if a.healthServer != nil {
		stopService("health check server", func() error { return a.healthServer.Shutdown(ctx) })
	}

	if a.pprofServer != nil {
		stopService("pprof server", func() error { return a.pprofServer.Shutdown(ctx) })
	}

	stopService("metrics server", func() error { return observability.StopMetricsServer(ctx) })

	return nil
}

func (a *Service) startHealthCheck() {
	a.log.WithField("addr", a.config.HealthCheckAddr).Info("Starting health check server")

	a.healthServer = &http.Server{
		Addr:              a.config.HealthCheckAddr,
		Handler:           a.healthMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := a.healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.WithError(err).Error("Health check server failed")
		}
	}()
}

// healthMux answers /health unconditionally and /ready once Redis responds
func (a *Service) healthMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if a.backends.Redis != nil {
			if err := a.backends.Redis.Ping(r.Context()).Err(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("redis unavailable"))

				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return mux
}

func (a *Service) startPProf() {
	a.log.WithField("addr", a.config.PProfAddr).Info("Starting pprof server")

	a.pprofServer = &http.Server{
		Addr:              a.config.PProfAddr,
		ReadHeaderTimeout: 120 * time.Second,
	}

	go func() {
		if err := a.pprofServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.WithError(err).Error("Pprof server failed")
		}
	}()
}
