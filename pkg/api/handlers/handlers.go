// Package handlers implements the request handlers of the feature serving API.
package handlers

import (
	"context"

	"github.com/ethpandaops/chfs/pkg/frame"
	"github.com/ethpandaops/chfs/pkg/functions"
	"github.com/ethpandaops/chfs/pkg/pipeline"
	"github.com/ethpandaops/chfs/pkg/tasks"
	"github.com/gofiber/fiber/v3"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// OnlineReader reads entity snapshots from the online table
type OnlineReader interface {
	Lookup(ctx context.Context, table, key string) (frame.Record, error)
}

// RunEnqueuer queues pipeline runs
type RunEnqueuer interface {
	EnqueueRun(payload tasks.RunPayload, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Dependencies are the services the handlers read from. Nil services
// disable the routes that need them.
type Dependencies struct {
	Online      OnlineReader
	OnlineTable string
	Library     *functions.Library
	Registrar   functions.Registrar
	Queue       RunEnqueuer
	Tracker     pipeline.Tracker
	Pipeline    string
}

// Server serves features, on-demand functions and pipeline runs
type Server struct {
	deps Dependencies
	log  logrus.FieldLogger
}

// NewServer creates a new API server instance
func NewServer(deps Dependencies, log logrus.FieldLogger) *Server {
	return &Server{
		deps: deps,
		log:  log.WithField("component", "api.handlers"),
	}
}

// Register mounts every route on router
func (s *Server) Register(router fiber.Router) {
	router.Get("/features/:customer_id", s.GetFeatures)
	router.Get("/functions", s.ListFunctions)
	router.Post("/functions/:name/evaluate", s.EvaluateFunction)
	router.Post("/runs", s.CreateRun)
	router.Get("/runs/latest", s.GetLatestRun)
	router.Get("/runs/:run_id", s.GetRun)
}
