package handlers

import (
	"errors"
	"time"

	"github.com/ethpandaops/chfs/pkg/pipeline"
	"github.com/ethpandaops/chfs/pkg/tasks"
	"github.com/gofiber/fiber/v3"
)

// RunQueuedResponse acknowledges a queued pipeline run
type RunQueuedResponse struct {
	TaskID   string `json:"task_id"`
	Queue    string `json:"queue"`
	Pipeline string `json:"pipeline"`
}

// CreateRun handles POST /runs
func (s *Server) CreateRun(c fiber.Ctx) error {
	if s.deps.Queue == nil {
		return ErrUnavailable
	}

	info, err := s.deps.Queue.EnqueueRun(tasks.RunPayload{
		Pipeline:   s.deps.Pipeline,
		Trigger:    pipeline.TriggerAPI,
		EnqueuedAt: time.Now().UTC(),
	})
	switch {
	case errors.Is(err, tasks.ErrRunAlreadyQueued):
		return ErrRunAlreadyQueued
	case err != nil:
		s.log.WithError(err).Error("Failed to enqueue pipeline run")
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(RunQueuedResponse{
		TaskID:   info.ID,
		Queue:    info.Queue,
		Pipeline: s.deps.Pipeline,
	})
}

// GetLatestRun handles GET /runs/latest
func (s *Server) GetLatestRun(c fiber.Ctx) error {
	if s.deps.Tracker == nil {
		return ErrUnavailable
	}

	run, err := s.deps.Tracker.Latest(c.Context())

	return s.runResponse(c, run, err)
}

// GetRun handles GET /runs/{run_id}
func (s *Server) GetRun(c fiber.Ctx) error {
	if s.deps.Tracker == nil {
		return ErrUnavailable
	}

	run, err := s.deps.Tracker.Get(c.Context(), c.Params("run_id"))

	return s.runResponse(c, run, err)
}

func (s *Server) runResponse(c fiber.Ctx, run *pipeline.RunSummary, err error) error {
	switch {
	case errors.Is(err, pipeline.ErrRunNotFound):
		return ErrRunNotFound
	case err != nil:
		s.log.WithError(err).Error("Failed to read pipeline run")
		return err
	}

	return c.Status(fiber.StatusOK).JSON(run)
}
