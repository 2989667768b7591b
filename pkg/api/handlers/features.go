package handlers

import (
	"errors"
	"strings"

	"github.com/ethpandaops/chfs/pkg/frame"
	"github.com/ethpandaops/chfs/pkg/functions"
	"github.com/ethpandaops/chfs/pkg/online"
	"github.com/gofiber/fiber/v3"
)

// FeaturesResponse is the latest feature snapshot of one customer plus any
// requested on-demand function values
type FeaturesResponse struct {
	Table     string             `json:"table"`
	Key       string             `json:"key"`
	Features  frame.Record       `json:"features"`
	Functions map[string]float64 `json:"functions,omitempty"`
}

// GetFeatures handles GET /features/{customer_id}?functions=a,b
func (s *Server) GetFeatures(c fiber.Ctx) error {
	if s.deps.Online == nil || s.deps.OnlineTable == "" {
		return ErrUnavailable
	}

	key := c.Params("customer_id")

	rec, err := s.deps.Online.Lookup(c.Context(), s.deps.OnlineTable, key)
	switch {
	case errors.Is(err, online.ErrEntityNotFound):
		return ErrEntityNotFound
	case errors.Is(err, online.ErrTableNotFound):
		return ErrOnlineTableNotFound
	case err != nil:
		s.log.WithError(err).WithField("key", key).Error("Failed to look up features")
		return err
	}

	response := FeaturesResponse{
		Table:    s.deps.OnlineTable,
		Key:      key,
		Features: rec,
	}

	names := parseList(c.Query("functions"))
	if len(names) > 0 {
		if s.deps.Library == nil {
			return ErrUnavailable
		}

		response.Functions = make(map[string]float64, len(names))

		for _, name := range names {
			value, err := s.deps.Library.EvaluateRecord(name, rec)
			if err != nil {
				return functionError(err)
			}

			response.Functions[name] = value
		}
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

func parseList(raw string) []string {
	var out []string

	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}

func functionError(err error) error {
	switch {
	case errors.Is(err, functions.ErrFunctionNotFound):
		return ErrFunctionNotFound
	case errors.Is(err, functions.ErrMissingArgument),
		errors.Is(err, functions.ErrNonNumericArg),
		errors.Is(err, functions.ErrNoEvaluator):
		return invalidArguments(err)
	default:
		return err
	}
}
