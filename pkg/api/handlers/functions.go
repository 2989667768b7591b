package handlers

import (
	"bytes"
	"encoding/json"

	"github.com/ethpandaops/chfs/pkg/functions"
	"github.com/gofiber/fiber/v3"
)

// FunctionsResponse lists the on-demand functions
type FunctionsResponse struct {
	Functions []functions.Info `json:"functions"`
	Total     int              `json:"total"`
}

// EvaluateResponse is the result of one function evaluation
type EvaluateResponse struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// ListFunctions handles GET /functions. Registered functions are listed
// when a registrar is configured, otherwise the in-process library.
func (s *Server) ListFunctions(c fiber.Ctx) error {
	var infos []functions.Info

	switch {
	case s.deps.Registrar != nil:
		registered, err := s.deps.Registrar.ListFunctions(c.Context())
		if err != nil {
			s.log.WithError(err).Error("Failed to list registered functions")
			return err
		}

		infos = registered
	case s.deps.Library != nil:
		infos = s.deps.Library.Infos()
	default:
		return ErrUnavailable
	}

	if infos == nil {
		infos = []functions.Info{}
	}

	return c.Status(fiber.StatusOK).JSON(FunctionsResponse{
		Functions: infos,
		Total:     len(infos),
	})
}

// EvaluateFunction handles POST /functions/{name}/evaluate with a JSON
// object of arguments keyed by parameter name
func (s *Server) EvaluateFunction(c fiber.Ctx) error {
	if s.deps.Library == nil {
		return ErrUnavailable
	}

	args := map[string]any{}

	if body := c.Body(); len(bytes.TrimSpace(body)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()

		if err := dec.Decode(&args); err != nil {
			return ErrInvalidBody
		}
	}

	name := c.Params("name")

	value, err := s.deps.Library.Evaluate(name, args)
	if err != nil {
		return functionError(err)
	}

	return c.Status(fiber.StatusOK).JSON(EvaluateResponse{Name: name, Value: value})
}
