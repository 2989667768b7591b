package handlers

import "github.com/gofiber/fiber/v3"

// ErrEntityNotFound is returned when the online table has no snapshot for a key
var ErrEntityNotFound = fiber.NewError(fiber.StatusNotFound, "entity not found")

// ErrOnlineTableNotFound is returned when the online table has not been published
var ErrOnlineTableNotFound = fiber.NewError(fiber.StatusNotFound, "online table not found")

// ErrFunctionNotFound is returned when a function is not in the library
var ErrFunctionNotFound = fiber.NewError(fiber.StatusNotFound, "function not found")

// ErrRunNotFound is returned when no pipeline run is recorded
var ErrRunNotFound = fiber.NewError(fiber.StatusNotFound, "pipeline run not found")

// ErrRunAlreadyQueued is returned when a run of the pipeline is queued or active
var ErrRunAlreadyQueued = fiber.NewError(fiber.StatusConflict, "pipeline run already queued")

// ErrInvalidBody is returned when the request body is not a JSON object
var ErrInvalidBody = fiber.NewError(fiber.StatusBadRequest, "request body must be a JSON object")

// ErrUnavailable is returned when the route's backing service is not configured
var ErrUnavailable = fiber.NewError(fiber.StatusServiceUnavailable, "service not configured")

func invalidArguments(err error) error {
	return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
}
