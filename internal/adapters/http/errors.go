package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/tvdoutor/screenfinder/internal/core/domain"
	"github.com/tvdoutor/screenfinder/internal/core/usecases"
)

// APIError is a structured error response.
type APIError struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`    // Error code: bad_request, not_found, internal_error, etc.
	Message   string `json:"message"` // Human-readable message
	RequestID string `json:"request_id,omitempty"`
}

// newError builds a JSON error response with a request ID.
func newError(c *fiber.Ctx, status int, code string, message string) error {
	reqID, _ := c.Locals("requestid").(string)
	return c.Status(status).JSON(APIError{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: reqID,
	})
}

// errBadRequest returns a 400 error.
func errBadRequest(c *fiber.Ctx, msg string) error {
	return newError(c, fiber.StatusBadRequest, "bad_request", msg)
}

// errNotFound returns a 404 error.
func errNotFound(c *fiber.Ctx, msg string) error {
	return newError(c, fiber.StatusNotFound, "not_found", msg)
}

// errInternal returns a 500 error.
func errInternal(c *fiber.Ctx, msg string) error {
	return newError(c, fiber.StatusInternalServerError, "internal_error", msg)
}

// errDomain maps a service error onto the API error contract.
func errDomain(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return errBadRequest(c, err.Error())
	case errors.Is(err, domain.ErrNoMatch):
		return errNotFound(c, "address not found")
	case errors.Is(err, domain.ErrNotFound):
		return errNotFound(c, err.Error())
	case errors.Is(err, domain.ErrConfiguration):
		LoggerFromCtx(c.UserContext()).Error("geocoder misconfigured", "error", err)
		return newError(c, fiber.StatusServiceUnavailable, "configuration_error", "geocoding is not configured")
	case errors.Is(err, domain.ErrProviderUnavailable):
		LoggerFromCtx(c.UserContext()).Warn("geocoder unavailable", "error", err)
		return newError(c, fiber.StatusBadGateway, "provider_unavailable", "geocoding provider unavailable, try again")
	case errors.Is(err, domain.ErrSearchUnavailable):
		LoggerFromCtx(c.UserContext()).Error("search failed", "error", err)
		return newError(c, fiber.StatusServiceUnavailable, "search_unavailable", "screen search unavailable, try again")
	case errors.Is(err, usecases.ErrSessionLimit):
		return newError(c, fiber.StatusTooManyRequests, "session_limit", err.Error())
	default:
		LoggerFromCtx(c.UserContext()).Error("request failed", "error", err)
		return errInternal(c, "internal error")
	}
}
