package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tvdoutor/screenfinder/internal/core/domain"
	"github.com/tvdoutor/screenfinder/internal/core/usecases"
)

type openMapRequest struct {
	Container string `json:"container"`
}

type fieldRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type viewportRequest struct {
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
	Zoom int     `json:"zoom"`
}

// OpenMapSessionHandler starts a live map session and returns its snapshot.
func OpenMapSessionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req openMapRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return errBadRequest(c, "invalid request body")
			}
		}
		if req.Container == "" {
			req.Container = "map"
		}

		id, err := deps.Maps.Open(c.UserContext(), req.Container)
		if err != nil {
			return errDomain(c, err)
		}
		snap, err := deps.Maps.Snapshot(id)
		if err != nil {
			return errDomain(c, err)
		}
		c.Location("/v1/map/sessions/" + id)
		return c.Status(fiber.StatusCreated).JSON(snap)
	}
}

// GetMapSessionHandler returns the visible state of a session.
func GetMapSessionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		snap, err := deps.Maps.Snapshot(c.Params("id"))
		if err != nil {
			return errDomain(c, err)
		}
		return c.JSON(snap)
	}
}

// CloseMapSessionHandler tears a session down.
func CloseMapSessionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := deps.Maps.Close(c.Params("id")); err != nil {
			return errDomain(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// MapInputHandler feeds a keystroke-level change; the search runs after the
// field's quiet period and its result arrives on the session's event stream.
func MapInputHandler(deps *Dependencies) fiber.Handler {
	return mapFieldHandler(deps, deps.Maps.Input)
}

// MapSubmitHandler runs a field's search immediately.
func MapSubmitHandler(deps *Dependencies) fiber.Handler {
	return mapFieldHandler(deps, deps.Maps.Submit)
}

func mapFieldHandler(deps *Dependencies, apply func(id string, field usecases.MapField, value string) error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req fieldRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if err := apply(c.Params("id"), usecases.MapField(req.Field), req.Value); err != nil {
			return errDomain(c, err)
		}
		return c.SendStatus(fiber.StatusAccepted)
	}
}

// MapViewportHandler records a pan or zoom made in the browser.
func MapViewportHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req viewportRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if req.Zoom < 0 || req.Zoom > 22 {
			return errBadRequest(c, "zoom must be between 0 and 22")
		}
		err := deps.Maps.SetViewport(c.Params("id"), domain.Coordinate{Lat: req.Lat, Lng: req.Lng}, req.Zoom)
		if err != nil {
			return errDomain(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// ClearMapSearchHandler drops the session's search layers.
func ClearMapSearchHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := deps.Maps.ClearSearch(c.Params("id")); err != nil {
			return errDomain(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}
