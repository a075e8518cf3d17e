package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// CachingMiddleware sets Cache-Control headers on GET responses based on endpoint.
// Handlers that set their own header win.
func CachingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		// Only set on GET requests
		if c.Method() != fiber.MethodGet {
			return err
		}
		if existing := c.GetRespHeader(fiber.HeaderCacheControl); existing != "" {
			return err
		}

		path := c.Path()
		var ttl string

		// Default cache times by endpoint pattern
		switch {
		case path == "/v1/health" || path == "/v1/ready":
			ttl = "public, max-age=10" // Very short for system checks

		case path == "/metrics":
			ttl = "no-cache" // Metrics are real-time

		case strings.HasPrefix(path, "/v1/map/") || strings.HasPrefix(path, "/ws/"):
			ttl = "no-store" // live session state

		case path == "/v1/pricing":
			ttl = "public, max-age=86400" // fixed tables

		case path == "/v1/heatmap":
			ttl = "private, max-age=300" // matches the aggregate cache

		case path == "/v1/geocode":
			ttl = "public, max-age=3600" // 1 hour, addresses rarely move

		case path == "/v1/search" || path == "/v1/screens/nearby":
			ttl = "private, max-age=60" // 1 min, prices depend on the query

		case strings.HasPrefix(path, "/v1/screens"):
			ttl = "public, max-age=300" // 5 min for inventory

		case strings.HasPrefix(path, "/v1/"):
			ttl = "public, max-age=60" // 1 min default for API endpoints
		}

		if ttl != "" {
			c.Set(fiber.HeaderCacheControl, ttl)
		}

		return err
	}
}
