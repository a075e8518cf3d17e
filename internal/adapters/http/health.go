package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/errgroup"
)

// Version is stamped at build time.
var Version = "dev"

// HealthHandler returns a basic liveness check.
func HealthHandler(deps *Dependencies) fiber.Handler {
	startedAt := time.Now()

	return func(c *fiber.Ctx) error {
		body := fiber.Map{
			"status":  "healthy",
			"uptime":  time.Since(startedAt).String(),
			"version": Version,
		}
		if deps.Maps != nil {
			body["map_sessions"] = deps.Maps.Sessions()
		}
		return c.JSON(body)
	}
}

// probe is one readiness check. A required probe that fails makes the
// service not ready; the others only degrade features.
type probe struct {
	name     string
	required bool
	check    func(ctx context.Context) string
}

func readinessProbes(deps *Dependencies) []probe {
	return []probe{
		{name: "database", required: true, check: func(ctx context.Context) string {
			if deps.DB == nil {
				return "not configured"
			}
			return pingStatus(deps.DB.Ping(ctx))
		}},
		{name: "nats", check: func(context.Context) string {
			switch {
			case deps.NATS == nil:
				return "not configured"
			case deps.NATS.IsConnected():
				return "ok"
			default:
				return "disconnected"
			}
		}},
		{name: "cache", check: func(ctx context.Context) string {
			if deps.Cache == nil {
				return "not configured"
			}
			return pingStatus(deps.Cache.Ping(ctx))
		}},
		// address search is unavailable without a key, coordinate search still works
		{name: "geocoder", check: func(context.Context) string {
			if deps.GeocoderReady {
				return "ok"
			}
			return "not configured"
		}},
	}
}

func pingStatus(err error) string {
	if err != nil {
		return "error: " + err.Error()
	}
	return "ok"
}

// ReadyHandler runs the readiness probes concurrently under one deadline.
func ReadyHandler(deps *Dependencies) fiber.Handler {
	probes := readinessProbes(deps)

	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
		defer cancel()

		results := make([]string, len(probes))
		var g errgroup.Group
		for i, p := range probes {
			g.Go(func() error {
				results[i] = p.check(ctx)
				return nil
			})
		}
		_ = g.Wait()

		checks := make(map[string]string, len(probes))
		ready := true
		for i, p := range probes {
			checks[p.name] = results[i]
			if p.required && results[i] != "ok" {
				ready = false
			}
		}

		if !ready {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not ready", "checks": checks})
		}
		return c.JSON(fiber.Map{"status": "ready", "checks": checks})
	}
}
