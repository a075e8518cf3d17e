package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/tvdoutor/screenfinder/internal/pkg/metrics"
)

// NearbySunset is when the /v1/screens/nearby alias goes away.
var NearbySunset = time.Date(2027, 6, 30, 0, 0, 0, 0, time.UTC)

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	// Prometheus metrics
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	app.Use(requestid.New())

	// Propagate request ID into slog context
	app.Use(RequestIDLogMiddleware())

	app.Use(AccessLogMiddleware())

	// Rate limiting: 120 requests per minute per IP. Keystroke input is
	// debounced server-side, so it shares the same budget.
	app.Use(limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		Next: func(c *fiber.Ctx) bool {
			return websocket.IsWebSocketUpgrade(c)
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(429).JSON(fiber.Map{
				"error":   "rate limit exceeded",
				"message": "too many requests, please try again later",
			})
		},
	}))

	// Security headers + API version
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	app.Use(ETagMiddleware())
	app.Use(CachingMiddleware())
	app.Use(DeprecationMiddleware([]DeprecatedRoute{
		{Path: "/v1/screens/nearby", SunsetDate: NearbySunset, Alternative: "/v1/search"},
	}))

	// Health & readiness (no timeout, fast internal checks)
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	// REST API v1, 15s per-request timeout
	v1 := app.Group("/v1")
	v1.Get("/search", timeout.NewWithContext(SearchHandler(deps), 15*time.Second))
	v1.Get("/geocode", timeout.NewWithContext(GeocodeHandler(deps), 15*time.Second))
	v1.Get("/screens/nearby", timeout.NewWithContext(SearchHandler(deps), 15*time.Second))
	v1.Get("/screens", timeout.NewWithContext(ListScreensHandler(deps), 15*time.Second))
	v1.Get("/screens/:id", timeout.NewWithContext(GetScreenHandler(deps), 15*time.Second))
	v1.Get("/pricing", PricingHandler(deps))
	v1.Get("/heatmap", timeout.NewWithContext(HeatmapHandler(deps), 15*time.Second))

	// Live map sessions. Searches run asynchronously, so these never block.
	maps := v1.Group("/map/sessions")
	maps.Post("/", OpenMapSessionHandler(deps))
	maps.Get("/:id", GetMapSessionHandler(deps))
	maps.Delete("/:id", CloseMapSessionHandler(deps))
	maps.Post("/:id/input", MapInputHandler(deps))
	maps.Post("/:id/submit", MapSubmitHandler(deps))
	maps.Put("/:id/viewport", MapViewportHandler(deps))
	maps.Delete("/:id/search", ClearMapSearchHandler(deps))

	app.Post("/graphql", GraphQLHandler(deps))

	SetupDocs(app)

	app.Use("/ws/map/:id", MapSocketGuard(deps))
	app.Get("/ws/map/:id", websocket.New(MapSocketHandler(deps)))
}
