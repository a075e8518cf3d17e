package http

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// AccessLogMiddleware writes one structured line per request through the
// request-scoped logger, so request and map session ids come along.
//
// Map keystroke input and probe traffic log at debug: they arrive at a rate
// that would drown everything else.
func AccessLogMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		path := c.Path()
		method := c.Method()

		err := c.Next()

		status := c.Response().StatusCode()
		attrs := []slog.Attr{
			slog.String("method", method),
			slog.String("path", path),
			slog.String("route", c.Route().Path),
			slog.Int("status", status),
			slog.Float64("latency_ms", float64(time.Since(start).Microseconds())/1000),
			slog.Int("bytes_out", len(c.Response().Body())),
			slog.String("ip", c.IP()),
		}

		logger := LoggerFromCtx(c.UserContext())
		if RequestIDFromCtx(c.UserContext()) == "" {
			attrs = append(attrs, slog.String("request_id", c.Get(fiber.HeaderXRequestID, "unknown")))
		}

		level := accessLevel(path, status)
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
			level = slog.LevelError
		}

		logger.LogAttrs(c.UserContext(), level, method+" "+path, attrs...)
		return err
	}
}

func accessLevel(path string, status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	case strings.HasSuffix(path, "/input"),
		path == "/metrics",
		strings.HasPrefix(path, "/v1/health"),
		strings.HasPrefix(path, "/v1/ready"):
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
