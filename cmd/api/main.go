package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/tvdoutor/screenfinder/internal/adapters/geocoder"
	"github.com/tvdoutor/screenfinder/internal/adapters/http"
	natsadapter "github.com/tvdoutor/screenfinder/internal/adapters/nats"
	"github.com/tvdoutor/screenfinder/internal/adapters/postgres"
	"github.com/tvdoutor/screenfinder/internal/adapters/valkey"
	"github.com/tvdoutor/screenfinder/internal/core/domain"
	"github.com/tvdoutor/screenfinder/internal/core/ports"
	"github.com/tvdoutor/screenfinder/internal/core/usecases"
	"github.com/tvdoutor/screenfinder/internal/pkg/aggcache"
	"github.com/tvdoutor/screenfinder/internal/pkg/config"
	"github.com/tvdoutor/screenfinder/internal/pkg/logging"
	"github.com/tvdoutor/screenfinder/internal/pkg/mapview"
	"github.com/tvdoutor/screenfinder/internal/pkg/telemetry"
)

func main() {
	cfg, err := config.Load("screenfinder-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logging.Setup(cfg.Log.Level, cfg.Log.Format, "service", "screenfinder-api")
	for _, w := range cfg.Warnings() {
		slog.Warn(w)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown(context.Background())
		}
	}

	// Database
	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	go db.ReportPoolStats(ctx, 15*time.Second)

	// Cache (shared heatmap tier)
	heatmapOpts := []aggcache.Option{aggcache.WithKeyPrefix("screenfinder:")}
	cache, err := valkey.New(ctx, cfg.Valkey)
	if err != nil {
		slog.Warn("valkey unavailable, heatmap cache is process-local", "error", err)
	} else {
		defer cache.Close()
		heatmapOpts = append(heatmapOpts, aggcache.WithRemote(cache))
	}

	// NATS
	var (
		publisher ports.EventPublisher
		sinks     usecases.SinkFactory
	)
	nc, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable, search events and live map streams disabled", "error", err)
	} else {
		defer nc.Close()
		publisher = nc
		sinks = func(id string) mapview.Sink { return nc.MapSink(id) }
	}

	// Geocoder
	geo := geocoder.NewGoogle(cfg.Geocoder.APIKey,
		geocoder.WithBaseURL(cfg.Geocoder.BaseURL),
		geocoder.WithRegion(cfg.Geocoder.Region),
		geocoder.WithLanguage(cfg.Geocoder.Language),
		geocoder.WithTimeout(cfg.Geocoder.Timeout),
		geocoder.WithRateLimit(cfg.Geocoder.RateLimit, cfg.Geocoder.Burst),
	)

	// Use cases
	searchSvc := usecases.NewSearchService(postgres.NewScreenRepo(db), geo, publisher, cfg.Search.Timeout)
	heatmapSvc := usecases.NewHeatmapService(
		postgres.NewHeatmapRepo(db),
		aggcache.New[*domain.HeatmapPayload]("heatmap", heatmapOpts...),
		cfg.Heatmap.H3Resolution,
	)
	mapSvc := usecases.NewMapService(searchSvc, sinks, usecases.MapConfig{
		AddressInterval:  cfg.Debounce.AddressInterval,
		AddressMinLength: cfg.Debounce.AddressMinLength,
		FilterInterval:   cfg.Debounce.FilterInterval,
		Timeout:          cfg.Debounce.Timeout,
		MaxSessions:      cfg.MapView.MaxSessions,
		View: mapview.Options{
			Center: domain.Coordinate{Lat: cfg.MapView.CenterLat, Lng: cfg.MapView.CenterLng},
			Zoom:   cfg.MapView.Zoom,
			Fit:    mapview.FitOptions{Padding: cfg.MapView.FitPadding, MaxZoom: cfg.MapView.FitMaxZoom},
		},
	})
	defer mapSvc.CloseAll()

	deps := &http.Dependencies{
		Search:        searchSvc,
		Heatmap:       heatmapSvc,
		Maps:          mapSvc,
		GeocoderReady: strings.TrimSpace(cfg.Geocoder.APIKey) != "",
		DB:            db,
		Cache:         cache,
	}

	if nc != nil {
		deps.NATS = nc.Conn()
		sub, err := natsadapter.NewSubscriber(nc.Conn())
		if err != nil {
			slog.Warn("nats subscriber unavailable", "error", err)
		} else {
			defer sub.Close()
			deps.MapEvents = sub
			if err := sub.SubscribeHeatmapWarmed(heatmapSvc.Forget); err != nil {
				slog.Warn("heatmap warmup announcements unavailable", "error", err)
			}
		}
	}

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    64 * 1024,
		AppName:      "Screenfinder API",
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "http://localhost:3000, http://localhost:5173, https://*.tvdoutor.com.br",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		ExposeHeaders:    "Location, Link, Deprecation, Sunset",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	// Give in-flight requests up to 10s to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}
