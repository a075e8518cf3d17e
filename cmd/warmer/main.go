package main

import (
	"context"
	"log"
	"log/slog"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	natsadapter "github.com/tvdoutor/screenfinder/internal/adapters/nats"
	"github.com/tvdoutor/screenfinder/internal/adapters/postgres"
	"github.com/tvdoutor/screenfinder/internal/adapters/valkey"
	"github.com/tvdoutor/screenfinder/internal/core/domain"
	"github.com/tvdoutor/screenfinder/internal/core/usecases"
	"github.com/tvdoutor/screenfinder/internal/pkg/aggcache"
	"github.com/tvdoutor/screenfinder/internal/pkg/config"
	"github.com/tvdoutor/screenfinder/internal/pkg/logging"
	"github.com/tvdoutor/screenfinder/internal/workflows"
)

const workflowID = "screenfinder-heatmap-warmup"

func main() {
	cfg, err := config.Load("screenfinder-warmer")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format, "service", "screenfinder-warmer")

	ctx := context.Background()

	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	// Warming only pays off when the API reads the same shared tier.
	cache, err := valkey.New(ctx, cfg.Valkey)
	if err != nil {
		log.Fatalf("valkey: %v", err)
	}
	defer cache.Close()

	heatmapSvc := usecases.NewHeatmapService(
		postgres.NewHeatmapRepo(db),
		aggcache.New[*domain.HeatmapPayload]("heatmap_warmer",
			aggcache.WithKeyPrefix("screenfinder:"),
			aggcache.WithRemote(cache),
		),
		cfg.Heatmap.H3Resolution,
	)

	acts := &workflows.HeatmapActivities{Heatmap: heatmapSvc}
	if nc, err := natsadapter.NewPublisher(cfg.NATS.URL); err != nil {
		slog.Warn("nats unavailable, warmed heatmaps are not announced", "error", err)
	} else {
		defer nc.Close()
		acts.Publisher = nc
	}

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    slog.Default(),
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.HeatmapWarmupWorkflow)
	w.RegisterActivity(acts)

	presets := make([]workflows.WarmPreset, 0, len(cfg.Heatmap.Presets))
	for _, p := range cfg.Heatmap.Presets {
		presets = append(presets, workflows.WarmPreset{City: p.City, Class: p.Class, Days: p.Days, Normalize: p.Normalize})
	}

	// A running execution with the same id is reused.
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: cfg.Temporal.TaskQueue,
	}, workflows.HeatmapWarmupWorkflow, workflows.HeatmapWarmupInput{
		Presets:  presets,
		Interval: cfg.Temporal.WarmInterval,
	})
	if err != nil {
		log.Fatalf("start warmup workflow: %v", err)
	}
	slog.Info("heatmap warmer started", "workflow_id", run.GetID(), "run_id", run.GetRunID(), "presets", len(presets))

	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker: %v", err)
	}
}
