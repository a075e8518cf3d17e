package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tvdoutor/screenfinder/internal/adapters/postgres"
	"github.com/tvdoutor/screenfinder/internal/pkg/config"
	"github.com/tvdoutor/screenfinder/internal/pkg/inventory"
	"github.com/tvdoutor/screenfinder/internal/pkg/logging"
	"github.com/tvdoutor/screenfinder/internal/pkg/metrics"
)

const batchSize = 500

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: importer <inventory.json|.csv|.geojson>...")
		os.Exit(2)
	}

	cfg, err := config.Load("screenfinder-importer")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format, "service", "screenfinder-importer")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	repo := postgres.NewScreenRepo(db)

	failed := false
	for _, path := range os.Args[1:] {
		n, err := importFile(ctx, repo, path)
		if err != nil {
			slog.Error("import failed", "file", path, "imported", n, "error", err)
			failed = true
			continue
		}
		slog.Info("file imported", "file", path, "screens", n)
	}
	if failed {
		os.Exit(1)
	}
	slog.Info("import complete")
}

func importFile(ctx context.Context, w inventory.Writer, path string) (int, error) {
	format, err := inventory.DetectFormat(path)
	if err != nil {
		return 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	screens, skipped, err := inventory.Parse(f, format)
	if err != nil {
		return 0, err
	}
	for _, s := range skipped {
		slog.Warn("row skipped", "file", path, "row", s.Row, "reason", s.Reason)
	}

	n, err := inventory.Import(ctx, w, screens, batchSize)
	metrics.ScreensImported.Add(float64(n))
	return n, err
}
