// Command screenctl runs searches, quotes and heatmaps against the inventory
// store from a terminal.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tvdoutor/screenfinder/internal/adapters/geocoder"
	"github.com/tvdoutor/screenfinder/internal/adapters/postgres"
	"github.com/tvdoutor/screenfinder/internal/core/domain"
	"github.com/tvdoutor/screenfinder/internal/core/ports"
	"github.com/tvdoutor/screenfinder/internal/core/usecases"
	"github.com/tvdoutor/screenfinder/internal/pkg/aggcache"
	"github.com/tvdoutor/screenfinder/internal/pkg/config"
	"github.com/tvdoutor/screenfinder/internal/pkg/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// env holds what the subcommands share. Connections are opened on first use.
type env struct {
	cfg *config.Config
	db  *postgres.DB
	out io.Writer
}

func newRootCmd(out io.Writer) *cobra.Command {
	e := &env{out: out}

	root := &cobra.Command{
		Use:           "screenctl",
		Short:         "Query the screen inventory",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load("screenctl")
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			// stdout carries the JSON results
			logger, _ := logging.New(os.Stderr, cfg.Log.Level, "text")
			slog.SetDefault(logger)
			e.cfg = cfg
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if e.db != nil {
				e.db.Close()
			}
		},
	}

	root.AddCommand(
		newSearchCmd(e),
		newGeocodeCmd(e),
		newQuoteCmd(e),
		newHeatmapCmd(e),
		newEventsCmd(e),
	)
	return root
}

func (e *env) database(ctx context.Context) (*postgres.DB, error) {
	if e.db != nil {
		return e.db, nil
	}
	db, err := postgres.New(ctx, e.cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	e.db = db
	return db, nil
}

func (e *env) geocoder() *geocoder.Google {
	g := e.cfg.Geocoder
	return geocoder.NewGoogle(g.APIKey,
		geocoder.WithBaseURL(g.BaseURL),
		geocoder.WithRegion(g.Region),
		geocoder.WithLanguage(g.Language),
		geocoder.WithTimeout(g.Timeout),
		geocoder.WithLogger(slog.Default()),
	)
}

// search builds a search service. Geocoding is only wired when an API key is set.
func (e *env) search(ctx context.Context) (*usecases.SearchService, error) {
	db, err := e.database(ctx)
	if err != nil {
		return nil, err
	}
	var geo ports.Geocoder
	if e.cfg.Geocoder.APIKey != "" {
		geo = e.geocoder()
	}
	return usecases.NewSearchService(postgres.NewScreenRepo(db), geo, nil, e.cfg.Search.Timeout), nil
}

func (e *env) heatmap(ctx context.Context) (*usecases.HeatmapService, error) {
	db, err := e.database(ctx)
	if err != nil {
		return nil, err
	}
	return usecases.NewHeatmapService(
		postgres.NewHeatmapRepo(db),
		aggcache.New[*domain.HeatmapPayload]("heatmap_cli"),
		e.cfg.Heatmap.H3Resolution,
	), nil
}

func (e *env) print(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
