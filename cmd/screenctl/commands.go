package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	natsadapter "github.com/tvdoutor/screenfinder/internal/adapters/nats"
	"github.com/tvdoutor/screenfinder/internal/core/domain"
	"github.com/tvdoutor/screenfinder/internal/core/usecases"
	"github.com/tvdoutor/screenfinder/internal/pkg/pricing"
)

const dateLayout = "2006-01-02"

func newSearchCmd(e *env) *cobra.Command {
	var (
		lat, lng, radius float64
		address, start   string
		weeks            int
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Find active screens around a coordinate or an address",
		Example: `  screenctl search --lat -23.5505 --lng -46.6333 --radius 3
  screenctl search --address "Av. Paulista, 1000" --weeks 8`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			startDate := time.Now()
			if start != "" {
				t, err := time.Parse(dateLayout, start)
				if err != nil {
					return fmt.Errorf("--start: %w", err)
				}
				startDate = t
			}

			svc, err := e.search(cmd.Context())
			if err != nil {
				return err
			}

			if address != "" {
				res, err := svc.SearchAddress(cmd.Context(), address, usecases.SearchParams{
					RadiusKm: radius, StartDate: startDate, DurationWeeks: weeks,
				})
				if errors.Is(err, domain.ErrNoMatch) {
					return e.print(map[string]any{"no_match": true, "results": []domain.SearchResult{}})
				}
				if err != nil {
					return err
				}
				return e.print(res)
			}

			if !cmd.Flags().Changed("lat") || !cmd.Flags().Changed("lng") {
				return errors.New("either --address or both --lat and --lng are required")
			}
			center := domain.Coordinate{Lat: lat, Lng: lng}
			if err := center.Validate(); err != nil {
				return err
			}
			q := domain.SearchQuery{Center: center, RadiusKm: radius, StartDate: startDate, DurationWeeks: weeks}.Normalize()
			results, err := svc.SearchNear(cmd.Context(), q)
			if err != nil {
				return err
			}
			return e.print(map[string]any{"query": q, "results": results})
		},
	}
	f := cmd.Flags()
	f.Float64Var(&lat, "lat", 0, "center latitude")
	f.Float64Var(&lng, "lng", 0, "center longitude")
	f.StringVar(&address, "address", "", "address to geocode")
	f.Float64Var(&radius, "radius", domain.DefaultRadiusKm, "search radius in km")
	f.IntVar(&weeks, "weeks", 1, "campaign duration in weeks")
	f.StringVar(&start, "start", "", "campaign start date (YYYY-MM-DD)")
	cmd.MarkFlagsMutuallyExclusive("address", "lat")
	cmd.MarkFlagsMutuallyExclusive("address", "lng")
	return cmd
}

func newGeocodeCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "geocode <address>",
		Short: "Resolve an address to a coordinate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := e.search(cmd.Context())
			if err != nil {
				return err
			}
			res, err := svc.Geocode(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return e.print(res)
		},
	}
}

func newQuoteCmd(e *env) *cobra.Command {
	var weeks int
	cmd := &cobra.Command{
		Use:   "quote <class>",
		Short: "Price and reach of one screen class",
		Args:  cobra.ExactArgs(1),
		// pricing needs no store
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			if weeks < 1 {
				weeks = 1
			}
			q := pricing.PriceAndReach(domain.ParseClassTag(args[0]), weeks)
			return e.print(map[string]any{
				"quote":       q,
				"total_price": pricing.Total(q, weeks),
			})
		},
	}
	cmd.Flags().IntVarP(&weeks, "weeks", "w", 1, "campaign duration in weeks")
	return cmd
}

func newHeatmapCmd(e *env) *cobra.Command {
	var (
		from, to, city, class string
		normalize             bool
	)
	cmd := &cobra.Command{
		Use:   "heatmap",
		Short: "Aggregate proposal counts per screen",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := domain.HeatmapFilter{City: city, Class: class, Normalize: normalize}
			var err error
			if from != "" {
				if f.DateFrom, err = time.Parse(dateLayout, from); err != nil {
					return fmt.Errorf("--from: %w", err)
				}
			}
			if to != "" {
				if f.DateTo, err = time.Parse(dateLayout, to); err != nil {
					return fmt.Errorf("--to: %w", err)
				}
			}

			svc, err := e.heatmap(cmd.Context())
			if err != nil {
				return err
			}
			payload, err := svc.Heatmap(cmd.Context(), f)
			if err != nil {
				return err
			}
			return e.print(payload)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&from, "from", "", "first day (YYYY-MM-DD)")
	fl.StringVar(&to, "to", "", "last day (YYYY-MM-DD)")
	fl.StringVar(&city, "city", "", "city filter")
	fl.StringVar(&class, "class", "", "class filter")
	fl.BoolVar(&normalize, "normalize", false, "scale intensities to [0, 1]")
	return cmd
}

func newEventsCmd(e *env) *cobra.Command {
	var durable string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail executed searches from the event stream",
		RunE: func(cmd *cobra.Command, _ []string) error {
			nc, err := natsadapter.RawConn(e.cfg.NATS.URL)
			if err != nil {
				return fmt.Errorf("nats: %w", err)
			}
			defer nc.Close()

			sub, err := natsadapter.NewSubscriber(nc)
			if err != nil {
				return err
			}
			defer sub.Close()

			err = sub.SubscribeSearchEvents(cmd.Context(), durable, func(_ context.Context, ev *domain.SearchEvent) error {
				return e.print(ev)
			})
			if err != nil {
				return err
			}
			<-cmd.Context().Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&durable, "durable", "screenctl", "durable consumer name")
	return cmd
}
