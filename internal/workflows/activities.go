package workflows

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/tvdoutor/screenfinder/internal/core/domain"
	"github.com/tvdoutor/screenfinder/internal/core/usecases"
	"github.com/tvdoutor/screenfinder/internal/pkg/metrics"
)

// WarmPreset is a heatmap filter relative to the warmup time.
type WarmPreset struct {
	City      string
	Class     string
	Days      int // trailing window; zero means all time
	Normalize bool
}

// Filter resolves the preset against asOf. The window ends on asOf's UTC day
// so warmed signatures match the dates the console sends.
func (p WarmPreset) Filter(asOf time.Time) domain.HeatmapFilter {
	f := domain.HeatmapFilter{City: p.City, Class: p.Class, Normalize: p.Normalize}
	if p.Days > 0 {
		day := asOf.UTC().Truncate(24 * time.Hour)
		f.DateTo = day
		f.DateFrom = day.AddDate(0, 0, -p.Days)
	}
	return f
}

func (p WarmPreset) String() string {
	parts := []string{fmt.Sprintf("%dd", p.Days)}
	if p.City != "" {
		parts = append(parts, p.City)
	}
	if p.Class != "" {
		parts = append(parts, p.Class)
	}
	if p.Normalize {
		parts = append(parts, "normalized")
	}
	return strings.Join(parts, "/")
}

// WarmSummary describes one warmed payload.
type WarmSummary struct {
	Signature    string
	TotalScreens int
	MaxIntensity float64
}

// WarmPublisher announces warmed heatmap signatures.
type WarmPublisher interface {
	PublishHeatmapWarmed(ctx context.Context, signature string) error
}

// HeatmapActivities holds the activity implementations for the warmup workflow.
type HeatmapActivities struct {
	Heatmap   *usecases.HeatmapService
	Publisher WarmPublisher
}

// WarmHeatmap recomputes one preset and replaces its cached payload.
func (a *HeatmapActivities) WarmHeatmap(ctx context.Context, p WarmPreset, asOf time.Time) (WarmSummary, error) {
	f := p.Filter(asOf)
	payload, err := a.Heatmap.Warm(ctx, f)
	if err != nil {
		metrics.HeatmapWarmups.WithLabelValues("error").Inc()
		return WarmSummary{}, fmt.Errorf("warm heatmap %s: %w", p, err)
	}
	metrics.HeatmapWarmups.WithLabelValues("ok").Inc()

	activity.GetLogger(ctx).Info("heatmap warmed", "preset", p.String(), "screens", payload.Stats.TotalScreens)
	return WarmSummary{
		Signature:    f.Signature(),
		TotalScreens: payload.Stats.TotalScreens,
		MaxIntensity: payload.Stats.MaxIntensity,
	}, nil
}

// AnnounceHeatmapWarmed publishes a warmed signature so API replicas can
// drop their local copies.
func (a *HeatmapActivities) AnnounceHeatmapWarmed(ctx context.Context, signature string) error {
	if a.Publisher == nil {
		return nil
	}
	if err := a.Publisher.PublishHeatmapWarmed(ctx, signature); err != nil {
		return fmt.Errorf("announce %s: %w", signature, err)
	}
	return nil
}
