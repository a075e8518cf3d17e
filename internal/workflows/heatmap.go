package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Activity names registered by HeatmapActivities.
const (
	ActivityWarmHeatmap     = "WarmHeatmap"
	ActivityAnnounceWarmed  = "AnnounceHeatmapWarmed"
	defaultRoundsPerHistory = 100
)

// HeatmapWarmupInput is the input of the heatmap warmup workflow.
type HeatmapWarmupInput struct {
	Presets  []WarmPreset
	Interval time.Duration
	// Rounds bounds the event history; the workflow continues as new after it.
	Rounds int
}

// HeatmapWarmupWorkflow keeps the heatmap presets hot: every interval each
// preset is recomputed into the shared cache and announced. A failing preset
// never blocks the others.
func HeatmapWarmupWorkflow(ctx workflow.Context, input HeatmapWarmupInput) error {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting heatmap warmup workflow", "presets", len(input.Presets), "interval", input.Interval)

	if input.Interval <= 0 {
		input.Interval = 4 * time.Minute
	}
	rounds := input.Rounds
	if rounds <= 0 {
		rounds = defaultRoundsPerHistory
	}

	actOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: time.Second,
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, actOpts)

	for round := 0; round < rounds; round++ {
		asOf := workflow.Now(ctx)
		warmed := 0
		for _, p := range input.Presets {
			var summary WarmSummary
			if err := workflow.ExecuteActivity(ctx, ActivityWarmHeatmap, p, asOf).Get(ctx, &summary); err != nil {
				logger.Warn("heatmap preset not warmed", "city", p.City, "class", p.Class, "days", p.Days, "error", err)
				continue
			}
			warmed++
			// announcing is best effort
			if err := workflow.ExecuteActivity(ctx, ActivityAnnounceWarmed, summary.Signature).Get(ctx, nil); err != nil {
				logger.Warn("heatmap warmup not announced", "signature", summary.Signature, "error", err)
			}
		}
		logger.Info("heatmap warmup round done", "round", round, "warmed", warmed, "presets", len(input.Presets))

		if err := workflow.Sleep(ctx, input.Interval); err != nil {
			return err
		}
	}

	return workflow.NewContinueAsNewError(ctx, HeatmapWarmupWorkflow, input)
}
