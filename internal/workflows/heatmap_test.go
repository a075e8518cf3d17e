package workflows_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/tvdoutor/screenfinder/internal/core/domain"
	"github.com/tvdoutor/screenfinder/internal/core/usecases"
	"github.com/tvdoutor/screenfinder/internal/pkg/aggcache"
	"github.com/tvdoutor/screenfinder/internal/workflows"
)

type fakeHeatmapRepo struct {
	mu      sync.Mutex
	filters []domain.HeatmapFilter
	err     error
}

func (r *fakeHeatmapRepo) Aggregate(ctx context.Context, f domain.HeatmapFilter) ([]domain.ScreenIntensity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filters = append(r.filters, f)
	if r.err != nil {
		return nil, r.err
	}
	return []domain.ScreenIntensity{
		{ScreenID: "se", City: "São Paulo", Coordinate: domain.Coordinate{Lat: -23.5505, Lng: -46.6333}, Count: 3},
	}, nil
}

type recordingPublisher struct {
	mu         sync.Mutex
	signatures []string
}

func (p *recordingPublisher) PublishHeatmapWarmed(_ context.Context, signature string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signatures = append(p.signatures, signature)
	return nil
}

func newActivities(repo *fakeHeatmapRepo, pub workflows.WarmPublisher) *workflows.HeatmapActivities {
	cache := aggcache.New[*domain.HeatmapPayload]("heatmap_workflow_test", aggcache.WithClock(clock.NewMock()))
	return &workflows.HeatmapActivities{
		Heatmap:   usecases.NewHeatmapService(repo, cache, 8),
		Publisher: pub,
	}
}

func TestWarmPreset_Filter(t *testing.T) {
	asOf := time.Date(2025, 3, 15, 22, 30, 0, 0, time.FixedZone("BRT", -3*3600))

	f := workflows.WarmPreset{City: "São Paulo", Days: 30, Normalize: true}.Filter(asOf)
	assert.Equal(t, time.Date(2025, 3, 16, 0, 0, 0, 0, time.UTC), f.DateTo, "window ends on the UTC day")
	assert.Equal(t, time.Date(2025, 2, 14, 0, 0, 0, 0, time.UTC), f.DateFrom)
	assert.True(t, f.Normalize)

	all := workflows.WarmPreset{}.Filter(asOf)
	assert.True(t, all.DateFrom.IsZero())
	assert.True(t, all.DateTo.IsZero())
}

func TestHeatmapActivities_WarmAndAnnounce(t *testing.T) {
	repo := &fakeHeatmapRepo{}
	pub := &recordingPublisher{}
	acts := newActivities(repo, pub)

	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	env.RegisterActivity(acts)

	asOf := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	preset := workflows.WarmPreset{City: "São Paulo", Days: 7}
	val, err := env.ExecuteActivity(workflows.ActivityWarmHeatmap, preset, asOf)
	require.NoError(t, err)

	var summary workflows.WarmSummary
	require.NoError(t, val.Get(&summary))
	assert.Equal(t, preset.Filter(asOf).Signature(), summary.Signature)
	assert.Equal(t, 1, summary.TotalScreens)
	assert.Equal(t, 3.0, summary.MaxIntensity)

	_, err = env.ExecuteActivity(workflows.ActivityAnnounceWarmed, summary.Signature)
	require.NoError(t, err)
	assert.Equal(t, []string{summary.Signature}, pub.signatures)

	// the warmed payload serves reads without another aggregation
	_, err = acts.Heatmap.Heatmap(context.Background(), preset.Filter(asOf))
	require.NoError(t, err)
	assert.Len(t, repo.filters, 1)
}

func TestHeatmapActivities_WarmFailure(t *testing.T) {
	acts := newActivities(&fakeHeatmapRepo{err: errors.New("statement timeout")}, nil)

	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	env.RegisterActivity(acts)

	_, err := env.ExecuteActivity(workflows.ActivityWarmHeatmap, workflows.WarmPreset{Days: 30}, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statement timeout")

	// no publisher configured: announcing is a no-op
	_, err = env.ExecuteActivity(workflows.ActivityAnnounceWarmed, "sig")
	require.NoError(t, err)
}

func TestHeatmapWarmupWorkflow_WarmsEveryPresetEachRound(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterActivity(newActivities(&fakeHeatmapRepo{}, nil))

	presets := []workflows.WarmPreset{
		{Days: 30},
		{City: "Rio de Janeiro", Days: 30},
		{Days: 7, Normalize: true},
	}

	env.OnActivity(workflows.ActivityWarmHeatmap, mock.Anything, mock.Anything, mock.Anything).
		Return(func(_ context.Context, p workflows.WarmPreset, asOf time.Time) (workflows.WarmSummary, error) {
			if p.City == "Rio de Janeiro" {
				return workflows.WarmSummary{}, temporal.NewNonRetryableApplicationError("statement timeout", "aggregate", nil)
			}
			return workflows.WarmSummary{Signature: p.Filter(asOf).Signature()}, nil
		})
	env.OnActivity(workflows.ActivityAnnounceWarmed, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(workflows.HeatmapWarmupWorkflow, workflows.HeatmapWarmupInput{
		Presets:  presets,
		Interval: 5 * time.Minute,
		Rounds:   2,
	})

	require.True(t, env.IsWorkflowCompleted())
	var can *workflow.ContinueAsNewError
	require.True(t, errors.As(env.GetWorkflowError(), &can), "workflow continues as new after its rounds")

	// a failing preset never blocks the others
	env.AssertNumberOfCalls(t, workflows.ActivityWarmHeatmap, 2*3)
	env.AssertNumberOfCalls(t, workflows.ActivityAnnounceWarmed, 2*2)
}
