package ports

import (
	"context"

	"github.com/tvdoutor/screenfinder/internal/core/domain"
)

// ScreenRepository reads the advertising screen inventory.
type ScreenRepository interface {
	// ListActive returns active screens. A nil bounds returns the full
	// inventory; screens without coordinates are only returned in that case.
	ListActive(ctx context.Context, bounds *domain.Bounds) ([]domain.ScreenRecord, error)
	GetByID(ctx context.Context, id string) (*domain.ScreenRecord, error)
	UpsertBatch(ctx context.Context, screens []domain.ScreenRecord) error
}

// HeatmapRepository runs the heatmap aggregation query.
type HeatmapRepository interface {
	Aggregate(ctx context.Context, filter domain.HeatmapFilter) ([]domain.ScreenIntensity, error)
}
