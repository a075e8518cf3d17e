package usecases

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/uber/h3-go/v4"

	"github.com/tvdoutor/screenfinder/internal/core/domain"
	"github.com/tvdoutor/screenfinder/internal/core/ports"
	"github.com/tvdoutor/screenfinder/internal/pkg/aggcache"
)

// HeatmapTTL is how long an aggregate stays servable.
const HeatmapTTL = 5 * time.Minute

// DefaultH3Resolution buckets screens into neighbourhood-sized hexagons.
const DefaultH3Resolution = 8

// HeatmapService serves the proposal heatmap from the aggregate cache.
type HeatmapService struct {
	repo       ports.HeatmapRepository
	cache      *aggcache.Cache[*domain.HeatmapPayload]
	resolution int
	now        func() time.Time
}

// NewHeatmapService creates a new HeatmapService. A resolution outside
// 0..15 falls back to DefaultH3Resolution.
func NewHeatmapService(repo ports.HeatmapRepository, cache *aggcache.Cache[*domain.HeatmapPayload], resolution int) *HeatmapService {
	if resolution < 0 || resolution > 15 {
		resolution = DefaultH3Resolution
	}
	if cache == nil {
		cache = aggcache.New[*domain.HeatmapPayload]("heatmap")
	}
	return &HeatmapService{repo: repo, cache: cache, resolution: resolution, now: time.Now}
}

// Heatmap returns the cached payload for the filter, computing it on a miss.
func (s *HeatmapService) Heatmap(ctx context.Context, f domain.HeatmapFilter) (*domain.HeatmapPayload, error) {
	if err := validateHeatmapFilter(f); err != nil {
		return nil, err
	}
	return s.cache.GetOrCompute(ctx, f.Signature(), s.computeFunc(f), HeatmapTTL)
}

// Warm recomputes the payload for the filter and replaces the cached entry.
func (s *HeatmapService) Warm(ctx context.Context, f domain.HeatmapFilter) (*domain.HeatmapPayload, error) {
	if err := validateHeatmapFilter(f); err != nil {
		return nil, err
	}
	return s.cache.Refresh(ctx, f.Signature(), s.computeFunc(f), HeatmapTTL)
}

// Forget drops the local copy of a payload another process has refreshed.
func (s *HeatmapService) Forget(signature string) {
	s.cache.Forget(signature)
}

func (s *HeatmapService) computeFunc(f domain.HeatmapFilter) aggcache.ComputeFunc[*domain.HeatmapPayload] {
	return func(ctx context.Context) (*domain.HeatmapPayload, error) {
		rows, err := s.repo.Aggregate(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("heatmap aggregate: %w", err)
		}
		points, cells, stats, err := Summarize(rows, f.Normalize, s.resolution)
		if err != nil {
			return nil, err
		}
		return &domain.HeatmapPayload{
			Filter:      f,
			Points:      points,
			Cells:       cells,
			Stats:       stats,
			GeneratedAt: s.now().UTC(),
		}, nil
	}
}

func validateHeatmapFilter(f domain.HeatmapFilter) error {
	if !f.DateFrom.IsZero() && !f.DateTo.IsZero() && f.DateTo.Before(f.DateFrom) {
		return fmt.Errorf("%w: date_to before date_from", domain.ErrInvalidInput)
	}
	return nil
}

// Summarize turns aggregation rows into heat points, hexagon cells and
// stats. Intensity is the raw count, or count/max when normalize is set.
// Points are ordered by descending count, then screen id.
func Summarize(rows []domain.ScreenIntensity, normalize bool, resolution int) ([]domain.HeatmapPoint, []domain.HeatmapCell, domain.HeatmapStats, error) {
	points := make([]domain.HeatmapPoint, 0, len(rows))
	cells := make([]domain.HeatmapCell, 0)
	var stats domain.HeatmapStats

	maxCount := 0
	for _, r := range rows {
		if r.Count > maxCount {
			maxCount = r.Count
		}
	}

	intensity := func(count int) float64 {
		if !normalize {
			return float64(count)
		}
		if maxCount == 0 {
			return 0
		}
		return float64(count) / float64(maxCount)
	}

	type acc struct {
		cell           domain.HeatmapCell
		sumLat, sumLng float64
	}
	byCell := make(map[string]*acc)
	var order []string
	cities := make(map[string]struct{})
	var sum float64

	for _, r := range rows {
		cell, err := h3.LatLngToCell(h3.NewLatLng(r.Coordinate.Lat, r.Coordinate.Lng), resolution)
		if err != nil {
			return nil, nil, stats, fmt.Errorf("h3 cell for screen %s: %w", r.ScreenID, err)
		}
		id := cell.String()

		p := domain.HeatmapPoint{
			ScreenID:  r.ScreenID,
			Name:      r.Name,
			City:      r.City,
			Class:     r.Class,
			Lat:       r.Coordinate.Lat,
			Lng:       r.Coordinate.Lng,
			Count:     r.Count,
			Intensity: intensity(r.Count),
			Cell:      id,
		}
		points = append(points, p)
		sum += p.Intensity
		if p.Intensity > stats.MaxIntensity {
			stats.MaxIntensity = p.Intensity
		}
		if c := strings.ToLower(strings.TrimSpace(r.City)); c != "" {
			cities[c] = struct{}{}
		}

		a, ok := byCell[id]
		if !ok {
			a = &acc{cell: domain.HeatmapCell{Cell: id}}
			byCell[id] = a
			order = append(order, id)
		}
		a.cell.Screens++
		a.cell.Count += r.Count
		a.sumLat += r.Coordinate.Lat
		a.sumLng += r.Coordinate.Lng
	}

	cellMax := 0
	for _, a := range byCell {
		if a.cell.Count > cellMax {
			cellMax = a.cell.Count
		}
	}
	for _, id := range order {
		a := byCell[id]
		a.cell.Lat = a.sumLat / float64(a.cell.Screens)
		a.cell.Lng = a.sumLng / float64(a.cell.Screens)
		a.cell.Intensity = float64(a.cell.Count)
		if normalize {
			a.cell.Intensity = 0
			if cellMax > 0 {
				a.cell.Intensity = float64(a.cell.Count) / float64(cellMax)
			}
		}
		cells = append(cells, a.cell)
	}

	sort.SliceStable(points, func(i, j int) bool {
		if points[i].Count != points[j].Count {
			return points[i].Count > points[j].Count
		}
		return points[i].ScreenID < points[j].ScreenID
	})
	sort.SliceStable(cells, func(i, j int) bool {
		if cells[i].Count != cells[j].Count {
			return cells[i].Count > cells[j].Count
		}
		return cells[i].Cell < cells[j].Cell
	})

	stats.TotalScreens = len(points)
	stats.CitiesCount = len(cities)
	if len(points) > 0 {
		stats.AvgIntensity = sum / float64(len(points))
	}
	return points, cells, stats, nil
}
