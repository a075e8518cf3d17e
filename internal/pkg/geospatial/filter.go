package geospatial

import (
	"sort"

	"github.com/tvdoutor/screenfinder/internal/core/domain"
)

// Ranked is a screen that survived the radius filter, with its unrounded distance.
type Ranked struct {
	Screen     domain.ScreenRecord
	DistanceKm float64
}

// FilterAndRank keeps the screens within radiusKm of center and orders them
// by ascending distance. Ties keep their input order. Screens without a
// coordinate are skipped. A non-positive radius yields an empty result.
func FilterAndRank(center domain.Coordinate, radiusKm float64, screens []domain.ScreenRecord) []Ranked {
	ranked := make([]Ranked, 0)
	if radiusKm <= 0 {
		return ranked
	}

	for _, s := range screens {
		if s.Coordinate == nil {
			continue
		}
		d := HaversineKm(center, *s.Coordinate)
		if d <= radiusKm {
			ranked = append(ranked, Ranked{Screen: s, DistanceKm: d})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].DistanceKm < ranked[j].DistanceKm
	})
	return ranked
}
