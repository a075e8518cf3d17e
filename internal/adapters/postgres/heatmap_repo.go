package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tvdoutor/screenfinder/internal/core/domain"
)

// HeatmapRepo implements ports.HeatmapRepository: per-screen proposal counts
// over a date window.
type HeatmapRepo struct {
	db *DB
}

// NewHeatmapRepo creates a new HeatmapRepo.
func NewHeatmapRepo(db *DB) *HeatmapRepo {
	return &HeatmapRepo{db: db}
}

// Aggregate counts proposals per located screen. Screens with no proposal in
// the window are returned with a zero count.
func (r *HeatmapRepo) Aggregate(ctx context.Context, f domain.HeatmapFilter) ([]domain.ScreenIntensity, error) {
	var from, to *time.Time
	if !f.DateFrom.IsZero() {
		from = &f.DateFrom
	}
	if !f.DateTo.IsZero() {
		// inclusive end date
		end := f.DateTo.AddDate(0, 0, 1)
		to = &end
	}
	var city, class *string
	if c := strings.TrimSpace(f.City); c != "" {
		city = &c
	}
	if strings.TrimSpace(f.Class) != "" {
		c := string(domain.ParseClassTag(f.Class))
		class = &c
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT s.id::text, s.name, COALESCE(s.city, ''), COALESCE(s.class, ''), s.lat, s.lng,
		       COUNT(p.id) AS proposals
		FROM screens s
		LEFT JOIN proposal_screens ps ON ps.screen_id = s.id
		LEFT JOIN proposals p ON p.id = ps.proposal_id
		     AND ($1::timestamptz IS NULL OR p.created_at >= $1)
		     AND ($2::timestamptz IS NULL OR p.created_at < $2)
		WHERE s.active
		  AND s.lat IS NOT NULL AND s.lng IS NOT NULL
		  AND ($3::text IS NULL OR lower(trim(s.city)) = lower($3))
		  AND ($4::text IS NULL OR s.class = $4)
		GROUP BY s.id, s.name, s.city, s.class, s.lat, s.lng
	`, from, to, city, class)
	if err != nil {
		return nil, fmt.Errorf("heatmap aggregate: %w", err)
	}
	defer rows.Close()

	var out []domain.ScreenIntensity
	for rows.Next() {
		var (
			si    domain.ScreenIntensity
			class string
		)
		if err := rows.Scan(&si.ScreenID, &si.Name, &si.City, &class,
			&si.Coordinate.Lat, &si.Coordinate.Lng, &si.Count); err != nil {
			return nil, err
		}
		si.Class = domain.ParseClassTag(class)
		out = append(out, si)
	}
	return out, rows.Err()
}
