package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tvdoutor/screenfinder/internal/core/domain"
)

// ScreenRepo implements ports.ScreenRepository with pgx.
type ScreenRepo struct {
	db *DB
}

// NewScreenRepo creates a new ScreenRepo.
func NewScreenRepo(db *DB) *ScreenRepo {
	return &ScreenRepo{db: db}
}

const screenColumns = `
	id::text, COALESCE(code, ''), name, COALESCE(display_name, ''),
	COALESCE(city, ''), COALESCE(state, ''), COALESCE(class, ''), active, lat, lng`

// ListActive returns active screens. With bounds, only located screens inside
// the box are returned.
func (r *ScreenRepo) ListActive(ctx context.Context, bounds *domain.Bounds) ([]domain.ScreenRecord, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if bounds == nil {
		rows, err = r.db.Pool.Query(ctx, `
			SELECT `+screenColumns+`
			FROM screens
			WHERE active
			ORDER BY name
		`)
	} else {
		rows, err = r.db.Pool.Query(ctx, `
			SELECT `+screenColumns+`
			FROM screens
			WHERE active
			  AND lat BETWEEN $1 AND $2
			  AND lng BETWEEN $3 AND $4
			ORDER BY name
		`, bounds.MinLat, bounds.MaxLat, bounds.MinLng, bounds.MaxLng)
	}
	if err != nil {
		return nil, fmt.Errorf("list active screens: %w", err)
	}
	defer rows.Close()

	var screens []domain.ScreenRecord
	for rows.Next() {
		s, err := scanScreen(rows)
		if err != nil {
			return nil, err
		}
		screens = append(screens, *s)
	}
	return screens, rows.Err()
}

// GetByID returns a screen by id, or domain.ErrNotFound.
func (r *ScreenRepo) GetByID(ctx context.Context, id string) (*domain.ScreenRecord, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+screenColumns+` FROM screens WHERE id::text = $1`, id)
	s, err := scanScreen(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("screen %s: %w", id, domain.ErrNotFound)
	}
	return s, err
}

// UpsertBatch inserts or updates many screens using pgx.Batch.
func (r *ScreenRepo) UpsertBatch(ctx context.Context, screens []domain.ScreenRecord) error {
	batch := &pgx.Batch{}
	for _, s := range screens {
		var lat, lng *float64
		if s.Coordinate != nil {
			lat, lng = &s.Coordinate.Lat, &s.Coordinate.Lng
		}
		batch.Queue(`
			INSERT INTO screens (id, code, name, display_name, city, state, class, active, lat, lng)
			VALUES ($1, NULLIF($2, ''), $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO UPDATE
			SET code = EXCLUDED.code, name = EXCLUDED.name, display_name = EXCLUDED.display_name,
			    city = EXCLUDED.city, state = EXCLUDED.state, class = EXCLUDED.class,
			    active = EXCLUDED.active, lat = EXCLUDED.lat, lng = EXCLUDED.lng,
			    updated_at = now()
		`, s.ID, s.Code, s.Name, s.DisplayName, s.City, s.State,
			string(domain.ParseClassTag(string(s.Class))), s.Active, lat, lng)
	}
	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for _, s := range screens {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert screen %s: %w", s.ID, err)
		}
	}
	return nil
}

func scanScreen(row pgx.Row) (*domain.ScreenRecord, error) {
	var (
		s        domain.ScreenRecord
		class    string
		lat, lng *float64
	)
	if err := row.Scan(
		&s.ID, &s.Code, &s.Name, &s.DisplayName,
		&s.City, &s.State, &class, &s.Active, &lat, &lng,
	); err != nil {
		return nil, err
	}
	s.Class = domain.ParseClassTag(class)
	if lat != nil && lng != nil {
		s.Coordinate = &domain.Coordinate{Lat: *lat, Lng: *lng}
	}
	return &s, nil
}
