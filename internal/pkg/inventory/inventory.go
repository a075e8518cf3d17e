// Package inventory parses screen inventory exports for the importer.
//
// Three formats are accepted: a JSON array of screen records, CSV with a
// header row, and a GeoJSON FeatureCollection of points. Rows that cannot be
// used are reported as RowErrors and skipped; the rest are returned.
package inventory

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/tvdoutor/screenfinder/internal/core/domain"
)

// Format is an inventory file format.
type Format string

const (
	FormatJSON    Format = "json"
	FormatCSV     Format = "csv"
	FormatGeoJSON Format = "geojson"
)

// namespace for ids derived from screen codes
var screenNamespace = uuid.MustParse("5b0f2e8a-6c1d-4f7e-9a3b-2d4c6e8f1a0b")

// RowError describes one skipped row.
type RowError struct {
	Row    int
	Reason string
}

func (e RowError) Error() string { return fmt.Sprintf("row %d: %s", e.Row, e.Reason) }

// DetectFormat picks the format from a file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".csv":
		return FormatCSV, nil
	case ".geojson":
		return FormatGeoJSON, nil
	default:
		return "", fmt.Errorf("unsupported inventory file %q", path)
	}
}

// Parse reads r in the given format. The returned error is non-nil only when
// the file as a whole is unreadable; skipped rows are listed separately.
func Parse(r io.Reader, f Format) ([]domain.ScreenRecord, []RowError, error) {
	switch f {
	case FormatJSON:
		return parseJSON(r)
	case FormatCSV:
		return parseCSV(r)
	case FormatGeoJSON:
		return parseGeoJSON(r)
	default:
		return nil, nil, fmt.Errorf("unknown format %q", f)
	}
}

// ScreenID returns the stable id of a screen code.
func ScreenID(code string) string {
	return uuid.NewSHA1(screenNamespace, []byte(strings.ToUpper(strings.TrimSpace(code)))).String()
}

// normalize fills defaults and checks one record. It returns a reason when the
// record must be skipped.
func normalize(s *domain.ScreenRecord) string {
	s.Name = strings.TrimSpace(s.Name)
	s.Code = strings.TrimSpace(s.Code)
	if s.Name == "" {
		return "name is required"
	}
	if s.ID == "" {
		if s.Code == "" {
			return "id or code is required"
		}
		s.ID = ScreenID(s.Code)
	} else if _, err := uuid.Parse(s.ID); err != nil {
		return "id is not a UUID"
	}
	s.Class = domain.ParseClassTag(string(s.Class))
	if s.Coordinate != nil {
		if err := s.Coordinate.Validate(); err != nil {
			return err.Error()
		}
	}
	return ""
}

type jsonScreen struct {
	domain.ScreenRecord
	Active *bool    `json:"active"`
	Lat    *float64 `json:"lat"`
	Lng    *float64 `json:"lng"`
}

func parseJSON(r io.Reader) ([]domain.ScreenRecord, []RowError, error) {
	var rows []jsonScreen
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, nil, fmt.Errorf("decode json inventory: %w", err)
	}

	var (
		out     = make([]domain.ScreenRecord, 0, len(rows))
		skipped []RowError
	)
	for i, row := range rows {
		s := row.ScreenRecord
		s.Active = row.Active == nil || *row.Active
		if s.Coordinate == nil && row.Lat != nil && row.Lng != nil {
			s.Coordinate = &domain.Coordinate{Lat: *row.Lat, Lng: *row.Lng}
		}
		if reason := normalize(&s); reason != "" {
			skipped = append(skipped, RowError{Row: i + 1, Reason: reason})
			continue
		}
		out = append(out, s)
	}
	return out, skipped, nil
}

var csvAliases = map[string]string{
	"latitude":  "lat",
	"longitude": "lng",
	"lon":       "lng",
	"classe":    "class",
	"cidade":    "city",
	"estado":    "state",
	"uf":        "state",
	"nome":      "name",
	"codigo":    "code",
	"ativo":     "active",
}

func parseCSV(r io.Reader) ([]domain.ScreenRecord, []RowError, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read csv header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if alias, ok := csvAliases[h]; ok {
			h = alias
		}
		col[h] = i
	}
	if _, ok := col["name"]; !ok {
		return nil, nil, errors.New("csv inventory has no name column")
	}

	var (
		out     []domain.ScreenRecord
		skipped []RowError
	)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped = append(skipped, RowError{Row: line, Reason: err.Error()})
			continue
		}
		get := func(name string) string {
			if i, ok := col[name]; ok && i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}

		s := domain.ScreenRecord{
			ID:          get("id"),
			Code:        get("code"),
			Name:        get("name"),
			DisplayName: get("display_name"),
			City:        get("city"),
			State:       get("state"),
			Class:       domain.ClassTag(get("class")),
			Active:      parseActive(get("active")),
		}
		c, reason := parseCoordinate(get("lat"), get("lng"))
		if reason == "" {
			s.Coordinate = c
			reason = normalize(&s)
		}
		if reason != "" {
			skipped = append(skipped, RowError{Row: line, Reason: reason})
			continue
		}
		out = append(out, s)
	}
	return out, skipped, nil
}

// parseActive defaults to true; exports write booleans in several ways.
func parseActive(v string) bool {
	switch strings.ToLower(v) {
	case "", "1", "true", "t", "yes", "sim", "s":
		return true
	default:
		return false
	}
}

// parseCoordinate accepts decimal commas as exported by pt-BR spreadsheets.
func parseCoordinate(lat, lng string) (*domain.Coordinate, string) {
	if lat == "" && lng == "" {
		return nil, ""
	}
	if lat == "" || lng == "" {
		return nil, "lat and lng must both be set"
	}
	la, err := strconv.ParseFloat(strings.Replace(lat, ",", ".", 1), 64)
	if err != nil {
		return nil, "lat is not a number"
	}
	ln, err := strconv.ParseFloat(strings.Replace(lng, ",", ".", 1), 64)
	if err != nil {
		return nil, "lng is not a number"
	}
	return &domain.Coordinate{Lat: la, Lng: ln}, ""
}

func parseGeoJSON(r io.Reader) ([]domain.ScreenRecord, []RowError, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, err
	}
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, nil, fmt.Errorf("decode geojson inventory: %w", err)
	}

	var (
		out     = make([]domain.ScreenRecord, 0, len(fc.Features))
		skipped []RowError
	)
	for i, f := range fc.Features {
		s := domain.ScreenRecord{
			ID:          f.ID,
			Code:        stringProp(f.Properties, "code"),
			Name:        stringProp(f.Properties, "name"),
			DisplayName: stringProp(f.Properties, "display_name"),
			City:        stringProp(f.Properties, "city"),
			State:       stringProp(f.Properties, "state"),
			Class:       domain.ClassTag(stringProp(f.Properties, "class")),
			Active:      true,
		}
		if v, ok := f.Properties["active"].(bool); ok {
			s.Active = v
		}
		switch g := f.Geometry.(type) {
		case nil:
		case *geom.Point:
			if g.Empty() {
				break
			}
			// GeoJSON positions are lng, lat
			s.Coordinate = &domain.Coordinate{Lat: g.Y(), Lng: g.X()}
		default:
			skipped = append(skipped, RowError{Row: i + 1, Reason: fmt.Sprintf("geometry %T is not a point", g)})
			continue
		}
		if reason := normalize(&s); reason != "" {
			skipped = append(skipped, RowError{Row: i + 1, Reason: reason})
			continue
		}
		out = append(out, s)
	}
	return out, skipped, nil
}

func stringProp(props map[string]interface{}, key string) string {
	switch v := props[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// Writer stores screens. ports.ScreenRepository satisfies it.
type Writer interface {
	UpsertBatch(ctx context.Context, screens []domain.ScreenRecord) error
}

// Import writes screens in batches of batchSize and returns how many were
// written. Batches already sent stay written when a later one fails.
func Import(ctx context.Context, w Writer, screens []domain.ScreenRecord, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	written := 0
	for start := 0; start < len(screens); start += batchSize {
		end := min(start+batchSize, len(screens))
		if err := w.UpsertBatch(ctx, screens[start:end]); err != nil {
			return written, fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		written = end
	}
	return written, nil
}
