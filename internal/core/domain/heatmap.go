package domain

import (
	"strconv"
	"strings"
	"time"
)

// HeatmapFilter selects the proposals that feed the heatmap aggregation.
type HeatmapFilter struct {
	DateFrom  time.Time `json:"date_from"`
	DateTo    time.Time `json:"date_to"`
	City      string    `json:"city,omitempty"`
	Class     string    `json:"class,omitempty"`
	Normalize bool      `json:"normalize"`
}

// Signature returns the normalized cache key of the filter. Two filters that
// select the same data produce the same signature.
func (f HeatmapFilter) Signature() string {
	var b strings.Builder
	b.WriteString("heatmap:v1")
	b.WriteString("|from=")
	if !f.DateFrom.IsZero() {
		b.WriteString(f.DateFrom.UTC().Format(time.DateOnly))
	}
	b.WriteString("|to=")
	if !f.DateTo.IsZero() {
		b.WriteString(f.DateTo.UTC().Format(time.DateOnly))
	}
	b.WriteString("|city=")
	b.WriteString(strings.ToLower(strings.TrimSpace(f.City)))
	b.WriteString("|class=")
	if strings.TrimSpace(f.Class) != "" {
		b.WriteString(string(ParseClassTag(f.Class)))
	}
	b.WriteString("|normalize=")
	b.WriteString(strconv.FormatBool(f.Normalize))
	return b.String()
}

// ScreenIntensity is one row returned by the aggregation query.
type ScreenIntensity struct {
	ScreenID   string     `json:"screen_id"`
	Name       string     `json:"name"`
	City       string     `json:"city"`
	Class      ClassTag   `json:"class"`
	Coordinate Coordinate `json:"coordinate"`
	Count      int        `json:"count"`
}

// HeatmapPoint is a screen with its heat intensity.
type HeatmapPoint struct {
	ScreenID  string   `json:"screen_id"`
	Name      string   `json:"name"`
	City      string   `json:"city"`
	Class     ClassTag `json:"class"`
	Lat       float64  `json:"lat"`
	Lng       float64  `json:"lng"`
	Count     int      `json:"count"`
	Intensity float64  `json:"intensity"`
	Cell      string   `json:"cell,omitempty"`
}

// HeatmapCell aggregates points falling in the same hexagonal cell.
type HeatmapCell struct {
	Cell      string  `json:"cell"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Screens   int     `json:"screens"`
	Count     int     `json:"count"`
	Intensity float64 `json:"intensity"`
}

// HeatmapStats summarizes a heatmap payload.
type HeatmapStats struct {
	TotalScreens int     `json:"total_screens"`
	MaxIntensity float64 `json:"max_intensity"`
	AvgIntensity float64 `json:"avg_intensity"`
	CitiesCount  int     `json:"cities_count"`
}

// HeatmapPayload is the cached aggregate served to the statistics surface.
type HeatmapPayload struct {
	Filter      HeatmapFilter  `json:"filter"`
	Points      []HeatmapPoint `json:"points"`
	Cells       []HeatmapCell  `json:"cells"`
	Stats       HeatmapStats   `json:"stats"`
	GeneratedAt time.Time      `json:"generated_at"`
}
