package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ClassTag is the commercial class of a screen. It drives price and reach.
type ClassTag string

const (
	ClassA  ClassTag = "A"
	ClassAB ClassTag = "AB"
	ClassB  ClassTag = "B"
	ClassC  ClassTag = "C"
	ClassD  ClassTag = "D"
	ClassND ClassTag = "ND"
)

// ParseClassTag never fails: anything unknown falls back to ND.
func ParseClassTag(s string) ClassTag {
	switch ClassTag(strings.ToUpper(strings.TrimSpace(s))) {
	case ClassA:
		return ClassA
	case ClassAB:
		return ClassAB
	case ClassB:
		return ClassB
	case ClassC:
		return ClassC
	case ClassD:
		return ClassD
	default:
		return ClassND
	}
}

// ScreenRecord is an advertising screen owned by the inventory store.
// Coordinate is nil when the store has no position for the screen.
type ScreenRecord struct {
	ID          string      `json:"id"`
	Code        string      `json:"code"`
	Name        string      `json:"name"`
	DisplayName string      `json:"display_name,omitempty"`
	City        string      `json:"city"`
	State       string      `json:"state"`
	Class       ClassTag    `json:"class"`
	Active      bool        `json:"active"`
	Coordinate  *Coordinate `json:"coordinate,omitempty"`
}

// Label returns the display name, falling back to the name and then the code.
func (s ScreenRecord) Label() string {
	switch {
	case s.DisplayName != "":
		return s.DisplayName
	case s.Name != "":
		return s.Name
	default:
		return s.Code
	}
}

// GeocodeResult is the resolved position of a free-text address.
type GeocodeResult struct {
	Coordinate       Coordinate `json:"coordinate"`
	FormattedAddress string     `json:"formatted_address"`
	PlaceID          string     `json:"place_id"`
}

const (
	MinRadiusKm     = 1.0
	MaxRadiusKm     = 100.0
	DefaultRadiusKm = 5.0
)

// SearchQuery describes one "screens near a point" search.
type SearchQuery struct {
	Center        Coordinate `json:"center"`
	RadiusKm      float64    `json:"radius_km"`
	StartDate     time.Time  `json:"start_date"`
	DurationWeeks int        `json:"duration_weeks"`
}

// Normalize clamps the radius into [MinRadiusKm, MaxRadiusKm] and the
// duration to at least one week.
func (q SearchQuery) Normalize() SearchQuery {
	q.RadiusKm = ClampRadius(q.RadiusKm)
	if q.DurationWeeks < 1 {
		q.DurationWeeks = 1
	}
	return q
}

// EndDate returns the last day covered by the campaign.
func (q SearchQuery) EndDate() time.Time {
	if q.StartDate.IsZero() {
		return time.Time{}
	}
	return q.StartDate.AddDate(0, 0, 7*q.DurationWeeks)
}

// ClampRadius corrects an out-of-range radius instead of rejecting it.
func ClampRadius(km float64) float64 {
	switch {
	case km < MinRadiusKm:
		return MinRadiusKm
	case km > MaxRadiusKm:
		return MaxRadiusKm
	default:
		return km
	}
}

// SearchResult is a screen annotated for one search. Never mutated once built.
type SearchResult struct {
	ScreenRecord
	DistanceKm  float64         `json:"distance_km"`
	WeeklyPrice decimal.Decimal `json:"weekly_price"`
	WeeklyReach int             `json:"weekly_reach"`
	TotalPrice  decimal.Decimal `json:"total_price"`
}

// AddressSearch is the outcome of geocoding an address and searching around it.
type AddressSearch struct {
	Geocode GeocodeResult  `json:"geocode"`
	Query   SearchQuery    `json:"query"`
	Results []SearchResult `json:"results"`
}

// SearchEvent is published after every executed search.
type SearchEvent struct {
	Time        time.Time  `json:"time"`
	Center      Coordinate `json:"center"`
	RadiusKm    float64    `json:"radius_km"`
	Weeks       int        `json:"weeks"`
	ResultCount int        `json:"result_count"`
	Inventory   int        `json:"inventory"`
	DurationMs  int64      `json:"duration_ms"`
}
