package http

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/tvdoutor/screenfinder/internal/core/domain"
	"github.com/tvdoutor/screenfinder/internal/core/usecases"
	"github.com/tvdoutor/screenfinder/internal/pkg/pricing"
)

// SearchResponse is the body of /v1/search.
type SearchResponse struct {
	Query   domain.SearchQuery    `json:"query"`
	Geocode *domain.GeocodeResult `json:"geocode,omitempty"`
	Results []domain.SearchResult `json:"results"`
	Count   int                   `json:"count"`
	NoMatch bool                  `json:"no_match,omitempty"`
}

// QuoteResponse is the body of /v1/pricing.
type QuoteResponse struct {
	pricing.Quote
	TotalPrice decimal.Decimal `json:"total_price"`
}

// SearchHandler searches around lat/lng, or around a geocoded address.
// An address with no match is a 200 with no_match set.
func SearchHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		params, err := searchParams(c)
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		if address := strings.TrimSpace(c.Query("address")); address != "" {
			res, err := deps.Search.SearchAddress(c.UserContext(), address, params)
			if errors.Is(err, domain.ErrNoMatch) {
				q := domain.SearchQuery{RadiusKm: params.RadiusKm, StartDate: params.StartDate, DurationWeeks: params.DurationWeeks}
				return c.JSON(SearchResponse{Query: q.Normalize(), Results: []domain.SearchResult{}, NoMatch: true})
			}
			if err != nil {
				return errDomain(c, err)
			}
			return c.JSON(SearchResponse{Query: res.Query, Geocode: &res.Geocode, Results: res.Results, Count: len(res.Results)})
		}

		if c.Query("lat") == "" || c.Query("lng") == "" {
			return errBadRequest(c, "address or lat and lng are required")
		}
		lat, err := queryFloat(c, "lat", 0)
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		lng, err := queryFloat(c, "lng", 0)
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		q := domain.SearchQuery{
			Center:        domain.Coordinate{Lat: lat, Lng: lng},
			RadiusKm:      params.RadiusKm,
			StartDate:     params.StartDate,
			DurationWeeks: params.DurationWeeks,
		}.Normalize()
		results, err := deps.Search.SearchNear(c.UserContext(), q)
		if err != nil {
			return errDomain(c, err)
		}
		return c.JSON(SearchResponse{Query: q, Results: results, Count: len(results)})
	}
}

func searchParams(c *fiber.Ctx) (usecases.SearchParams, error) {
	var p usecases.SearchParams
	var err error
	if p.RadiusKm, err = queryFloat(c, "radius", domain.DefaultRadiusKm); err != nil {
		return p, err
	}
	if p.DurationWeeks, err = queryInt(c, "weeks", 1); err != nil {
		return p, err
	}
	if s := c.Query("start"); s != "" {
		t, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return p, errors.New("start must be YYYY-MM-DD")
		}
		p.StartDate = t
	}
	if p.DurationWeeks < 1 || p.DurationWeeks > 104 {
		return p, errors.New("weeks must be between 1 and 104")
	}
	return p, nil
}

// GeocodeHandler resolves an address without searching.
func GeocodeHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		address := strings.TrimSpace(c.Query("address"))
		if address == "" {
			return errBadRequest(c, "address query parameter is required")
		}
		if len(address) > 300 {
			return errBadRequest(c, "address too long (max 300 characters)")
		}
		geo, err := deps.Search.Geocode(c.UserContext(), address)
		if err != nil {
			return errDomain(c, err)
		}
		return c.JSON(geo)
	}
}

// ListScreensHandler returns the active inventory, paginated.
func ListScreensHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		screens, err := deps.Search.Screens(c.UserContext())
		if err != nil {
			return errDomain(c, err)
		}
		if city := strings.TrimSpace(c.Query("city")); city != "" {
			screens = filterCity(screens, city)
		}

		pg := parsePagination(c)
		screens = paginate(screens, &pg)
		SetLinkHeaders(c, pg)
		return c.JSON(PaginatedResponse{Data: screens, Pagination: pg})
	}
}

func filterCity(screens []domain.ScreenRecord, city string) []domain.ScreenRecord {
	out := screens[:0:0]
	for _, s := range screens {
		if strings.EqualFold(strings.TrimSpace(s.City), city) {
			out = append(out, s)
		}
	}
	return out
}

// GetScreenHandler returns a single screen by ID.
func GetScreenHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if id == "" {
			return errBadRequest(c, "screen id is required")
		}
		screen, err := deps.Search.Screen(c.UserContext(), id)
		if err != nil {
			return errDomain(c, err)
		}
		return c.JSON(screen)
	}
}

// PricingHandler quotes one screen class for a campaign duration.
func PricingHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		weeks, err := queryInt(c, "weeks", 1)
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		if weeks < 1 || weeks > 104 {
			return errBadRequest(c, "weeks must be between 1 and 104")
		}
		q := pricing.PriceAndReach(domain.ParseClassTag(c.Query("class")), weeks)
		return c.JSON(QuoteResponse{Quote: q, TotalPrice: pricing.Total(q, weeks)})
	}
}

// HeatmapHandler returns proposal intensity per screen, cached for five minutes.
func HeatmapHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		f := domain.HeatmapFilter{
			City:      c.Query("city"),
			Class:     c.Query("class"),
			Normalize: c.QueryBool("normalize", false),
		}
		for name, dst := range map[string]*time.Time{"date_from": &f.DateFrom, "date_to": &f.DateTo} {
			if s := c.Query(name); s != "" {
				t, err := time.Parse(time.DateOnly, s)
				if err != nil {
					return errBadRequest(c, name+" must be YYYY-MM-DD")
				}
				*dst = t
			}
		}

		payload, err := deps.Heatmap.Heatmap(c.UserContext(), f)
		if err != nil {
			return errDomain(c, err)
		}
		return c.JSON(payload)
	}
}

// queryFloat parses an optional numeric query parameter. Unlike
// fiber's QueryFloat, a malformed value is an error instead of def.
func queryFloat(c *fiber.Ctx, key string, def float64) (float64, error) {
	s := strings.TrimSpace(c.Query(key))
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number", key)
	}
	return v, nil
}

func queryInt(c *fiber.Ctx, key string, def int) (int, error) {
	s := strings.TrimSpace(c.Query(key))
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return v, nil
}
