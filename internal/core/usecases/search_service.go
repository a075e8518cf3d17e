package usecases

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tvdoutor/screenfinder/internal/core/domain"
	"github.com/tvdoutor/screenfinder/internal/core/ports"
	"github.com/tvdoutor/screenfinder/internal/pkg/geospatial"
	"github.com/tvdoutor/screenfinder/internal/pkg/metrics"
	"github.com/tvdoutor/screenfinder/internal/pkg/pricing"
)

// DefaultSearchTimeout bounds one inventory query.
const DefaultSearchTimeout = 10 * time.Second

// SearchParams are the non-spatial parts of an address search.
type SearchParams struct {
	RadiusKm      float64
	StartDate     time.Time
	DurationWeeks int
}

// SearchService finds, ranks and prices screens around a point.
type SearchService struct {
	screens   ports.ScreenRepository
	geocoder  ports.Geocoder
	publisher ports.EventPublisher
	timeout   time.Duration
	tracer    trace.Tracer
	now       func() time.Time
}

// NewSearchService creates a new SearchService. geocoder and publisher may be nil.
func NewSearchService(
	screens ports.ScreenRepository,
	geocoder ports.Geocoder,
	publisher ports.EventPublisher,
	timeout time.Duration,
) *SearchService {
	if timeout <= 0 {
		timeout = DefaultSearchTimeout
	}
	return &SearchService{
		screens:   screens,
		geocoder:  geocoder,
		publisher: publisher,
		timeout:   timeout,
		tracer:    otel.Tracer("github.com/tvdoutor/screenfinder/usecases"),
		now:       time.Now,
	}
}

// SearchNear returns the active screens within the query radius, nearest
// first. No match is an empty slice and a nil error.
func (s *SearchService) SearchNear(ctx context.Context, q domain.SearchQuery) ([]domain.SearchResult, error) {
	q = q.Normalize()

	ctx, span := s.tracer.Start(ctx, "SearchService.SearchNear", trace.WithAttributes(
		attribute.Float64("search.lat", q.Center.Lat),
		attribute.Float64("search.lng", q.Center.Lng),
		attribute.Float64("search.radius_km", q.RadiusKm),
		attribute.Int("search.weeks", q.DurationWeeks),
	))
	defer span.End()

	start := s.now()
	results, inventory, err := s.searchNear(ctx, q)
	elapsed := s.now().Sub(start)

	metrics.SearchDuration.Observe(elapsed.Seconds())
	if err != nil {
		metrics.Searches.WithLabelValues(searchOutcome(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	metrics.Searches.WithLabelValues("ok").Inc()
	metrics.SearchResults.Observe(float64(len(results)))
	span.SetAttributes(attribute.Int("search.results", len(results)))

	s.publish(ctx, &domain.SearchEvent{
		Time:        start.UTC(),
		Center:      q.Center,
		RadiusKm:    q.RadiusKm,
		Weeks:       q.DurationWeeks,
		ResultCount: len(results),
		Inventory:   inventory,
		DurationMs:  elapsed.Milliseconds(),
	})
	return results, nil
}

func (s *SearchService) searchNear(ctx context.Context, q domain.SearchQuery) ([]domain.SearchResult, int, error) {
	if err := q.Center.Validate(); err != nil {
		return nil, 0, &domain.SearchError{Kind: domain.ErrInvalidInput, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	bounds := geospatial.SearchBounds(q.Center, q.RadiusKm)
	screens, err := s.screens.ListActive(ctx, &bounds)
	if err != nil {
		return nil, 0, &domain.SearchError{Kind: domain.ErrSearchUnavailable, Err: err}
	}

	ranked := geospatial.FilterAndRank(q.Center, q.RadiusKm, screens)
	results := make([]domain.SearchResult, 0, len(ranked))
	for _, r := range ranked {
		quote := pricing.PriceAndReach(r.Screen.Class, q.DurationWeeks)
		results = append(results, domain.SearchResult{
			ScreenRecord: r.Screen,
			DistanceKm:   geospatial.RoundKm(r.DistanceKm),
			WeeklyPrice:  quote.WeeklyPrice,
			WeeklyReach:  quote.WeeklyReach,
			TotalPrice:   pricing.Total(quote, q.DurationWeeks),
		})
	}
	return results, len(screens), nil
}

// SearchAddress geocodes address and searches around the result. Geocoding
// failures are returned unchanged as *domain.GeocodeError.
func (s *SearchService) SearchAddress(ctx context.Context, address string, p SearchParams) (*domain.AddressSearch, error) {
	geo, err := s.Geocode(ctx, address)
	if err != nil {
		return nil, err
	}

	q := domain.SearchQuery{
		Center:        geo.Coordinate,
		RadiusKm:      p.RadiusKm,
		StartDate:     p.StartDate,
		DurationWeeks: p.DurationWeeks,
	}.Normalize()

	results, err := s.SearchNear(ctx, q)
	if err != nil {
		return nil, err
	}
	return &domain.AddressSearch{Geocode: *geo, Query: q, Results: results}, nil
}

// Geocode resolves an address with the configured provider.
func (s *SearchService) Geocode(ctx context.Context, address string) (*domain.GeocodeResult, error) {
	if s.geocoder == nil {
		return nil, &domain.GeocodeError{
			Kind:    domain.ErrConfiguration,
			Address: address,
			Err:     errors.New("no geocoder configured"),
		}
	}
	return s.geocoder.Geocode(ctx, address)
}

// Inventory returns the active screens that have a position.
func (s *SearchService) Inventory(ctx context.Context) ([]domain.ScreenRecord, error) {
	all, err := s.Screens(ctx)
	if err != nil {
		return nil, err
	}
	located := make([]domain.ScreenRecord, 0, len(all))
	for _, sc := range all {
		if sc.Coordinate != nil {
			located = append(located, sc)
		}
	}
	return located, nil
}

// Screens returns the whole active inventory, located or not.
func (s *SearchService) Screens(ctx context.Context) ([]domain.ScreenRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	screens, err := s.screens.ListActive(ctx, nil)
	if err != nil {
		return nil, &domain.SearchError{Kind: domain.ErrSearchUnavailable, Err: err}
	}
	if screens == nil {
		screens = []domain.ScreenRecord{}
	}
	return screens, nil
}

// Screen returns a single screen.
func (s *SearchService) Screen(ctx context.Context, id string) (*domain.ScreenRecord, error) {
	sc, err := s.screens.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, &domain.SearchError{Kind: domain.ErrSearchUnavailable, Err: err}
	}
	return sc, nil
}

func (s *SearchService) publish(ctx context.Context, ev *domain.SearchEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishSearchExecuted(ctx, ev); err != nil {
		slog.WarnContext(ctx, "publish search event failed", "error", err)
	}
}

func searchOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, domain.ErrSearchUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
