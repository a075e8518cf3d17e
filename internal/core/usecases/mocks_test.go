package usecases_test

import (
	"context"
	"math"
	"sync"

	"github.com/tvdoutor/screenfinder/internal/core/domain"
)

// --- Mock ScreenRepository ---

type mockScreenRepo struct {
	listActiveFn  func(ctx context.Context, bounds *domain.Bounds) ([]domain.ScreenRecord, error)
	getByIDFn     func(ctx context.Context, id string) (*domain.ScreenRecord, error)
	upsertBatchFn func(ctx context.Context, screens []domain.ScreenRecord) error
}

func (m *mockScreenRepo) ListActive(ctx context.Context, bounds *domain.Bounds) ([]domain.ScreenRecord, error) {
	if m.listActiveFn != nil {
		return m.listActiveFn(ctx, bounds)
	}
	return nil, nil
}

func (m *mockScreenRepo) GetByID(ctx context.Context, id string) (*domain.ScreenRecord, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *mockScreenRepo) UpsertBatch(ctx context.Context, screens []domain.ScreenRecord) error {
	if m.upsertBatchFn != nil {
		return m.upsertBatchFn(ctx, screens)
	}
	return nil
}

// --- Mock Geocoder ---

type mockGeocoder struct {
	geocodeFn func(ctx context.Context, address string) (*domain.GeocodeResult, error)
}

func (m *mockGeocoder) Geocode(ctx context.Context, address string) (*domain.GeocodeResult, error) {
	if m.geocodeFn != nil {
		return m.geocodeFn(ctx, address)
	}
	return nil, &domain.GeocodeError{Kind: domain.ErrNoMatch, Address: address}
}

// --- Mock EventPublisher ---

type mockPublisher struct {
	mu     sync.Mutex
	events []domain.SearchEvent
	err    error
}

func (m *mockPublisher) PublishSearchExecuted(_ context.Context, ev *domain.SearchEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *ev)
	return m.err
}

func (m *mockPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// --- Mock HeatmapRepository ---

type mockHeatmapRepo struct {
	mu          sync.Mutex
	calls       int
	aggregateFn func(ctx context.Context, f domain.HeatmapFilter) ([]domain.ScreenIntensity, error)
}

func (m *mockHeatmapRepo) Aggregate(ctx context.Context, f domain.HeatmapFilter) ([]domain.ScreenIntensity, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.aggregateFn != nil {
		return m.aggregateFn(ctx, f)
	}
	return nil, nil
}

func (m *mockHeatmapRepo) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// --- fixtures ---

var saoPaulo = domain.Coordinate{Lat: -23.5505, Lng: -46.6333}

// northOf returns the point km kilometres due north of c.
func northOf(c domain.Coordinate, km float64) *domain.Coordinate {
	return &domain.Coordinate{Lat: c.Lat + km/6371.0*180/math.Pi, Lng: c.Lng}
}

func staticInventory(screens ...domain.ScreenRecord) *mockScreenRepo {
	return &mockScreenRepo{
		listActiveFn: func(ctx context.Context, bounds *domain.Bounds) ([]domain.ScreenRecord, error) {
			out := make([]domain.ScreenRecord, len(screens))
			copy(out, screens)
			return out, nil
		},
	}
}
