package usecases_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tvdoutor/screenfinder/internal/core/domain"
	"github.com/tvdoutor/screenfinder/internal/core/usecases"
	"github.com/tvdoutor/screenfinder/internal/pkg/mapview"
)

type eventLog struct {
	mu     sync.Mutex
	events []mapview.Event
}

func (l *eventLog) Emit(_ context.Context, ev mapview.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *eventLog) count(kind mapview.EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

type mapFixture struct {
	svc *usecases.MapService
	clk *clock.Mock
	log *eventLog
	id  string
}

func newMapFixture(t *testing.T, geo *mockGeocoder) *mapFixture {
	t.Helper()
	return newMapFixtureWithRepo(t, geo, staticInventory(spInventory()...))
}

func newMapFixtureWithRepo(t *testing.T, geo *mockGeocoder, repo *mockScreenRepo) *mapFixture {
	t.Helper()
	f := &mapFixture{clk: clock.NewMock(), log: &eventLog{}}
	search := usecases.NewSearchService(repo, geo, nil, time.Second)

	cfg := usecases.DefaultMapConfig()
	cfg.Clock = f.clk
	f.svc = usecases.NewMapService(search, func(string) mapview.Sink { return f.log }, cfg)

	id, err := f.svc.Open(context.Background(), "map")
	require.NoError(t, err)
	f.id = id
	t.Cleanup(f.svc.CloseAll)
	return f
}

func (f *mapFixture) snapshot(t *testing.T) *usecases.MapSnapshot {
	t.Helper()
	s, err := f.svc.Snapshot(f.id)
	require.NoError(t, err)
	return s
}

func (f *mapFixture) eventually(t *testing.T, cond func(*usecases.MapSnapshot) bool, msg string) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, err := f.svc.Snapshot(f.id)
		return err == nil && cond(s)
	}, 2*time.Second, 5*time.Millisecond, msg)
}

func centerGeocoder() *mockGeocoder {
	return &mockGeocoder{geocodeFn: func(ctx context.Context, address string) (*domain.GeocodeResult, error) {
		return &domain.GeocodeResult{Coordinate: saoPaulo, FormattedAddress: "Praça da Sé", PlaceID: "se"}, nil
	}}
}

func TestMapService_OpenDrawsInventory(t *testing.T) {
	f := newMapFixture(t, centerGeocoder())

	snap := f.snapshot(t)
	assert.Equal(t, 4, snap.Layers["inventory"])
	assert.False(t, snap.SearchActive)
	assert.Equal(t, 1, f.log.count(mapview.EventFitBounds))
	assert.Equal(t, 1, f.svc.Sessions())

	layers, err := f.svc.Layers(f.id)
	require.NoError(t, err)
	assert.Len(t, layers, 4)
}

func TestMapService_AddressSearchAfterQuietPeriod(t *testing.T) {
	f := newMapFixture(t, centerGeocoder())

	require.NoError(t, f.svc.Input(f.id, usecases.FieldAddress, "Praça"))
	require.NoError(t, f.svc.Input(f.id, usecases.FieldAddress, "Praça da Sé"))
	f.clk.Add(799 * time.Millisecond)
	assert.False(t, f.snapshot(t).SearchActive)

	f.clk.Add(time.Millisecond)
	f.eventually(t, func(s *usecases.MapSnapshot) bool { return s.SearchActive && len(s.Results) == 3 }, "search applied")

	snap := f.snapshot(t)
	assert.Equal(t, "Praça da Sé", snap.Address)
	assert.Equal(t, saoPaulo, *snap.Center)
	assert.Equal(t, 3, snap.Layers["search_result"])
	assert.Equal(t, 1, snap.Layers["search_center"])
	assert.Equal(t, 1, snap.Layers["radius_circle"])
	assert.Equal(t, 4, snap.Layers["inventory"])
	assert.Equal(t, 1, f.log.count(mapview.EventFitBounds), "search never fits the viewport")
}

func TestMapService_RadiusChangeReruns(t *testing.T) {
	f := newMapFixture(t, centerGeocoder())

	require.NoError(t, f.svc.Submit(f.id, usecases.FieldAddress, "Praça da Sé"))
	f.eventually(t, func(s *usecases.MapSnapshot) bool { return len(s.Results) == 3 }, "address applied")

	require.NoError(t, f.svc.Input(f.id, usecases.FieldRadius, "3"))
	f.clk.Add(300 * time.Millisecond)
	f.eventually(t, func(s *usecases.MapSnapshot) bool { return s.RadiusKm == 3 && len(s.Results) == 2 }, "radius applied")
	assert.Equal(t, 2, f.snapshot(t).Layers["search_result"])

	require.NoError(t, f.svc.Input(f.id, usecases.FieldWeeks, "12"))
	f.clk.Add(300 * time.Millisecond)
	f.eventually(t, func(s *usecases.MapSnapshot) bool {
		return s.Weeks == 12 && len(s.Results) == 2 && s.Results[0].WeeklyPrice.String() == "170"
	}, "weeks applied")
}

func TestMapService_FilterBeforeAddressOnlyStoresParams(t *testing.T) {
	f := newMapFixture(t, centerGeocoder())

	require.NoError(t, f.svc.Submit(f.id, usecases.FieldRadius, "500"))
	f.eventually(t, func(s *usecases.MapSnapshot) bool { return s.RadiusKm == domain.MaxRadiusKm }, "radius stored and clamped")
	assert.False(t, f.snapshot(t).SearchActive)
}

func resultIDs(results []domain.SearchResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids
}

func TestMapService_AddressLandingAfterRadiusChange(t *testing.T) {
	paulista := domain.Coordinate{Lat: -23.5648, Lng: -46.6519}
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	geo := &mockGeocoder{geocodeFn: func(ctx context.Context, address string) (*domain.GeocodeResult, error) {
		if address == "Av Paulista 1000" {
			if calls.Add(1) == 1 {
				close(entered)
				<-release
			}
			return &domain.GeocodeResult{Coordinate: paulista}, nil
		}
		return &domain.GeocodeResult{Coordinate: saoPaulo}, nil
	}}
	f := newMapFixture(t, geo)

	require.NoError(t, f.svc.Submit(f.id, usecases.FieldAddress, "Praça da Sé"))
	f.eventually(t, func(s *usecases.MapSnapshot) bool { return len(s.Results) == 3 }, "first address applied")

	// slow address search issued before a fast radius search
	require.NoError(t, f.svc.Input(f.id, usecases.FieldAddress, "Av Paulista 1000"))
	f.clk.Add(800 * time.Millisecond)
	<-entered
	require.NoError(t, f.svc.Input(f.id, usecases.FieldRadius, "3"))
	f.clk.Add(300 * time.Millisecond)
	f.eventually(t, func(s *usecases.MapSnapshot) bool { return s.RadiusKm == 3 && len(s.Results) == 2 }, "radius applied")

	// the address still wins, searched again at the newer radius
	close(release)
	f.eventually(t, func(s *usecases.MapSnapshot) bool {
		return s.Center != nil && *s.Center == paulista && len(s.Results) == 1
	}, "newest address shown at newest radius")

	snap := f.snapshot(t)
	assert.Equal(t, "Av Paulista 1000", snap.Address)
	assert.Equal(t, 3.0, snap.RadiusKm)
	assert.Equal(t, []string{"center"}, resultIDs(snap.Results))
	assert.Equal(t, 1, snap.Layers["search_result"])

	// retyping the shown address is a duplicate, not a lost update
	require.NoError(t, f.svc.Input(f.id, usecases.FieldAddress, "Av Paulista 100"))
	require.NoError(t, f.svc.Input(f.id, usecases.FieldAddress, "Av Paulista 1000"))
	f.clk.Add(800 * time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, paulista, *f.snapshot(t).Center)
}

func TestMapService_LateFilterKeepsNewerField(t *testing.T) {
	var armed atomic.Bool
	entered := make(chan struct{})
	release := make(chan struct{})
	repo := staticInventory(spInventory()...)
	inner := repo.listActiveFn
	repo.listActiveFn = func(ctx context.Context, b *domain.Bounds) ([]domain.ScreenRecord, error) {
		if armed.CompareAndSwap(true, false) {
			close(entered)
			<-release
		}
		return inner(ctx, b)
	}
	f := newMapFixtureWithRepo(t, centerGeocoder(), repo)

	require.NoError(t, f.svc.Submit(f.id, usecases.FieldAddress, "Praça da Sé"))
	f.eventually(t, func(s *usecases.MapSnapshot) bool { return len(s.Results) == 3 }, "address applied")

	armed.Store(true)
	require.NoError(t, f.svc.Submit(f.id, usecases.FieldRadius, "3"))
	<-entered
	require.NoError(t, f.svc.Submit(f.id, usecases.FieldWeeks, "12"))
	f.eventually(t, func(s *usecases.MapSnapshot) bool { return s.Weeks == 12 }, "weeks applied")

	close(release)
	f.eventually(t, func(s *usecases.MapSnapshot) bool {
		return s.RadiusKm == 3 && s.Weeks == 12 && len(s.Results) == 2 &&
			s.Results[0].WeeklyPrice.String() == "170"
	}, "both filters applied")
}

func TestMapService_FiltersBeforeAddressKeepEachField(t *testing.T) {
	f := newMapFixture(t, centerGeocoder())

	require.NoError(t, f.svc.Submit(f.id, usecases.FieldRadius, "3"))
	require.NoError(t, f.svc.Submit(f.id, usecases.FieldWeeks, "8"))
	f.eventually(t, func(s *usecases.MapSnapshot) bool { return s.RadiusKm == 3 && s.Weeks == 8 }, "filters stored")

	require.NoError(t, f.svc.Submit(f.id, usecases.FieldAddress, "Praça da Sé"))
	f.eventually(t, func(s *usecases.MapSnapshot) bool {
		return s.SearchActive && len(s.Results) == 2 && s.Results[0].WeeklyPrice.String() == "180"
	}, "address searched with stored filters")
}

func TestMapService_NoMatchAndFailures(t *testing.T) {
	geo := &mockGeocoder{geocodeFn: func(ctx context.Context, address string) (*domain.GeocodeResult, error) {
		switch address {
		case "Praça da Sé":
			return &domain.GeocodeResult{Coordinate: saoPaulo}, nil
		case "Rua Fora do Ar":
			return nil, &domain.GeocodeError{Kind: domain.ErrProviderUnavailable, Address: address}
		default:
			return nil, &domain.GeocodeError{Kind: domain.ErrNoMatch, Address: address}
		}
	}}
	f := newMapFixture(t, geo)

	require.NoError(t, f.svc.Submit(f.id, usecases.FieldAddress, "Praça da Sé"))
	f.eventually(t, func(s *usecases.MapSnapshot) bool { return len(s.Results) == 3 }, "address applied")

	// auto failure: silent, results untouched
	require.NoError(t, f.svc.Input(f.id, usecases.FieldAddress, "Rua Fora do Ar"))
	f.clk.Add(800 * time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	snap := f.snapshot(t)
	assert.Len(t, snap.Results, 3)
	assert.Empty(t, snap.Notice)

	// explicit failure: visible notice
	require.NoError(t, f.svc.Submit(f.id, usecases.FieldAddress, "Rua Fora do Ar"))
	f.eventually(t, func(s *usecases.MapSnapshot) bool { return s.Notice != "" }, "notice shown")
	assert.Len(t, f.snapshot(t).Results, 3)
	assert.GreaterOrEqual(t, f.log.count(mapview.EventNotice), 1)

	// no match: results cleared with an informational notice
	require.NoError(t, f.svc.Submit(f.id, usecases.FieldAddress, "Lugar Nenhum"))
	f.eventually(t, func(s *usecases.MapSnapshot) bool { return !s.SearchActive && len(s.Results) == 0 }, "no match applied")
	assert.Equal(t, "Endereço não encontrado", f.snapshot(t).Notice)
}

func TestMapService_ClearingAddressDropsSearch(t *testing.T) {
	f := newMapFixture(t, centerGeocoder())

	require.NoError(t, f.svc.Submit(f.id, usecases.FieldAddress, "Praça da Sé"))
	f.eventually(t, func(s *usecases.MapSnapshot) bool { return s.SearchActive }, "address applied")

	require.NoError(t, f.svc.Input(f.id, usecases.FieldAddress, ""))
	f.eventually(t, func(s *usecases.MapSnapshot) bool { return !s.SearchActive }, "search cleared")
	snap := f.snapshot(t)
	assert.Nil(t, snap.Center)
	assert.Equal(t, 0, snap.Layers["search_result"])
	assert.Equal(t, 4, snap.Layers["inventory"])
}

func TestMapService_ViewportAndClose(t *testing.T) {
	f := newMapFixture(t, centerGeocoder())

	require.NoError(t, f.svc.SetViewport(f.id, domain.Coordinate{Lat: -23.6, Lng: -46.7}, 14))
	snap := f.snapshot(t)
	assert.Equal(t, 14, snap.Zoom)
	assert.Error(t, f.svc.SetViewport(f.id, domain.Coordinate{Lat: 100}, 14))

	require.NoError(t, f.svc.ClearSearch(f.id))
	require.NoError(t, f.svc.Close(f.id))
	assert.Equal(t, 0, f.svc.Sessions())
	assert.ErrorIs(t, f.svc.Close(f.id), domain.ErrNotFound)
	assert.ErrorIs(t, f.svc.Input(f.id, usecases.FieldAddress, "x"), usecases.ErrSessionNotFound)
	_, err := f.svc.Snapshot(f.id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMapService_UnknownField(t *testing.T) {
	f := newMapFixture(t, centerGeocoder())
	assert.ErrorIs(t, f.svc.Input(f.id, "class", "A"), domain.ErrInvalidInput)
}

func TestMapService_SessionLimit(t *testing.T) {
	cfg := usecases.DefaultMapConfig()
	cfg.Clock = clock.NewMock()
	cfg.MaxSessions = 1
	svc := usecases.NewMapService(usecases.NewSearchService(staticInventory(), nil, nil, 0), nil, cfg)
	t.Cleanup(svc.CloseAll)

	_, err := svc.Open(context.Background(), "a")
	require.NoError(t, err)
	_, err = svc.Open(context.Background(), "b")
	assert.ErrorIs(t, err, usecases.ErrSessionLimit)
}
