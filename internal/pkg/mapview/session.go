package mapview

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/twpayne/go-geom"

	"github.com/tvdoutor/screenfinder/internal/core/domain"
	"github.com/tvdoutor/screenfinder/internal/pkg/metrics"
)

// Options configures a new Session.
type Options struct {
	Center domain.Coordinate
	Zoom   int
	Fit    FitOptions
	Logger *slog.Logger
}

// DefaultOptions centres on São Paulo at city zoom.
func DefaultOptions() Options {
	return Options{
		Center: domain.Coordinate{Lat: -23.5505, Lng: -46.6333},
		Zoom:   12,
		Fit:    FitOptions{Padding: 20, MaxZoom: 15},
	}
}

// Session owns one map instance.
type Session struct {
	container string
	r         Renderer
	fit       FitOptions
	logger    *slog.Logger

	mu           sync.Mutex
	layers       []LayerHandle
	center       domain.Coordinate
	zoom         int
	searchCenter *domain.Coordinate
	closed       bool
}

// Open creates the map in container and positions the initial viewport.
func Open(container string, r Renderer, opts Options) (*Session, error) {
	if opts.Zoom <= 0 {
		opts.Zoom = DefaultOptions().Zoom
	}
	if opts.Fit.MaxZoom <= 0 {
		opts.Fit = DefaultOptions().Fit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Session{
		container: container,
		r:         r,
		fit:       opts.Fit,
		logger:    opts.Logger.With("map", container),
		center:    opts.Center,
		zoom:      opts.Zoom,
	}
	if err := r.SetView(opts.Center, opts.Zoom); err != nil {
		return nil, fmt.Errorf("open map %s: %w", container, err)
	}
	metrics.ActiveMapSessions.Inc()
	return s, nil
}

// Container returns the element id the session was opened on.
func (s *Session) Container() string { return s.container }

// Reconcile replaces every layer carrying tag with markers.
func (s *Session) Reconcile(tag LayerTag, markers []Marker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.reconcileLocked(tag, markers)
}

func (s *Session) reconcileLocked(tag LayerTag, markers []Marker) error {
	var errs []error

	kept := s.layers[:0]
	for _, h := range s.layers {
		if h.Tag != tag {
			kept = append(kept, h)
			continue
		}
		if err := s.r.RemoveLayer(h.ID); err != nil && !errors.Is(err, ErrUnknownLayer) {
			// still drawn; retried on the next sweep
			kept = append(kept, h)
			errs = append(errs, fmt.Errorf("remove %s layer %s: %w", tag, h.ID, err))
		}
	}
	s.layers = kept

	for _, m := range markers {
		m.Tag = tag
		id, err := s.r.AddMarker(m)
		if err != nil {
			errs = append(errs, fmt.Errorf("add %s marker: %w", tag, err))
			continue
		}
		s.layers = append(s.layers, LayerHandle{ID: id, Tag: tag})
	}

	metrics.MapLayers.WithLabelValues(tag.String()).Set(float64(s.countLocked(tag)))
	return errors.Join(errs...)
}

// ShowInventory draws the inventory layer priced for a campaign of weeks.
// The viewport is fitted to the markers only while no search is displayed.
func (s *Session) ShowInventory(screens []domain.ScreenRecord, weeks int) error {
	markers := inventoryMarkers(screens, weeks)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.reconcileLocked(Inventory, markers); err != nil {
		return err
	}
	if s.searchCenter != nil || len(markers) == 0 {
		return nil
	}

	b, ok := MarkerBounds(markers)
	if !ok {
		return nil
	}
	return s.r.FitBounds(b, s.fit)
}

// RepriceInventory redraws the inventory popups for a new campaign duration
// without touching the viewport.
func (s *Session) RepriceInventory(screens []domain.ScreenRecord, weeks int) error {
	markers := inventoryMarkers(screens, weeks)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.reconcileLocked(Inventory, markers)
}

func inventoryMarkers(screens []domain.ScreenRecord, weeks int) []Marker {
	markers := make([]Marker, 0, len(screens))
	for _, sc := range screens {
		if sc.Coordinate == nil {
			continue
		}
		markers = append(markers, Marker{
			Position: *sc.Coordinate,
			Icon:     IconScreen,
			Title:    sc.Label(),
			Popup:    ScreenPopup(sc, weeks),
			ScreenID: sc.ID,
		})
	}
	return markers
}

// ShowSearch draws the result markers, the search centre and the radius
// circle. It never fits the viewport; a new centre is panned to at the
// current zoom.
func (s *Session) ShowSearch(center domain.Coordinate, radiusKm float64, results []domain.SearchResult) error {
	markers := make([]Marker, 0, len(results))
	for _, r := range results {
		if r.Coordinate == nil {
			continue
		}
		markers = append(markers, Marker{
			Position: *r.Coordinate,
			Icon:     IconResult,
			Title:    r.Label(),
			Popup:    ResultPopup(r),
			ScreenID: r.ID,
		})
	}
	centerMarker := Marker{Position: center, Icon: IconCenter, Title: center.String()}
	circle := Marker{Position: center, Icon: IconCircle, RadiusMeters: radiusKm * 1000}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	errs := []error{
		s.reconcileLocked(SearchResult, markers),
		s.reconcileLocked(SearchCenter, []Marker{centerMarker}),
		s.reconcileLocked(RadiusCircle, []Marker{circle}),
	}

	if s.searchCenter == nil || *s.searchCenter != center {
		c := center
		s.searchCenter = &c
		s.center = center
		errs = append(errs, s.r.SetView(center, s.zoom))
	}
	return errors.Join(errs...)
}

// ClearSearch removes the search layers and hands the viewport back to
// the inventory fit.
func (s *Session) ClearSearch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.searchCenter = nil
	return errors.Join(
		s.reconcileLocked(SearchResult, nil),
		s.reconcileLocked(SearchCenter, nil),
		s.reconcileLocked(RadiusCircle, nil),
	)
}

// SetViewport records a pan or zoom made by the user.
func (s *Session) SetViewport(center domain.Coordinate, zoom int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.center = center
	if zoom > 0 {
		s.zoom = zoom
	}
}

// Viewport returns the last known centre and zoom.
func (s *Session) Viewport() (domain.Coordinate, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.center, s.zoom
}

// SearchActive reports whether search layers are displayed.
func (s *Session) SearchActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searchCenter != nil
}

// LayerCount returns the number of layers carrying tag.
func (s *Session) LayerCount(tag LayerTag) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countLocked(tag)
}

// Counts returns layer counts per tag name.
func (s *Session) Counts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(tagNames))
	for i := range tagNames {
		out[LayerTag(i).String()] = s.countLocked(LayerTag(i))
	}
	return out
}

func (s *Session) countLocked(tag LayerTag) int {
	n := 0
	for _, h := range s.layers {
		if h.Tag == tag {
			n++
		}
	}
	return n
}

// Close removes every layer and releases the map. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for _, h := range s.layers {
		if err := s.r.RemoveLayer(h.ID); err != nil && !errors.Is(err, ErrUnknownLayer) {
			errs = append(errs, err)
		}
	}
	s.layers = nil
	metrics.ActiveMapSessions.Dec()
	s.logger.Debug("map session closed")
	return errors.Join(errs...)
}

// MarkerBounds returns the bounding box of the point markers.
func MarkerBounds(markers []Marker) (domain.Bounds, bool) {
	b := geom.NewBounds(geom.XY)
	for _, m := range markers {
		b.Extend(geom.NewPointFlat(geom.XY, []float64{m.Position.Lng, m.Position.Lat}))
	}
	if b.IsEmpty() {
		return domain.Bounds{}, false
	}
	return domain.Bounds{MinLat: b.Min(1), MinLng: b.Min(0), MaxLat: b.Max(1), MaxLng: b.Max(0)}, true
}
