package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"

	"github.com/tvdoutor/screenfinder/internal/core/domain"
	"github.com/tvdoutor/screenfinder/internal/pkg/debounce"
	"github.com/tvdoutor/screenfinder/internal/pkg/mapview"
)

// MapField names a debounced input of a map session.
type MapField string

const (
	FieldAddress MapField = "address"
	FieldRadius  MapField = "radius"
	FieldWeeks   MapField = "weeks"
)

var (
	// ErrSessionNotFound is returned for unknown or closed map sessions.
	ErrSessionNotFound = fmt.Errorf("map session %w", domain.ErrNotFound)
	// ErrSessionLimit is returned by Open when MaxSessions are already open.
	ErrSessionLimit = errors.New("map session limit reached")
)

// MapConfig tunes live map sessions.
type MapConfig struct {
	AddressInterval  time.Duration
	AddressMinLength int
	FilterInterval   time.Duration
	Timeout          time.Duration
	// MaxSessions caps open sessions; zero means unlimited.
	MaxSessions      int
	View             mapview.Options
	Clock            clock.Clock
}

// DefaultMapConfig returns the console defaults.
func DefaultMapConfig() MapConfig {
	return MapConfig{
		AddressInterval:  800 * time.Millisecond,
		AddressMinLength: 5,
		FilterInterval:   300 * time.Millisecond,
		Timeout:          15 * time.Second,
		View:             mapview.DefaultOptions(),
	}
}

// SinkFactory returns the event sink of a new session.
type SinkFactory func(sessionID string) mapview.Sink

// MapSnapshot is the visible state of a map session.
type MapSnapshot struct {
	ID           string                `json:"id"`
	Address      string                `json:"address"`
	Geocode      *domain.GeocodeResult `json:"geocode,omitempty"`
	Center       *domain.Coordinate    `json:"center,omitempty"`
	RadiusKm     float64               `json:"radius_km"`
	Weeks        int                   `json:"weeks"`
	Results      []domain.SearchResult `json:"results"`
	Layers       map[string]int        `json:"layers"`
	Viewport     domain.Coordinate     `json:"viewport"`
	Zoom         int                   `json:"zoom"`
	SearchActive bool                  `json:"search_active"`
	Notice       string                `json:"notice,omitempty"`
}

// MapService runs server-side map sessions: keystrokes come in, marker
// updates go out through each session's sink.
type MapService struct {
	search *SearchService
	sinks  SinkFactory
	cfg    MapConfig

	mu       sync.RWMutex
	sessions map[string]*mapSession
}

// NewMapService creates a new MapService.
func NewMapService(search *SearchService, sinks SinkFactory, cfg MapConfig) *MapService {
	def := DefaultMapConfig()
	if cfg.AddressInterval <= 0 {
		cfg.AddressInterval = def.AddressInterval
	}
	if cfg.AddressMinLength <= 0 {
		cfg.AddressMinLength = def.AddressMinLength
	}
	if cfg.FilterInterval <= 0 {
		cfg.FilterInterval = def.FilterInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.View.Zoom <= 0 {
		cfg.View = def.View
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &MapService{search: search, sinks: sinks, cfg: cfg, sessions: make(map[string]*mapSession)}
}

// mapResult is what every field controller of a session produces.
type mapResult struct {
	query   domain.SearchQuery
	geocode *domain.GeocodeResult
	results []domain.SearchResult
	noMatch bool
	// located is false for a filter change made before any centre is known
	located bool
}

type mapSession struct {
	id       string
	svc      *MapService
	view     *mapview.Session
	renderer *mapview.EventRenderer
	logger   *slog.Logger
	fields   map[MapField]*debounce.Controller[mapResult]

	base       context.Context
	baseCancel context.CancelFunc

	// inventory is drawn once at open and repriced when weeks changes
	inventory []domain.ScreenRecord

	mu      sync.Mutex
	address string
	geocode *domain.GeocodeResult
	center  *domain.Coordinate
	radius  float64
	weeks   int
	results []domain.SearchResult
	notice  string
	// refresh re-runs the search when a field result was computed with
	// parameters that changed while it was in flight
	refreshGen    uint64
	refreshCancel context.CancelFunc
}

// Open creates a map session on container and draws the inventory layer.
func (m *MapService) Open(ctx context.Context, container string) (string, error) {
	if limit := m.cfg.MaxSessions; limit > 0 && m.Sessions() >= limit {
		return "", ErrSessionLimit
	}
	id := uuid.NewString()

	var sink mapview.Sink
	if m.sinks != nil {
		sink = m.sinks(id)
	}
	renderer := mapview.NewEventRenderer(id, sink)
	opts := m.cfg.View
	opts.Logger = slog.Default().With("session", id)
	view, err := mapview.Open(container, renderer, opts)
	if err != nil {
		return "", err
	}

	ms := &mapSession{
		id:       id,
		svc:      m,
		view:     view,
		renderer: renderer,
		logger:   opts.Logger,
		radius:   domain.DefaultRadiusKm,
		weeks:    1,
	}
	ms.base, ms.baseCancel = context.WithCancel(context.Background())
	isFatal := func(err error) bool { return errors.Is(err, domain.ErrConfiguration) }
	ms.fields = map[MapField]*debounce.Controller[mapResult]{
		FieldAddress: debounce.New(debounce.Config{
			Name: string(FieldAddress), Interval: m.cfg.AddressInterval, MinLength: m.cfg.AddressMinLength,
			Timeout: m.cfg.Timeout, IsFatal: isFatal, Clock: m.cfg.Clock, Logger: ms.logger,
		}, ms.searchAddress, ms.applyAddress),
		FieldRadius: debounce.New(debounce.Config{
			Name: string(FieldRadius), Interval: m.cfg.FilterInterval, MinLength: 1,
			Timeout: m.cfg.Timeout, IsFatal: isFatal, Clock: m.cfg.Clock, Logger: ms.logger,
		}, ms.searchRadius, ms.applyFilter(FieldRadius)),
		FieldWeeks: debounce.New(debounce.Config{
			Name: string(FieldWeeks), Interval: m.cfg.FilterInterval, MinLength: 1,
			Timeout: m.cfg.Timeout, IsFatal: isFatal, Clock: m.cfg.Clock, Logger: ms.logger,
		}, ms.searchWeeks, ms.applyFilter(FieldWeeks)),
	}

	if inv, err := m.search.Inventory(ctx); err != nil {
		ms.logger.Warn("inventory layer unavailable", "error", err)
	} else {
		ms.inventory = inv
		if err := view.ShowInventory(inv, ms.weeks); err != nil {
			ms.logger.Warn("inventory layer incomplete", "error", err)
		}
	}

	m.mu.Lock()
	m.sessions[id] = ms
	m.mu.Unlock()
	return id, nil
}

// Close stops the session's controllers and removes all of its layers.
func (m *MapService) Close(id string) error {
	m.mu.Lock()
	ms, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	for _, c := range ms.fields {
		c.Close()
	}
	ms.mu.Lock()
	ms.stopRefreshLocked()
	ms.mu.Unlock()
	ms.baseCancel()
	return ms.view.Close()
}

// CloseAll closes every open session.
func (m *MapService) CloseAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		_ = m.Close(id)
	}
}

// Input feeds a keystroke-level change of field.
func (m *MapService) Input(id string, field MapField, value string) error {
	c, err := m.controller(id, field)
	if err != nil {
		return err
	}
	c.Input(value)
	return nil
}

// Submit runs field's search immediately.
func (m *MapService) Submit(id string, field MapField, value string) error {
	c, err := m.controller(id, field)
	if err != nil {
		return err
	}
	c.Submit(value)
	return nil
}

// SetViewport records a pan or zoom made in the browser.
func (m *MapService) SetViewport(id string, center domain.Coordinate, zoom int) error {
	ms, err := m.session(id)
	if err != nil {
		return err
	}
	if err := center.Validate(); err != nil {
		return err
	}
	ms.view.SetViewport(center, zoom)
	return nil
}

// ClearSearch drops the current search and its layers.
func (m *MapService) ClearSearch(id string) error {
	ms, err := m.session(id)
	if err != nil {
		return err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.stopRefreshLocked()
	ms.center = nil
	ms.geocode = nil
	ms.results = nil
	return ms.view.ClearSearch()
}

// Snapshot returns the visible state of a session.
func (m *MapService) Snapshot(id string) (*MapSnapshot, error) {
	ms, err := m.session(id)
	if err != nil {
		return nil, err
	}
	center, zoom := ms.view.Viewport()

	ms.mu.Lock()
	defer ms.mu.Unlock()
	snap := &MapSnapshot{
		ID:           ms.id,
		Address:      ms.address,
		Geocode:      ms.geocode,
		Center:       ms.center,
		RadiusKm:     ms.radius,
		Weeks:        ms.weeks,
		Results:      ms.results,
		Layers:       ms.view.Counts(),
		Viewport:     center,
		Zoom:         zoom,
		SearchActive: ms.view.SearchActive(),
		Notice:       ms.notice,
	}
	if snap.Results == nil {
		snap.Results = []domain.SearchResult{}
	}
	return snap, nil
}

// Layers returns the live layers of a session, for clients that (re)connect.
func (m *MapService) Layers(id string) (map[mapview.LayerID]mapview.Marker, error) {
	ms, err := m.session(id)
	if err != nil {
		return nil, err
	}
	return ms.renderer.Layers(), nil
}

// Sessions returns the number of open sessions.
func (m *MapService) Sessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *MapService) session(id string) (*mapSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return ms, nil
}

func (m *MapService) controller(id string, field MapField) (*debounce.Controller[mapResult], error) {
	ms, err := m.session(id)
	if err != nil {
		return nil, err
	}
	c, ok := ms.fields[field]
	if !ok {
		return nil, fmt.Errorf("%w: unknown field %q", domain.ErrInvalidInput, field)
	}
	return c, nil
}

// --- per-session search and apply ---

// params returns the current search parameters and whether a centre is known.
func (ms *mapSession) params() (domain.SearchQuery, bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.queryLocked()
}

func (ms *mapSession) queryLocked() (domain.SearchQuery, bool) {
	q := domain.SearchQuery{RadiusKm: ms.radius, DurationWeeks: ms.weeks}
	if ms.center == nil {
		return q, false
	}
	q.Center = *ms.center
	return q, true
}

func (ms *mapSession) searchAddress(ctx context.Context, address string) (mapResult, error) {
	q, _ := ms.params()
	res, err := ms.svc.search.SearchAddress(ctx, address, SearchParams{
		RadiusKm: q.RadiusKm, StartDate: q.StartDate, DurationWeeks: q.DurationWeeks,
	})
	if errors.Is(err, domain.ErrNoMatch) {
		return mapResult{query: q, noMatch: true}, nil
	}
	if err != nil {
		return mapResult{}, err
	}
	return mapResult{query: res.Query, geocode: &res.Geocode, results: res.Results, located: true}, nil
}

func (ms *mapSession) searchRadius(ctx context.Context, value string) (mapResult, error) {
	km, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(value), ",", "."), 64)
	if err != nil {
		return mapResult{}, fmt.Errorf("%w: radius %q", domain.ErrInvalidInput, value)
	}
	return ms.searchWith(ctx, func(q *domain.SearchQuery) { q.RadiusKm = domain.ClampRadius(km) })
}

func (ms *mapSession) searchWeeks(ctx context.Context, value string) (mapResult, error) {
	weeks, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || weeks < 1 {
		return mapResult{}, fmt.Errorf("%w: weeks %q", domain.ErrInvalidInput, value)
	}
	return ms.searchWith(ctx, func(q *domain.SearchQuery) { q.DurationWeeks = weeks })
}

func (ms *mapSession) searchWith(ctx context.Context, change func(*domain.SearchQuery)) (mapResult, error) {
	q, located := ms.params()
	change(&q)
	q = q.Normalize()
	if !located {
		return mapResult{query: q}, nil
	}
	results, err := ms.svc.search.SearchNear(ctx, q)
	if err != nil {
		return mapResult{}, err
	}
	return mapResult{query: q, results: results, located: true}, nil
}

func (ms *mapSession) applyAddress(o debounce.Outcome[mapResult]) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if o.Cleared {
		ms.address = ""
		ms.clearLocked()
		return
	}
	if o.Err != nil {
		ms.noticeLocked("error", noticeFor(o.Err))
		return
	}

	r := o.Result
	ms.address = o.Input
	if r.noMatch {
		ms.clearLocked()
		ms.noticeLocked("info", "Endereço não encontrado")
		return
	}

	c := r.query.Center
	ms.center = &c
	ms.geocode = r.geocode
	ms.notice = ""
	ms.reconcileLocked(&r)
}

// applyFilter writes only the parameter owned by field, so a late radius
// result never undoes a newer weeks change and vice versa.
func (ms *mapSession) applyFilter(field MapField) func(debounce.Outcome[mapResult]) {
	return func(o debounce.Outcome[mapResult]) {
		ms.mu.Lock()
		defer ms.mu.Unlock()

		if o.Cleared {
			switch field {
			case FieldRadius:
				ms.radius = domain.DefaultRadiusKm
			case FieldWeeks:
				ms.setWeeksLocked(1)
			}
			ms.reconcileLocked(nil)
			return
		}
		if o.Err != nil {
			ms.noticeLocked("error", noticeFor(o.Err))
			return
		}

		r := o.Result
		switch field {
		case FieldRadius:
			ms.radius = r.query.RadiusKm
		case FieldWeeks:
			ms.setWeeksLocked(r.query.DurationWeeks)
		}
		ms.reconcileLocked(&r)
	}
}

func (ms *mapSession) setWeeksLocked(weeks int) {
	if weeks == ms.weeks {
		return
	}
	ms.weeks = weeks
	if len(ms.inventory) == 0 {
		return
	}
	if err := ms.view.RepriceInventory(ms.inventory, weeks); err != nil {
		ms.logger.Warn("inventory layer incomplete", "error", err)
	}
}

// reconcileLocked shows r when it was computed with the current parameters
// and otherwise searches again with them.
func (ms *mapSession) reconcileLocked(r *mapResult) {
	want, located := ms.queryLocked()
	if !located {
		return
	}
	if r != nil && r.located && sameQuery(r.query, want) {
		ms.stopRefreshLocked()
		ms.showLocked(want, r.results)
		return
	}
	ms.refreshLocked(want)
}

func (ms *mapSession) refreshLocked(q domain.SearchQuery) {
	ms.stopRefreshLocked()
	gen := ms.refreshGen
	ctx, cancel := context.WithTimeout(ms.base, ms.svc.cfg.Timeout)
	ms.refreshCancel = cancel
	ms.logger.Debug("searching again with current parameters",
		"lat", q.Center.Lat, "lng", q.Center.Lng, "radius_km", q.RadiusKm, "weeks", q.DurationWeeks)

	go func() {
		defer cancel()
		results, err := ms.svc.search.SearchNear(ctx, q)

		ms.mu.Lock()
		defer ms.mu.Unlock()
		if gen != ms.refreshGen {
			return
		}
		ms.refreshCancel = nil
		if err != nil {
			ms.logger.Warn("refresh search failed", "error", err)
			return
		}
		if want, ok := ms.queryLocked(); ok && sameQuery(q, want) {
			ms.showLocked(q, results)
		}
	}()
}

func (ms *mapSession) stopRefreshLocked() {
	ms.refreshGen++
	if ms.refreshCancel != nil {
		ms.refreshCancel()
		ms.refreshCancel = nil
	}
}

func sameQuery(a, b domain.SearchQuery) bool {
	return a.Center == b.Center && a.RadiusKm == b.RadiusKm && a.DurationWeeks == b.DurationWeeks
}

func (ms *mapSession) showLocked(q domain.SearchQuery, results []domain.SearchResult) {
	c := q.Center
	ms.center = &c
	ms.results = results
	ms.notice = ""
	if err := ms.view.ShowSearch(c, q.RadiusKm, results); err != nil {
		ms.logger.Warn("search layers incomplete", "error", err)
	}
}

func (ms *mapSession) clearLocked() {
	ms.stopRefreshLocked()
	ms.center = nil
	ms.geocode = nil
	ms.results = nil
	if err := ms.view.ClearSearch(); err != nil {
		ms.logger.Warn("clear search layers", "error", err)
	}
}

func (ms *mapSession) noticeLocked(level, msg string) {
	ms.notice = msg
	ms.renderer.Notify(level, msg)
}

func noticeFor(err error) string {
	switch {
	case errors.Is(err, debounce.ErrTooShort):
		return "Endereço muito curto"
	case errors.Is(err, domain.ErrInvalidInput):
		return "Valor inválido"
	case errors.Is(err, domain.ErrConfiguration):
		return "Serviço de geolocalização não configurado"
	case errors.Is(err, domain.ErrProviderUnavailable):
		return "Serviço de geolocalização indisponível, tente novamente"
	case errors.Is(err, domain.ErrSearchUnavailable):
		return "Busca indisponível, tente novamente"
	default:
		return "Erro ao buscar telas"
	}
}
