package mapview

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tvdoutor/screenfinder/internal/core/domain"
)

// EventKind names a renderer operation replayed by the browser.
type EventKind string

const (
	EventAddMarker   EventKind = "add_marker"
	EventRemoveLayer EventKind = "remove_layer"
	EventSetView     EventKind = "set_view"
	EventFitBounds   EventKind = "fit_bounds"
	EventNotice      EventKind = "notice"
)

// Event is one renderer operation.
type Event struct {
	Session string             `json:"session"`
	Seq     uint64             `json:"seq"`
	Kind    EventKind          `json:"kind"`
	LayerID LayerID            `json:"layer_id,omitempty"`
	Marker  *Marker            `json:"marker,omitempty"`
	Center  *domain.Coordinate `json:"center,omitempty"`
	Zoom    int                `json:"zoom,omitempty"`
	Bounds  *domain.Bounds     `json:"bounds,omitempty"`
	Fit     *FitOptions        `json:"fit,omitempty"`
	Level   string             `json:"level,omitempty"`
	Message string             `json:"message,omitempty"`
	Time    time.Time          `json:"time"`
}

// Sink receives renderer events, in order.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Emit(ctx context.Context, ev Event) error { return f(ctx, ev) }

// EventRenderer is a Renderer that keeps the layer registry on the server and
// streams every operation to a Sink. Sink failures are logged; the registry
// stays authoritative and a reconnecting client replays it via Layers.
type EventRenderer struct {
	session string
	sink    Sink
	logger  *slog.Logger

	mu     sync.Mutex
	seq    uint64
	nextID uint64
	layers map[LayerID]Marker
}

// NewEventRenderer creates a renderer for the given session id.
func NewEventRenderer(session string, sink Sink) *EventRenderer {
	return &EventRenderer{
		session: session,
		sink:    sink,
		logger:  slog.Default().With("session", session),
		layers:  make(map[LayerID]Marker),
	}
}

func (r *EventRenderer) AddMarker(m Marker) (LayerID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := LayerID(fmt.Sprintf("%s-%d", m.Tag, r.nextID))
	r.layers[id] = m
	r.emitLocked(Event{Kind: EventAddMarker, LayerID: id, Marker: &m})
	return id, nil
}

func (r *EventRenderer) RemoveLayer(id LayerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.layers[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLayer, id)
	}
	delete(r.layers, id)
	r.emitLocked(Event{Kind: EventRemoveLayer, LayerID: id})
	return nil
}

func (r *EventRenderer) SetView(center domain.Coordinate, zoom int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitLocked(Event{Kind: EventSetView, Center: &center, Zoom: zoom})
	return nil
}

func (r *EventRenderer) FitBounds(b domain.Bounds, opts FitOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitLocked(Event{Kind: EventFitBounds, Bounds: &b, Fit: &opts})
	return nil
}

// Notify streams a user-facing message alongside the layer operations.
func (r *EventRenderer) Notify(level, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitLocked(Event{Kind: EventNotice, Level: level, Message: message})
}

// Layers returns a copy of the live layer registry.
func (r *EventRenderer) Layers() map[LayerID]Marker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[LayerID]Marker, len(r.layers))
	for id, m := range r.layers {
		out[id] = m
	}
	return out
}

func (r *EventRenderer) emitLocked(ev Event) {
	if r.sink == nil {
		return
	}
	r.seq++
	ev.Session = r.session
	ev.Seq = r.seq
	ev.Time = time.Now().UTC()
	if err := r.sink.Emit(context.Background(), ev); err != nil {
		r.logger.Warn("map event not delivered", "kind", ev.Kind, "seq", ev.Seq, "error", err)
	}
}
