// Package mapview keeps the screen markers of one interactive map in step
// with the current inventory and search results.
//
// All layer changes go through a Session, which owns the map instance for the
// lifetime of a page. Reconciling a tag always removes every layer carrying
// that tag before adding the new set, so repeated renders never accumulate
// duplicate markers.
package mapview

import (
	"errors"

	"github.com/tvdoutor/screenfinder/internal/core/domain"
)

// LayerTag groups the layers that are replaced together.
type LayerTag int

const (
	Inventory LayerTag = iota
	SearchResult
	SearchCenter
	RadiusCircle
)

var tagNames = [...]string{"inventory", "search_result", "search_center", "radius_circle"}

func (t LayerTag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return "unknown"
}

// MarshalText encodes the tag by name in events sent to the browser.
func (t LayerTag) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText decodes a tag name.
func (t *LayerTag) UnmarshalText(b []byte) error {
	for i, n := range tagNames {
		if n == string(b) {
			*t = LayerTag(i)
			return nil
		}
	}
	return errors.New("mapview: unknown layer tag " + string(b))
}

// IconKind selects how the browser draws a marker.
type IconKind string

const (
	IconScreen IconKind = "screen"
	IconResult IconKind = "result"
	IconCenter IconKind = "center"
	IconCircle IconKind = "circle"
)

// LayerID identifies a layer on the renderer.
type LayerID string

// LayerHandle is a layer the session has added, with the tag it was added under.
type LayerHandle struct {
	ID  LayerID
	Tag LayerTag
}

// Marker is one drawable map layer. Circles use RadiusMeters; everything
// else is a point marker.
type Marker struct {
	Tag          LayerTag          `json:"tag"`
	Position     domain.Coordinate `json:"position"`
	Icon         IconKind          `json:"icon"`
	RadiusMeters float64           `json:"radius_m,omitempty"`
	Title        string            `json:"title,omitempty"`
	Popup        string            `json:"popup,omitempty"`
	ScreenID     string            `json:"screen_id,omitempty"`
}

// FitOptions bounds an automatic fit-to-markers.
type FitOptions struct {
	Padding int `json:"padding"`
	MaxZoom int `json:"max_zoom"`
}

// Renderer is the map library surface a Session drives.
type Renderer interface {
	AddMarker(m Marker) (LayerID, error)
	RemoveLayer(id LayerID) error
	SetView(center domain.Coordinate, zoom int) error
	FitBounds(b domain.Bounds, opts FitOptions) error
}

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("mapview: session closed")

// ErrUnknownLayer is returned when removing a layer the renderer never added.
var ErrUnknownLayer = errors.New("mapview: unknown layer")
