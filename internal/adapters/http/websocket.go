package http

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/tvdoutor/screenfinder/internal/core/domain"
	"github.com/tvdoutor/screenfinder/internal/core/usecases"
	"github.com/tvdoutor/screenfinder/internal/pkg/mapview"
	"github.com/tvdoutor/screenfinder/internal/pkg/metrics"
)

// wsMessage is sent from the browser to drive its map session.
type wsMessage struct {
	Action string  `json:"action"` // "input" | "submit" | "viewport" | "clear"
	Field  string  `json:"field,omitempty"`
	Value  string  `json:"value,omitempty"`
	Lat    float64 `json:"lat,omitempty"`
	Lng    float64 `json:"lng,omitempty"`
	Zoom   int     `json:"zoom,omitempty"`
}

// MapSocketGuard rejects plain HTTP requests and unknown sessions before
// the upgrade.
func MapSocketGuard(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		if _, err := deps.Maps.Snapshot(c.Params("id")); err != nil {
			return errDomain(c, err)
		}
		return c.Next()
	}
}

// MapSocketHandler relays the layer events of one map session to the
// browser and applies the browser's input to the session. The session is
// closed when the socket goes away.
// Clients send JSON: {"action":"input","field":"address","value":"Av Paulista 1000"}
func MapSocketHandler(deps *Dependencies) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		id := c.Params("id")
		logger := slog.Default().With("session", id, "remote", c.RemoteAddr().String())
		logger.Info("map socket connected")
		metrics.ActiveWebSockets.Inc()
		defer metrics.ActiveWebSockets.Dec()

		var mu sync.Mutex
		// Helper: thread-safe write
		writeRaw := func(data []byte) error {
			mu.Lock()
			defer mu.Unlock()
			return c.WriteMessage(websocket.TextMessage, data)
		}
		writeJSON := func(v interface{}) error {
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			return writeRaw(data)
		}

		if deps.MapEvents != nil {
			unsubscribe, err := deps.MapEvents.SubscribeMap(id, func(data []byte) { _ = writeRaw(data) })
			if err != nil {
				logger.Error("map event subscribe failed", "error", err)
				return
			}
			defer unsubscribe()
		}
		replayLayers(deps, id, writeJSON)

		// Keep-alive ping
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					mu.Lock()
					err := c.WriteMessage(websocket.PingMessage, nil)
					mu.Unlock()
					if err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				break
			}

			var m wsMessage
			if err := json.Unmarshal(msg, &m); err != nil {
				_ = writeJSON(map[string]string{"error": "invalid JSON"})
				continue
			}
			if err := applySocketMessage(deps.Maps, id, m); err != nil {
				_ = writeJSON(map[string]string{"error": err.Error(), "action": m.Action})
			}
		}

		// Cleanup
		close(done)
		if err := deps.Maps.Close(id); err != nil {
			logger.Debug("map session already closed", "error", err)
		}
		logger.Info("map socket disconnected")
	}
}

func applySocketMessage(maps *usecases.MapService, id string, m wsMessage) error {
	switch m.Action {
	case "input":
		return maps.Input(id, usecases.MapField(m.Field), m.Value)
	case "submit":
		return maps.Submit(id, usecases.MapField(m.Field), m.Value)
	case "viewport":
		return maps.SetViewport(id, domain.Coordinate{Lat: m.Lat, Lng: m.Lng}, m.Zoom)
	case "clear":
		return maps.ClearSearch(id)
	default:
		return fiber.NewError(fiber.StatusBadRequest, "unknown action: "+m.Action)
	}
}

// replayLayers sends the viewport and live layers so a (re)connecting client
// starts in sync. Layer ids make the replay idempotent on the client.
func replayLayers(deps *Dependencies, id string, write func(interface{}) error) {
	snap, err := deps.Maps.Snapshot(id)
	if err != nil {
		return
	}
	_ = write(mapview.Event{Session: id, Kind: mapview.EventSetView, Center: &snap.Viewport, Zoom: snap.Zoom, Time: time.Now().UTC()})

	layers, err := deps.Maps.Layers(id)
	if err != nil {
		return
	}
	ids := make([]string, 0, len(layers))
	for lid := range layers {
		ids = append(ids, string(lid))
	}
	sort.Strings(ids)
	for _, lid := range ids {
		m := layers[mapview.LayerID(lid)]
		_ = write(mapview.Event{Session: id, Kind: mapview.EventAddMarker, LayerID: mapview.LayerID(lid), Marker: &m, Time: time.Now().UTC()})
	}
}
