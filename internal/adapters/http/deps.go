package http

import (
	"github.com/nats-io/nats.go"

	"github.com/tvdoutor/screenfinder/internal/adapters/postgres"
	"github.com/tvdoutor/screenfinder/internal/adapters/valkey"
	"github.com/tvdoutor/screenfinder/internal/core/usecases"
)

// MapEventSource delivers the raw layer events of a map session.
type MapEventSource interface {
	SubscribeMap(sessionID string, handler func(data []byte)) (unsubscribe func(), err error)
}

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Search    *usecases.SearchService
	Heatmap   *usecases.HeatmapService
	Maps      *usecases.MapService
	MapEvents MapEventSource
	// GeocoderReady is false when no provider key is configured.
	GeocoderReady bool
	NATS          *nats.Conn
	DB            *postgres.DB
	Cache         *valkey.Cache
}
