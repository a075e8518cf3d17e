package ports

import (
	"context"

	"github.com/tvdoutor/screenfinder/internal/core/domain"
)

// Geocoder resolves free-text addresses. Failures are *domain.GeocodeError.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*domain.GeocodeResult, error)
}

// EventPublisher publishes domain events to a message broker.
type EventPublisher interface {
	PublishSearchExecuted(ctx context.Context, ev *domain.SearchEvent) error
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}
