// Package valkey is the shared tier of the heatmap aggregate cache.
package valkey

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/tvdoutor/screenfinder/internal/pkg/config"
)

// Cache implements ports.CacheService on Valkey (Redis-compatible).
type Cache struct {
	client valkey.Client
}

// New connects to Valkey and pings it. Server-assisted client caching is
// off: entries are whole heatmap payloads read once per process and TTL.
func New(ctx context.Context, cfg config.ValkeyConfig) (*Cache, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:  []string{cfg.Addr},
		Username:     cfg.Username,
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		DisableCache: true,
		ClientName:   "screenfinder",
	})
	if err != nil {
		return nil, fmt.Errorf("valkey connect %s: %w", cfg.Addr, err)
	}
	c := &Cache{client: client}
	if err := c.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("valkey ping %s: %w", cfg.Addr, err)
	}
	return c, nil
}

// Get returns the value at key. A missing key is nil, nil.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Do(ctx, c.client.B().Get().Key(key).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("valkey get %s: %w", key, err)
	}
	return b, nil
}

// Set stores value with a TTL in seconds, at least one.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	ttl := time.Duration(max(ttlSeconds, 1)) * time.Second
	err := c.client.Do(ctx, c.client.B().Set().Key(key).Value(valkey.BinaryString(value)).Ex(ttl).Build()).Error()
	if err != nil {
		return fmt.Errorf("valkey set %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Do(ctx, c.client.B().Del().Key(key).Build()).Error(); err != nil {
		return fmt.Errorf("valkey del %s: %w", key, err)
	}
	return nil
}

// Ping checks the connection, for readiness probes.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Do(ctx, c.client.B().Ping().Build()).Error()
}

// Close releases the client.
func (c *Cache) Close() {
	c.client.Close()
}
