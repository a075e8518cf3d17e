// Package aggcache memoizes expensive aggregate computations by signature.
//
// Entries expire lazily: an entry is live while now <= expiresAt and is only
// replaced when a read finds it expired. There is no background eviction and no
// size bound; the key space is the small set of filter combinations a console
// offers. Concurrent misses for the same key share a single computation.
package aggcache

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"golang.org/x/sync/singleflight"

	"github.com/tvdoutor/screenfinder/internal/core/ports"
	"github.com/tvdoutor/screenfinder/internal/pkg/metrics"
)

// ComputeFunc produces the value for a missing or expired key.
type ComputeFunc[V any] func(ctx context.Context) (V, error)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// envelope is the JSON form stored in the remote tier. It carries the absolute
// expiry so every process agrees on when an entry dies.
type envelope[V any] struct {
	ExpiresAt time.Time `json:"expires_at"`
	Value     V         `json:"value"`
}

type options struct {
	clock  clock.Clock
	remote ports.CacheService
	prefix string
	logger *slog.Logger
}

// Option configures a Cache.
type Option func(*options)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// WithRemote adds a shared tier consulted after a local miss.
func WithRemote(r ports.CacheService) Option { return func(o *options) { o.remote = r } }

// WithKeyPrefix namespaces keys in the remote tier.
func WithKeyPrefix(p string) Option { return func(o *options) { o.prefix = p } }

// WithLogger sets the logger used for remote tier failures.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// Cache is a TTL cache of computed values of type V.
type Cache[V any] struct {
	name string
	opts options

	mu      sync.Mutex
	entries map[string]entry[V]
	group   singleflight.Group
}

// New creates a cache. name labels its metrics.
func New[V any](name string, opts ...Option) *Cache[V] {
	o := options{clock: clock.New(), logger: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	return &Cache[V]{name: name, opts: o, entries: make(map[string]entry[V])}
}

// GetOrCompute returns the live entry for key, or computes, stores and
// returns a fresh one. Compute errors are returned and never stored.
func (c *Cache[V]) GetOrCompute(ctx context.Context, key string, compute ComputeFunc[V], ttl time.Duration) (V, error) {
	if v, ok := c.lookup(key); ok {
		metrics.CacheHits.WithLabelValues(c.name).Inc()
		return v, nil
	}

	res, err, _ := c.group.Do(key, func() (interface{}, error) {
		// another caller may have filled it while we waited for the flight
		if v, ok := c.lookup(key); ok {
			metrics.CacheHits.WithLabelValues(c.name).Inc()
			return v, nil
		}
		if v, ok := c.loadRemote(ctx, key); ok {
			metrics.CacheHits.WithLabelValues(c.name + "_remote").Inc()
			return v, nil
		}
		metrics.CacheMisses.WithLabelValues(c.name).Inc()
		return c.compute(ctx, key, compute, ttl)
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// Refresh recomputes key unconditionally and stores the result.
func (c *Cache[V]) Refresh(ctx context.Context, key string, compute ComputeFunc[V], ttl time.Duration) (V, error) {
	res, err, _ := c.group.Do("refresh\x00"+key, func() (interface{}, error) {
		return c.compute(ctx, key, compute, ttl)
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// Invalidate drops key from both tiers.
func (c *Cache[V]) Invalidate(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()

	if c.opts.remote != nil {
		if err := c.opts.remote.Delete(ctx, c.opts.prefix+key); err != nil {
			c.opts.logger.Warn("aggcache remote delete failed", "cache", c.name, "key", key, "error", err)
		}
	}
}

// Forget drops key from the local tier only, so the next read goes to the
// shared tier. Used when another process has refreshed the entry.
func (c *Cache[V]) Forget(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of local entries, expired ones included.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[V]) lookup(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.opts.clock.Now().After(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *Cache[V]) store(key string, v V, expiresAt time.Time) {
	c.mu.Lock()
	c.entries[key] = entry[V]{value: v, expiresAt: expiresAt}
	c.mu.Unlock()
}

func (c *Cache[V]) compute(ctx context.Context, key string, compute ComputeFunc[V], ttl time.Duration) (V, error) {
	v, err := compute(ctx)
	if err != nil {
		var zero V
		return zero, err
	}

	expiresAt := c.opts.clock.Now().Add(ttl)
	c.store(key, v, expiresAt)
	c.storeRemote(ctx, key, v, expiresAt, ttl)
	return v, nil
}

func (c *Cache[V]) loadRemote(ctx context.Context, key string) (V, bool) {
	var zero V
	if c.opts.remote == nil {
		return zero, false
	}

	data, err := c.opts.remote.Get(ctx, c.opts.prefix+key)
	if err != nil || len(data) == 0 {
		return zero, false
	}

	var env envelope[V]
	if err := json.Unmarshal(data, &env); err != nil {
		c.opts.logger.Warn("aggcache remote entry unreadable", "cache", c.name, "key", key, "error", err)
		return zero, false
	}
	if c.opts.clock.Now().After(env.ExpiresAt) {
		return zero, false
	}

	c.store(key, env.Value, env.ExpiresAt)
	return env.Value, true
}

func (c *Cache[V]) storeRemote(ctx context.Context, key string, v V, expiresAt time.Time, ttl time.Duration) {
	if c.opts.remote == nil {
		return
	}

	data, err := json.Marshal(envelope[V]{ExpiresAt: expiresAt, Value: v})
	if err != nil {
		c.opts.logger.Warn("aggcache encode failed", "cache", c.name, "key", key, "error", err)
		return
	}
	secs := int(math.Ceil(ttl.Seconds()))
	if secs < 1 {
		secs = 1
	}
	if err := c.opts.remote.Set(ctx, c.opts.prefix+key, data, secs); err != nil {
		c.opts.logger.Warn("aggcache remote set failed", "cache", c.name, "key", key, "error", err)
	}
}
