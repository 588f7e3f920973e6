// Package cache provides the time-boxed catalog cache shared process-wide.
// Readers may see a stale entry until it expires or is invalidated.
package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
)

// Loader fetches the value for key on a miss.
type Loader[V any] func(ctx context.Context, key string) (V, error)

// Catalog caches loader results per key for ttl.
type Catalog[V any] struct {
	name string
	lru  *expirable.LRU[string, V]
	load Loader[V]
}

// New creates a catalog cache holding at most size keys for ttl each.
func New[V any](name string, size int, ttl time.Duration, load Loader[V]) *Catalog[V] {
	return &Catalog[V]{
		name: name,
		lru:  expirable.NewLRU[string, V](size, nil, ttl),
		load: load,
	}
}

// Get returns the cached value for key, loading it on a miss. Load errors
// are not cached.
func (c *Catalog[V]) Get(ctx context.Context, key string) (V, error) {
	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}

	v, err := c.load(ctx, key)
	if err != nil {
		var zero V
		return zero, err
	}
	c.lru.Add(key, v)
	return v, nil
}

// Invalidate drops one key. Catalog editors call this after a change.
func (c *Catalog[V]) Invalidate(key string) {
	if c.lru.Remove(key) {
		log.Debug().Str("cache", c.name).Str("key", key).Msg("Cache entry invalidated")
	}
}

// InvalidateAll drops every key.
func (c *Catalog[V]) InvalidateAll() {
	c.lru.Purge()
	log.Debug().Str("cache", c.name).Msg("Cache purged")
}

// Len returns the number of live entries.
func (c *Catalog[V]) Len() int {
	return c.lru.Len()
}
