// Package cache provides a generic loader cache combining LRU storage with
// singleflight to coalesce concurrent loads for the same key.
package cache

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// store is the subset shared by lru.Cache and expirable.LRU.
type store[V any] interface {
	Add(key string, value V) bool
	Get(key string) (V, bool)
	Remove(key string) bool
	Purge()
	Len() int
}

// LoaderCache loads values on miss via a callback and coalesces concurrent loads for the
// same key with singleflight, so a burst of misses for one key runs a single load.
// Keys are converted to strings via keyToString for the LRU and singleflight.
type LoaderCache[K comparable, V any] struct {
	entries     store[V]
	group       singleflight.Group
	keyToString func(K) string
}

type options struct {
	ttl time.Duration
}

// Option configures a LoaderCache.
type Option func(*options)

// WithTTL expires entries ttl after they were added. Zero keeps entries until evicted by size.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.ttl = ttl
	}
}

// NewLoaderCache creates a loader cache with the given max entries and key serializer.
func NewLoaderCache[K comparable, V any](maxEntries int, keyToString func(K) string, opts ...Option) (*LoaderCache[K, V], error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var entries store[V]

	if o.ttl > 0 {
		if maxEntries <= 0 {
			return nil, fmt.Errorf("cache: max entries must be positive, got %d", maxEntries)
		}

		entries = expirable.NewLRU[string, V](maxEntries, nil, o.ttl)
	} else {
		plain, err := lru.New[string, V](maxEntries)
		if err != nil {
			return nil, fmt.Errorf("cache: %w", err)
		}

		entries = plain
	}

	return &LoaderCache[K, V]{
		entries:     entries,
		keyToString: keyToString,
	}, nil
}

// Get returns the value for key, loading it via load on cache miss.
func (c *LoaderCache[K, V]) Get(ctx context.Context, key K, load func(context.Context, K) (V, error)) (V, error) {
	v, _, err := c.GetWithStats(ctx, key, load)

	return v, err
}

// GetWithStats is like Get but also reports whether the value came from cache (hit) or was loaded (miss).
// Failed loads are not cached.
func (c *LoaderCache[K, V]) GetWithStats(ctx context.Context, key K, load func(context.Context, K) (V, error)) (V, bool, error) {
	keyStr := c.keyToString(key)
	if v, ok := c.entries.Get(keyStr); ok {
		return v, true, nil
	}

	val, err, _ := c.group.Do(keyStr, func() (any, error) {
		loaded, loadErr := load(ctx, key)
		if loadErr != nil {
			return nil, loadErr
		}

		c.entries.Add(keyStr, loaded)

		return loaded, nil
	})
	if err != nil {
		var zero V

		return zero, false, err
	}

	return val.(V), false, nil
}

// Invalidate removes the entry for key.
func (c *LoaderCache[K, V]) Invalidate(key K) {
	c.entries.Remove(c.keyToString(key))
}

// InvalidateAll removes all entries.
func (c *LoaderCache[K, V]) InvalidateAll() {
	c.entries.Purge()
}

// Len returns the number of entries in the cache.
func (c *LoaderCache[K, V]) Len() int {
	return c.entries.Len()
}
