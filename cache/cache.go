// Package cache provides a per-process, time-bounded memoization layer
// over the durable configuration store. Each configuration kind gets its
// own Cache instance; concurrent requests share it.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/foldset/paygate/store"
)

// TTL bounds the staleness of the in-memory copy. External writers
// (the webhook path) rely on it for convergence; there is no explicit
// invalidation API.
const TTL = 30 * time.Second

// StoreTTL is the expiry applied to write-through Puts on the durable
// store: 3 hours + 30 minutes.
const StoreTTL = 3*time.Hour + 30*time.Minute

type entry[T any] struct {
	value     T
	gen       uint64
	fetchedAt time.Time
}

// Cache memoizes one store key for TTL. Refreshes are lock-free:
// concurrent misses may each hit the store and the last writer wins,
// which is acceptable because configuration correctness is bounded by
// TTL, not by request ordering.
type Cache[T any] struct {
	store  store.Store
	key    string
	decode func([]byte) (T, error)
	ttl    time.Duration
	now    func() time.Time

	current atomic.Pointer[entry[T]]
	gen     atomic.Uint64
}

// Option configures a Cache.
type Option[T any] func(*Cache[T])

// WithTTL overrides the freshness window. Intended for tests.
func WithTTL[T any](ttl time.Duration) Option[T] {
	return func(c *Cache[T]) { c.ttl = ttl }
}

// WithClock overrides the time source. Intended for tests.
func WithClock[T any](now func() time.Time) Option[T] {
	return func(c *Cache[T]) { c.now = now }
}

// New creates a Cache over st for key. decode turns the raw stored value
// into the typed configuration value.
func New[T any](st store.Store, key string, decode func([]byte) (T, error), opts ...Option[T]) *Cache[T] {
	c := &Cache[T]{
		store:  st,
		key:    key,
		decode: decode,
		ttl:    TTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the configuration value, its generation, and whether it is
// present in the backing store.
//
// A fresh in-memory entry is returned without store I/O. On miss or
// staleness the store is re-queried; absence is returned as ok=false and
// is never cached, so every subsequent call re-checks the store. The
// generation changes on every refresh and lets callers detect that they
// are still looking at the same cached value.
func (c *Cache[T]) Get(ctx context.Context) (value T, gen uint64, ok bool, err error) {
	var zero T

	if e := c.current.Load(); e != nil && c.now().Sub(e.fetchedAt) < c.ttl {
		return e.value, e.gen, true, nil
	}

	raw, present, err := c.store.Get(ctx, c.key)
	if err != nil {
		return zero, 0, false, fmt.Errorf("cache: fetch %q: %w", c.key, err)
	}
	if !present {
		return zero, 0, false, nil
	}

	value, err = c.decode([]byte(raw))
	if err != nil {
		return zero, 0, false, fmt.Errorf("cache: decode %q: %w", c.key, err)
	}

	e := &entry[T]{value: value, gen: c.gen.Add(1), fetchedAt: c.now()}
	c.current.Store(e)
	return e.value, e.gen, true, nil
}

// Put writes the value through to the backing store with StoreTTL expiry.
// The in-memory entry is left alone: the next Get after the TTL window
// elapses picks the new value up from the store.
func (c *Cache[T]) Put(ctx context.Context, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", c.key, err)
	}
	if err := c.store.Put(ctx, c.key, string(data), StoreTTL); err != nil {
		return fmt.Errorf("cache: store %q: %w", c.key, err)
	}
	return nil
}
