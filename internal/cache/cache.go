// file: internal/cache/cache.go
// version: 2.1.0
// guid: a1b2c3d4-e5f6-7a8b-9c0d-1e2f3a4b5c6d

package cache

import (
	"sync"
	"time"
)

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// Cache is a small TTL cache safe for concurrent use.
// It is meant for values that are expensive to compute but cheap to hold,
// such as the result of probing an external tool. Expired values stay
// readable through Peek until they are replaced or invalidated.
type Cache[T any] struct {
	mu         sync.Mutex
	items      map[string]entry[T]
	inflight   map[string]chan struct{}
	defaultTTL time.Duration
	now        func() time.Time
}

// New creates a cache with the given default TTL
func New[T any](defaultTTL time.Duration) *Cache[T] {
	return &Cache[T]{
		items:      make(map[string]entry[T]),
		inflight:   make(map[string]chan struct{}),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Get returns a live value for key
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

func (c *Cache[T]) getLocked(key string) (T, bool) {
	e, ok := c.items[key]
	if !ok || !c.now().Before(e.expiresAt) {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Peek returns the last stored value for key without loading anything.
// found reports whether a value was ever stored; fresh whether it is still within its TTL.
func (c *Cache[T]) Peek(key string) (value T, found, fresh bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok {
		return value, false, false
	}
	return e.value, true, c.now().Before(e.expiresAt)
}

// Set stores value under key for the default TTL
func (c *Cache[T]) Set(key string, value T) {
	c.mu.Lock()
	c.setLocked(key, value)
	c.mu.Unlock()
}

func (c *Cache[T]) setLocked(key string, value T) {
	c.items[key] = entry[T]{value: value, expiresAt: c.now().Add(c.defaultTTL)}
}

// Refresh runs load in the background and stores its result under key.
// At most one load per key runs at a time; a call made while one is running
// returns that load's channel. The channel is closed once the load has finished.
// A failed load leaves the stored value untouched.
func (c *Cache[T]) Refresh(key string, load func() (T, error)) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	if done, ok := c.inflight[key]; ok {
		return done
	}
	done := make(chan struct{})
	c.inflight[key] = done

	go func() {
		defer close(done)
		v, err := load()

		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.inflight, key)
		if err == nil {
			c.setLocked(key, v)
		}
	}()
	return done
}

// Invalidate removes key
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}
