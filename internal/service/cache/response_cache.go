// Package cache provides the per-process response cache used by the aggregate
// endpoints: TTL-keyed values plus in-flight request collapsing.
package cache

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type entry struct {
	v   any
	exp time.Time
}

// ResponseCache stores computed responses under full-input keys. Concurrent
// requests for the same key while a computation is in flight share the first
// caller's result instead of recomputing.
type ResponseCache struct {
	mu     sync.RWMutex
	m      map[string]entry
	flight singleflight.Group
}

func NewResponseCache() *ResponseCache {
	return &ResponseCache{m: make(map[string]entry)}
}

// Get returns the cached value for key if present and unexpired.
func (c *ResponseCache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		c.mu.Lock()
		delete(c.m, key)
		c.mu.Unlock()
		return nil, false
	}
	return e.v, true
}

// Set stores v under key. ttl <= 0 stores without expiry.
func (c *ResponseCache) Set(key string, v any, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.m[key] = entry{v: v, exp: exp}
	c.mu.Unlock()
}

// Delete removes key.
func (c *ResponseCache) Delete(key string) {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
}

// Do returns the cached value for key, or computes it via fn. Concurrent
// callers with the same key block on the single in-flight computation and
// share its result. Successful results are cached for ttl; errors are not
// cached.
func (c *ResponseCache) Do(key string, ttl time.Duration, fn func() (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err, _ := c.flight.Do(key, func() (any, error) {
		// Re-check under the flight: an earlier caller may have populated
		// the cache between our miss and this execution.
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := fn()
		if err != nil {
			return nil, err
		}
		c.Set(key, v, ttl)
		return v, nil
	})
	return v, err
}
