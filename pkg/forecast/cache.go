package forecast

import (
	"fmt"
	"sync"
	"time"

	"github.com/HatiCode/linkguard/internal/clock"
)

// Cache memoizes forecasts by their exact input Window. An entry is served
// while now - ComputedAt < ttl and is replaced on the next miss afterwards.
// Expired entries are swept on every Put. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   clock.Clock
	entries map[string]cacheEntry
	hits    uint64
	misses  uint64
}

type cacheEntry struct {
	window   Window
	forecast Forecast
}

// NewCache creates a cache whose entries live for ttl.
func NewCache(ttl time.Duration, c clock.Clock) *Cache {
	return &Cache{
		ttl:     ttl,
		clock:   clock.OrReal(c),
		entries: make(map[string]cacheEntry),
	}
}

// Get returns a copy of the cached forecast for w if it is still valid.
func (c *Cache) Get(w Window) (Forecast, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[w.Key()]
	if !ok || !e.window.Equal(w) || c.expiredLocked(e) {
		c.misses++
		return Forecast{}, false
	}
	c.hits++
	return e.forecast.clone(), true
}

// Put stores f under w and drops expired entries.
func (c *Cache) Put(w Window, f Forecast) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f.ComputedAt.IsZero() {
		f.ComputedAt = c.clock.Now()
	}
	for k, e := range c.entries {
		if c.expiredLocked(e) {
			delete(c.entries, k)
		}
	}
	c.entries[w.Key()] = cacheEntry{window: w, forecast: f.clone()}
}

func (c *Cache) expiredLocked(e cacheEntry) bool {
	return c.clock.Now().Sub(e.forecast.ComputedAt) >= c.ttl
}

// Clear drops every entry. Hit and miss counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cumulative hit and miss counts.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Cached is a Forecaster that consults a Cache before delegating.
type Cached struct {
	inner Forecaster
	cache *Cache
}

// NewCached wraps inner with cache.
func NewCached(inner Forecaster, cache *Cache) *Cached {
	return &Cached{inner: inner, cache: cache}
}

func (c *Cached) Name() string { return c.inner.Name() }

func (c *Cached) RequiredHistory() int { return c.inner.RequiredHistory() }

// Cache returns the underlying cache.
func (c *Cached) Cache() *Cache { return c.cache }

// Predict implements Forecaster.
func (c *Cached) Predict(history []float64) (Forecast, error) {
	required := c.inner.RequiredHistory()
	if len(history) < required {
		return Forecast{}, fmt.Errorf("%w: %s needs %d samples, have %d", ErrInsufficientHistory, c.inner.Name(), required, len(history))
	}

	w := NewWindow(history[len(history)-required:])
	if f, ok := c.cache.Get(w); ok {
		return f, nil
	}

	f, err := c.inner.Predict(w.Values())
	if err != nil {
		return Forecast{}, err
	}
	c.cache.Put(w, f)
	return f, nil
}
