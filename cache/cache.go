// ABOUTME: In-memory cache with TTL-based expiration
// ABOUTME: Thread-safe cache using sync.Map with automatic cleanup

package cache

import (
	"log/slog"
	"sync"
	"time"
)

type entry struct {
	data      interface{}
	expiresAt time.Time
}

type Cache struct {
	store   sync.Map
	ttl     time.Duration
	clockMu sync.RWMutex
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

func New(ttl time.Duration) *Cache {
	c := &Cache{
		ttl:  ttl,
		now:  time.Now,
		stop: make(chan struct{}),
	}
	go c.startCleanup()
	return c
}

// SetClock replaces the time source. Intended for tests.
func (c *Cache) SetClock(now func() time.Time) {
	c.clockMu.Lock()
	c.now = now
	c.clockMu.Unlock()
}

// clock reads the time source; the cleanup goroutine calls it concurrently with SetClock
func (c *Cache) clock() time.Time {
	c.clockMu.RLock()
	now := c.now
	c.clockMu.RUnlock()
	return now()
}

func (c *Cache) Get(key string) (interface{}, bool) {
	val, ok := c.store.Load(key)
	if !ok {
		slog.Debug("Cache miss", "key", key)
		return nil, false
	}

	e := val.(entry)
	if !c.clock().Before(e.expiresAt) {
		c.store.Delete(key)
		slog.Debug("Cache expired", "key", key)
		return nil, false
	}

	slog.Debug("Cache hit", "key", key)
	return e.data, true
}

// Take returns the value and removes it in one step, so a token can only be consumed once
func (c *Cache) Take(key string) (interface{}, bool) {
	val, ok := c.store.LoadAndDelete(key)
	if !ok {
		return nil, false
	}
	e := val.(entry)
	if !c.clock().Before(e.expiresAt) {
		return nil, false
	}
	return e.data, true
}

func (c *Cache) Set(key string, value interface{}) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores a value with a custom TTL
func (c *Cache) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	e := entry{
		data:      value,
		expiresAt: c.clock().Add(ttl),
	}
	c.store.Store(key, e)
	slog.Debug("Cache set", "key", key, "ttl", ttl)
}

func (c *Cache) Clear(key string) {
	c.store.Delete(key)
}

// Range calls fn for every live entry until fn returns false
func (c *Cache) Range(fn func(key string, value interface{}) bool) {
	now := c.clock()
	c.store.Range(func(k, val interface{}) bool {
		e := val.(entry)
		if !now.Before(e.expiresAt) {
			return true
		}
		return fn(k.(string), e.data)
	})
}

// Len counts live entries
func (c *Cache) Len() int {
	n := 0
	c.Range(func(string, interface{}) bool {
		n++
		return true
	})
	return n
}

// Close stops the cleanup goroutine
func (c *Cache) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *Cache) startCleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep drops every expired entry
func (c *Cache) sweep() {
	now := c.clock()
	c.store.Range(func(key, val interface{}) bool {
		e := val.(entry)
		if !now.Before(e.expiresAt) {
			c.store.Delete(key)
		}
		return true
	})
}
