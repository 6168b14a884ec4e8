// Package cache provides a size-bounded in-memory cache with per-item
// expiration and LRU replacement, backing the local memcache service.
package cache

// Adapted from github.com/patrickmn/go-cache

import (
	"runtime"
	"sync"
	"time"
)

const (
	// NoExpiration marks an item that never expires.
	NoExpiration time.Duration = -1
	// DefaultExpiration selects the cache-wide default set at construction.
	DefaultExpiration time.Duration = 0
)

type Item struct {
	Object     interface{}
	Expiration int64
	Age        int64
	mu         sync.RWMutex // concurrent updates to Age
}

func (item *Item) Expired() bool {
	if item.Expiration == 0 {
		return false
	}
	return time.Now().UnixNano() > item.Expiration
}

type Cache struct {
	*cache
	// see the comment in newCacheWithJanitor
}

type cache struct {
	defaultExpiration time.Duration
	items             map[string]*Item
	mu                sync.RWMutex
	onEvicted         func(string, interface{})
	janitor           *janitor
	maxItems          int
}

// Set adds an item, replacing any existing one. Duration 0 uses the cache
// default, -1 disables expiration. When the cache is full the least recently
// used item is replaced.
func (c *cache) Set(k string, x interface{}, d time.Duration) {
	var e int64
	if d == DefaultExpiration {
		d = c.defaultExpiration
	}
	if d > 0 {
		e = time.Now().Add(d).UnixNano()
	}
	c.mu.Lock()
	item := &Item{
		Object:     x,
		Expiration: e,
		Age:        time.Now().UnixNano(),
	}
	if _, found := c.items[k]; found {
		c.items[k] = item
	} else if len(c.items) < c.maxItems {
		c.items[k] = item
	} else {
		delete(c.items, c.findLRU())
		c.items[k] = item
	}
	c.mu.Unlock()
}

// findLRU scans for the least recently used or an already expired key.
// Caller holds the cache lock.
func (c *cache) findLRU() string {
	now := time.Now().UnixNano()
	victim := ""
	oldest := int64(0)
	for k, v := range c.items {
		if v.Expiration > 0 && v.Expiration < now {
			return k
		}
		if now-v.Age > oldest {
			victim = k
			oldest = now - v.Age
		}
	}
	return victim
}

// Get returns the item and whether it was found, refreshing its age.
func (c *cache) Get(k string) (interface{}, bool) {
	c.mu.RLock()
	item, found := c.items[k]
	if !found {
		c.mu.RUnlock()
		return nil, false
	}
	if item.Expiration > 0 && time.Now().UnixNano() > item.Expiration {
		c.mu.RUnlock()
		return nil, false
	}
	item.mu.Lock()
	item.Age = time.Now().UnixNano()
	item.mu.Unlock()
	c.mu.RUnlock()
	return item.Object, true
}

// Delete removes an item if present.
func (c *cache) Delete(k string) {
	c.mu.Lock()
	v, evicted := c.delete(k)
	c.mu.Unlock()
	if evicted {
		c.onEvicted(k, v)
	}
}

func (c *cache) delete(k string) (interface{}, bool) {
	if c.onEvicted != nil {
		if v, found := c.items[k]; found {
			delete(c.items, k)
			return v.Object, true
		}
	}
	delete(c.items, k)
	return nil, false
}

// Flush discards every item.
func (c *cache) Flush() {
	c.mu.Lock()
	c.items = make(map[string]*Item)
	c.mu.Unlock()
}

// Len reports the number of stored items, expired ones included.
func (c *cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

type keyAndValue struct {
	key   string
	value interface{}
}

// DeleteExpired removes every expired item.
func (c *cache) DeleteExpired() {
	var evicted []keyAndValue
	now := time.Now().UnixNano()
	c.mu.Lock()
	for k, v := range c.items {
		if v.Expiration > 0 && now > v.Expiration {
			ov, ok := c.delete(k)
			if ok {
				evicted = append(evicted, keyAndValue{k, ov})
			}
		}
	}
	c.mu.Unlock()
	for _, v := range evicted {
		c.onEvicted(v.key, v.value)
	}
}

type janitor struct {
	interval time.Duration
	stop     chan bool
}

func (j *janitor) run(c *cache) {
	ticker := time.NewTicker(j.interval)
	for {
		select {
		case <-ticker.C:
			c.DeleteExpired()
		case <-j.stop:
			ticker.Stop()
			return
		}
	}
}

func stopJanitor(c *Cache) {
	c.janitor.stop <- true
}

// New returns a cache holding at most size items, with the given default
// expiration. A positive cleanup interval starts a janitor goroutine that
// reaps expired items.
func New(defaultExpiration, cleanupInterval time.Duration, size int) *Cache {
	if defaultExpiration == 0 {
		defaultExpiration = -1
	}
	c := &cache{
		defaultExpiration: defaultExpiration,
		items:             make(map[string]*Item),
		maxItems:          size,
	}
	// The janitor runs on the inner struct so the outer Cache stays
	// collectable; its finalizer stops the goroutine.
	C := &Cache{c}
	if cleanupInterval > 0 {
		j := &janitor{interval: cleanupInterval, stop: make(chan bool)}
		c.janitor = j
		go j.run(c)
		runtime.SetFinalizer(C, stopJanitor)
	}
	return C
}
