package httpapi

import (
	"container/list"
	"context"
	"sync"
	"time"
)

const (
	chartCacheSize  = 256
	chartCacheSweep = time.Minute
)

// chartCache holds rendered PNGs of seeded runs with a TTL and a fixed
// capacity. The least recently used entry is evicted when full.
type chartCache struct {
	mu    sync.Mutex
	items map[string]*list.Element
	lru   *list.List // front is most recently used
	max   int
	ttl   time.Duration
	now   func() time.Time
}

type chartEntry struct {
	key     string
	png     []byte
	expires time.Time
}

func newChartCache(max int, ttl time.Duration, now func() time.Time) *chartCache {
	return &chartCache{
		items: make(map[string]*list.Element),
		lru:   list.New(),
		max:   max,
		ttl:   ttl,
		now:   now,
	}
}

// Get returns a live entry and marks it recently used. Expired entries are
// removed on sight.
func (c *chartCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*chartEntry)
	if !c.now().Before(e.expires) {
		c.remove(el)
		return nil, false
	}
	c.lru.MoveToFront(el)
	return e.png, true
}

// Put stores png under key, evicting from the back until within capacity.
func (c *chartCache) Put(key string, png []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(c.ttl)
	if el, ok := c.items[key]; ok {
		e := el.Value.(*chartEntry)
		e.png, e.expires = png, expires
		c.lru.MoveToFront(el)
		return
	}
	c.items[key] = c.lru.PushFront(&chartEntry{key: key, png: png, expires: expires})
	for c.lru.Len() > c.max {
		c.remove(c.lru.Back())
	}
}

// Len returns the number of entries, expired ones included.
func (c *chartCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Sweep drops every expired entry and returns how many were removed.
func (c *chartCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for el := c.lru.Back(); el != nil; {
		prev := el.Prev()
		if !now.Before(el.Value.(*chartEntry).expires) {
			c.remove(el)
			removed++
		}
		el = prev
	}
	return removed
}

// Run sweeps on every tick until ctx is done.
func (c *chartCache) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// remove must be called with mu held.
func (c *chartCache) remove(el *list.Element) {
	c.lru.Remove(el)
	delete(c.items, el.Value.(*chartEntry).key)
}
