package settings

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const DefaultCacheTTL = 5 * time.Minute

// loadTimeout bounds a shared load, which runs detached from any single
// caller's context.
const loadTimeout = 5 * time.Second

type cacheEntry struct {
	row     Setting
	expires time.Time
}

// Cache holds setting rows for a bounded time. Concurrent misses on one key
// share a single load. A load that started before an invalidation of its
// key never repopulates the cache.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
	gens    map[string]uint64
	group   singleflight.Group
}

func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
		gens:    make(map[string]uint64),
	}
}

func cacheKey(category, key string) string { return category + "/" + key }

func (c *Cache) get(k string) (Setting, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	if !ok {
		return Setting{}, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, k)
		return Setting{}, false
	}
	return e.row, true
}

// Load returns the cached row for k or calls fn. fn returning (nil, nil)
// means "absent" and is not cached. The shared load outlives a caller that
// gives up; each caller waits only as long as its own ctx allows.
func (c *Cache) Load(ctx context.Context, k string, fn func(context.Context) (*Setting, error)) (*Setting, error) {
	if row, ok := c.get(k); ok {
		return &row, nil
	}
	c.mu.Lock()
	gen := c.gens[k]
	c.mu.Unlock()

	ch := c.group.DoChan(k, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		row, err := fn(lctx)
		if err != nil || row == nil {
			return row, err
		}
		c.mu.Lock()
		if c.gens[k] == gen {
			c.entries[k] = cacheEntry{row: *row, expires: c.now().Add(c.ttl)}
		}
		c.mu.Unlock()
		return row, nil
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}
	row, _ := res.Val.(*Setting)
	if row == nil {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

// Invalidate drops k and detaches any in-flight load so the next reader
// goes to the store.
func (c *Cache) Invalidate(k string) {
	c.mu.Lock()
	delete(c.entries, k)
	c.gens[k]++
	c.mu.Unlock()
	c.group.Forget(k)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
