// Package cache holds customer reference data and windowed counters in
// process memory, in Redis, or in both.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/opensource-finance/chargeflow/internal/domain"
)

// LRUCache is an in-process cache with per-entry TTL. Values and windowed
// counters share one recency list and one size bound, so old daily
// counters are evicted like any other entry.
type LRUCache struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List
	now     func() time.Time

	hits, misses, evictions int64
}

type lruEntry struct {
	key       string
	value     []byte
	count     int64
	counter   bool
	expiresAt time.Time
}

// Stats describes cache occupancy and effectiveness.
type Stats struct {
	Size      int   `json:"size"`
	Capacity  int   `json:"capacity"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// NewLRUCache creates an LRU holding at most maxSize entries.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// lookup returns the live entry for key, dropping it when expired.
// Callers hold mu.
func (c *LRUCache) lookup(key string) *lruEntry {
	elem, ok := c.items[key]
	if !ok {
		return nil
	}
	e := elem.Value.(*lruEntry)
	if !c.now().Before(e.expiresAt) {
		c.order.Remove(elem)
		delete(c.items, key)
		return nil
	}
	c.order.MoveToFront(elem)
	return e
}

// insert stores e as most recent and evicts from the back past capacity.
// Callers hold mu.
func (c *LRUCache) insert(e *lruEntry) {
	if elem, ok := c.items[e.key]; ok {
		elem.Value = e
		c.order.MoveToFront(elem)
		return
	}
	c.items[e.key] = c.order.PushFront(e)
	for c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*lruEntry).key)
		c.evictions++
	}
}

// Get returns the value for key. A miss returns nil, nil.
func (c *LRUCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.lookup(key)
	if e == nil || e.counter {
		c.misses++
		return nil, nil
	}
	c.hits++
	return e.value, nil
}

// Set stores value for ttl.
func (c *LRUCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.insert(&lruEntry{key: key, value: value, expiresAt: c.now().Add(ttl)})
	return nil
}

// GetCustomer returns cached customer reference data, or nil on a miss.
func (c *LRUCache) GetCustomer(ctx context.Context, code string) (*domain.Customer, error) {
	return loadCustomer(ctx, c, code)
}

// SetCustomer caches customer reference data for ttl.
func (c *LRUCache) SetCustomer(ctx context.Context, customer *domain.Customer, ttl time.Duration) error {
	return storeCustomer(ctx, c, customer, ttl)
}

// IncrementCounter bumps a counter that expires window after its first
// increment.
func (c *LRUCache) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ckey := "counter:" + key
	if e := c.lookup(ckey); e != nil && e.counter {
		e.count++
		return e.count, nil
	}
	c.insert(&lruEntry{key: ckey, counter: true, count: 1, expiresAt: c.now().Add(window)})
	return 1, nil
}

// Ping always succeeds.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops every entry.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
	return nil
}

// Stats returns a snapshot of the cache counters.
func (c *LRUCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:      c.order.Len(),
		Capacity:  c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}
