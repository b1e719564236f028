package cache

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/c360/watchpost/errors"
)

type lruEntry[V any] struct {
	key   string
	value V
}

// LRU evicts the least recently used entry once maxSize is exceeded.
type LRU[V any] struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List
	stats   Statistics
	metrics *cacheMetrics
	evictFn EvictCallback[V]
}

// NewLRU creates a cache holding at most maxSize entries.
func NewLRU[V any](maxSize int, options ...Option[V]) (*LRU[V], error) {
	if maxSize <= 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("max size must be positive, got %d", maxSize),
			"cache", "NewLRU", "size check")
	}
	opts := applyOptions(options...)

	var metrics *cacheMetrics
	if opts.metricsReg != nil {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "NewLRU", "metrics registration")
		}
	}

	return &LRU[V]{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		metrics: metrics,
		evictFn: opts.evictCallback,
	}, nil
}

// Get returns the value for key and marks it recently used.
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[key]
	if !ok {
		c.stats.misses.Add(1)
		if c.metrics != nil {
			c.metrics.misses.Inc()
		}
		var zero V
		return zero, false
	}

	c.order.MoveToFront(element)
	c.stats.hits.Add(1)
	if c.metrics != nil {
		c.metrics.hits.Inc()
	}
	return element.Value.(*lruEntry[V]).value, true
}

// Set stores value under key. It reports whether a new entry was created.
func (c *LRU[V]) Set(key string, value V) (bool, error) {
	if key == "" {
		return false, errors.WrapInvalid(errors.ErrInvalidData, "cache", "Set", "key cannot be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.sets.Add(1)

	if element, ok := c.items[key]; ok {
		element.Value.(*lruEntry[V]).value = value
		c.order.MoveToFront(element)
		return false, nil
	}

	c.items[key] = c.order.PushFront(&lruEntry[V]{key: key, value: value})
	if len(c.items) > c.maxSize {
		c.evictOldest()
	}
	if c.metrics != nil {
		c.metrics.size.Set(float64(len(c.items)))
	}
	return true, nil
}

func (c *LRU[V]) evictOldest() {
	element := c.order.Back()
	if element == nil {
		return
	}
	entry := element.Value.(*lruEntry[V])
	c.order.Remove(element)
	delete(c.items, entry.key)

	c.stats.evictions.Add(1)
	if c.metrics != nil {
		c.metrics.evictions.Inc()
	}
	if c.evictFn != nil {
		c.evictFn(entry.key, entry.value)
	}
}

// Delete removes key and reports whether it was present.
func (c *LRU[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[key]
	if !ok {
		return false
	}
	c.order.Remove(element)
	delete(c.items, key)
	if c.metrics != nil {
		c.metrics.size.Set(float64(len(c.items)))
	}
	return true
}

// Clear removes every entry without calling the eviction callback.
func (c *LRU[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
	if c.metrics != nil {
		c.metrics.size.Set(0)
	}
}

// Size returns the number of entries.
func (c *LRU[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns keys from most to least recently used.
func (c *LRU[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.items))
	for e := c.order.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*lruEntry[V]).key)
	}
	return keys
}

// Stats returns the live statistics.
func (c *LRU[V]) Stats() *Statistics {
	return &c.stats
}
