package search

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/banux/nxt-zim/internal/metrics"
)

// Cache keeps the most recently used values up to a fixed size. A value
// missing from the cache is built once even when requested concurrently.
type Cache[T any] struct {
	name  string
	lru   *lru.Cache[string, T]
	group singleflight.Group
}

// NewCache returns a cache holding at most size values. name labels its
// metrics.
func NewCache[T any](name string, size int) (*Cache[T], error) {
	if size <= 0 {
		size = 1
	}
	c := &Cache[T]{name: name}
	l, err := lru.NewWithEvict[string, T](size, func(string, T) {
		metrics.CacheEntries.WithLabelValues(name).Dec()
	})
	if err != nil {
		return nil, fmt.Errorf("%s cache: %w", name, err)
	}
	c.lru = l
	return c, nil
}

// GetOrBuild returns the value cached under key, calling build to create
// it when absent. Build errors are not cached.
func (c *Cache[T]) GetOrBuild(key string, build func() (T, error)) (T, error) {
	if v, ok := c.lru.Get(key); ok {
		metrics.RecordCacheLookup(c.name, true)
		return v, nil
	}
	metrics.RecordCacheLookup(c.name, false)

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if v, ok := c.lru.Get(key); ok {
			return v, nil
		}
		v, err := build()
		if err != nil {
			return v, err
		}
		if !c.lru.Contains(key) {
			metrics.CacheEntries.WithLabelValues(c.name).Inc()
		}
		c.lru.Add(key, v)
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	out, _ := v.(T)
	return out, nil
}

// Drop removes every entry whose key satisfies pred and returns how many
// were removed.
func (c *Cache[T]) Drop(pred func(key string) bool) int {
	n := 0
	for _, k := range c.lru.Keys() {
		if pred(k) && c.lru.Remove(k) {
			n++
		}
	}
	return n
}

// Purge empties the cache.
func (c *Cache[T]) Purge() { c.lru.Purge() }

func (c *Cache[T]) Len() int { return c.lru.Len() }
