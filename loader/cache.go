package loader

import (
	"sync"

	"github.com/DmitriyVTitov/size"
	"github.com/dustin/go-humanize"
	"github.com/golang/groupcache/lru"

	"github.com/fractal-analytics-platform/zroi/zroi"
)

type cacheKind uint8

const (
	metadataEntry cacheKind = iota
	tableEntry
)

type cacheKey struct {
	kind     cacheKind
	location string
	name     string
}

// cache is a bounded, recency-evicting cache of immutable metadata and tables.
// Entries are never invalidated, so a hit may be stale relative to storage.
type cache struct {
	mu    sync.Mutex
	lru   *lru.Cache
	bytes int
}

func newCache(maxEntries int) *cache {
	c := &cache{lru: lru.New(maxEntries)}
	c.lru.OnEvicted = func(key lru.Key, value interface{}) {
		c.bytes -= size.Of(value)
		zroi.Debugf("Evicted %v from loader cache\n", key)
	}
	return c
}

func (c *cache) get(key cacheKey) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(key)
}

func (c *cache) add(key cacheKey, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, found := c.lru.Get(key); found {
		return
	}
	c.lru.Add(key, value)
	c.bytes += size.Of(value)
	zroi.Debugf("Loader cache holds %d entries, ~%s\n", c.lru.Len(), humanize.Bytes(uint64(max(c.bytes, 0))))
}

func (c *cache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
