// Package cache implements the byte-budgeted LRU that fronts the VFS
// backend: assets are kept in memory by recency until their combined
// size (each asset's full size, header included, plus a fixed
// per-entry overhead) exceeds the
// configured budget, at which point least-recently-used entries are
// evicted to make room.
package cache

import (
	"container/list"
	"sync"

	"github.com/cuemby/whip/pkg/asset"
	"github.com/cuemby/whip/pkg/metrics"
)

type entry struct {
	uuid string
	a    *asset.Asset
}

// Cache is a size-bounded, thread-safe LRU of *asset.Asset keyed by UUID.
type Cache struct {
	mu       sync.Mutex
	maxBytes int64
	curBytes int64
	ll       *list.List
	index    map[string]*list.Element
}

// New builds a cache with a byte budget of maxBytes.
func New(maxBytes int64) *Cache {
	return &Cache{
		maxBytes: maxBytes,
		ll:       list.New(),
		index:    make(map[string]*list.Element),
	}
}

func entrySize(a *asset.Asset) int64 {
	return int64(a.Size()) + asset.OverheadBytes
}

// Get looks up uuid, promoting it to most-recently-used on hit.
func (c *Cache) Get(uuid string) (*asset.Asset, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[uuid]
	if !ok {
		metrics.CacheMissesTotal.Inc()
		return nil, false
	}
	c.ll.MoveToFront(el)
	metrics.CacheHitsTotal.Inc()
	return el.Value.(*entry).a, true
}

// Insert adds or refreshes uuid's entry, evicting LRU entries as
// needed to stay within the byte budget. An asset whose entry size
// (asset size plus overhead) exceeds the entire budget is not cached.
func (c *Cache) Insert(a *asset.Asset) {
	size := entrySize(a)
	if size > c.maxBytes {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[a.UUID()]; ok {
		c.curBytes -= entrySize(el.Value.(*entry).a)
		c.ll.Remove(el)
		delete(c.index, a.UUID())
	}

	el := c.ll.PushFront(&entry{uuid: a.UUID(), a: a})
	c.index[a.UUID()] = el
	c.curBytes += size

	for c.curBytes > c.maxBytes {
		back := c.ll.Back()
		if back == nil {
			break
		}
		c.evict(back)
	}
	metrics.CacheBytesUsed.Set(float64(c.curBytes))
}

// Inform opportunistically caches an asset fetched via intramesh search.
func (c *Cache) Inform(a *asset.Asset) {
	c.Insert(a)
}

func (c *Cache) evict(el *list.Element) {
	e := el.Value.(*entry)
	c.curBytes -= entrySize(e.a)
	c.ll.Remove(el)
	delete(c.index, e.uuid)
}

// Remove drops uuid from the cache, if present, used after a purge.
func (c *Cache) Remove(uuid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[uuid]; ok {
		c.evict(el)
	}
}

// Len reports the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Bytes reports the current total byte accounting.
func (c *Cache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curBytes
}
