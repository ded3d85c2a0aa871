package vfs

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// IndexPoolSize bounds the number of simultaneously open index file handles.
const IndexPoolSize = 512

// IndexPool is an LRU of open IndexFile handles, keyed by absolute
// path. Index files are expensive to keep open past the configured
// bound, so the least-recently-used handle is closed on overflow.
type IndexPool struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *IndexFile]
}

// NewIndexPool builds a pool bounded at IndexPoolSize.
func NewIndexPool() (*IndexPool, error) {
	p := &IndexPool{}
	c, err := lru.NewWithEvict(IndexPoolSize, func(_ string, f *IndexFile) {
		f.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("vfs: build index pool: %w", err)
	}
	p.cache = c
	return p, nil
}

// Get returns the index file at path, opening and caching it if needed.
func (p *IndexPool) Get(path string) (*IndexFile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if f, ok := p.cache.Get(path); ok {
		return f, nil
	}
	f, err := OpenIndexFile(path)
	if err != nil {
		return nil, err
	}
	p.cache.Add(path, f)
	return f, nil
}

// ForceClose evicts and closes path's handle if open, used before
// physically deleting an index file during purge-locals.
func (p *IndexPool) ForceClose(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Remove(path)
}

// Len reports the number of currently open handles.
func (p *IndexPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache.Len()
}
