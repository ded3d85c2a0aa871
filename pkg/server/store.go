package server

import (
	"github.com/cuemby/whip/pkg/asset"
	"github.com/cuemby/whip/pkg/cache"
	"github.com/cuemby/whip/pkg/existence"
	"github.com/cuemby/whip/pkg/vfs"
)

// store composes the cache, the VFS backend, and the existence index
// into the single dependency connio.Conn dispatches requests to. It
// satisfies connio.Store.
type store struct {
	backend   *vfs.Backend
	cache     *cache.Cache // nil when caching is disabled
	existence *existence.Index
}

func newStore(backend *vfs.Backend, c *cache.Cache, idx *existence.Index) *store {
	return &store{backend: backend, cache: c, existence: idx}
}

// Get checks the cache first unless noCache is set, falling through
// to disk and populating the cache on a disk hit.
func (s *store) Get(uuid string, noCache bool) (*asset.Asset, bool, error) {
	if !noCache && s.cache != nil {
		if a, ok := s.cache.Get(uuid); ok {
			return a, true, nil
		}
	}
	a, found, err := s.backend.Get(uuid, noCache)
	if err != nil || !found {
		return a, found, err
	}
	if !noCache && s.cache != nil {
		s.cache.Insert(a)
	}
	return a, found, nil
}

// Put stores a to disk and, on success, warms the cache with it.
func (s *store) Put(a *asset.Asset) error {
	if err := s.backend.Put(a); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Insert(a)
	}
	return nil
}

func (s *store) Purge(uuid string) error { return s.backend.Purge(uuid) }

func (s *store) PurgeLocals() { s.backend.PurgeLocals() }

func (s *store) Status() (string, error) { return s.backend.Status() }

func (s *store) StoredIDs(prefix string) (string, error) { return s.backend.StoredIDs(prefix) }

func (s *store) Exists(uuid string) bool { return s.existence.Contains(uuid) }

// Inform opportunistically caches an asset fetched from a peer over
// the intramesh search path, without touching disk.
func (s *store) Inform(a *asset.Asset) {
	if s.cache != nil {
		s.cache.Inform(a)
	}
}
