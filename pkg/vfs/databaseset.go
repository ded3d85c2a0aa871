package vfs

import (
	"fmt"
	"os"
	"path/filepath"
)

// DatabaseSet is the globals/locals index+data pair for one shard
// directory. It resolves paths and lazily creates the shard
// directory on first use; file handles themselves are owned by the
// backend's IndexPool (index files) or opened per-operation (data files).
type DatabaseSet struct {
	root   string
	prefix string
}

// NewDatabaseSet returns the database set for uuid's shard under root,
// creating the shard directory if absent.
func NewDatabaseSet(root, uuid string) (*DatabaseSet, error) {
	prefix := ShardKey(uuid)
	dir := ShardDir(root, prefix)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("vfs: create shard dir %s: %w", dir, err)
	}
	return &DatabaseSet{root: root, prefix: prefix}, nil
}

// Dir returns the shard directory.
func (d *DatabaseSet) Dir() string {
	return ShardDir(d.root, d.prefix)
}

// IndexPath returns the absolute path of the locality's index file.
func (d *DatabaseSet) IndexPath(l Locality) string {
	return filepath.Join(d.Dir(), l.indexFileName())
}

// DataPath returns the absolute path of the locality's data file.
func (d *DatabaseSet) DataPath(l Locality) string {
	return filepath.Join(d.Dir(), l.dataFileName())
}
