package vfs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/whip/pkg/existence"
)

// ScanExistenceIndex walks every shard directory under root and loads
// each index file's active asset IDs into idx, rebuilding the
// in-memory existence index from on-disk state at startup.
func ScanExistenceIndex(root string, idx *existence.Index) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("vfs: scan %s: %w", root, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		for _, l := range []Locality{Globals, Locals} {
			path := filepath.Join(dir, l.indexFileName())
			if _, err := os.Stat(path); os.IsNotExist(err) {
				continue
			}
			if err := loadIndexFile(path, idx); err != nil {
				return err
			}
		}
	}
	return nil
}

func loadIndexFile(path string, idx *existence.Index) error {
	f, err := OpenIndexFile(path)
	if err != nil {
		return fmt.Errorf("vfs: open index %s: %w", path, err)
	}
	defer f.Close()

	ids, err := f.AllActiveIDs()
	if err != nil {
		return fmt.Errorf("vfs: read index %s: %w", path, err)
	}
	for _, id := range ids {
		idx.Add(id)
	}
	return nil
}
