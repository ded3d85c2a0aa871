package vfs

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver
)

// SchemaVersion is the current on-disk index schema version.
const SchemaVersion = 1

const schemaDDL = `
CREATE TABLE IF NOT EXISTS VFSVersions (version INTEGER PRIMARY KEY);
CREATE TABLE IF NOT EXISTS VFSDataIndex (
	asset_id CHAR(32) PRIMARY KEY,
	position BIGINT NOT NULL,
	type INTEGER NOT NULL,
	created_on DATETIME DEFAULT CURRENT_TIMESTAMP,
	deleted TINYINT NOT NULL DEFAULT 0
);
`

// IndexFile wraps a single shard/locality SQLite index database.
type IndexFile struct {
	path string
	db   *sql.DB
}

// OpenIndexFile opens (creating and migrating if necessary) the index
// database at path.
func OpenIndexFile(path string) (*IndexFile, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("vfs: open index %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // one writer per index file, serialized by the caller
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("vfs: migrate index %s: %w", path, err)
	}
	if err := stampVersion(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("vfs: stamp version %s: %w", path, err)
	}
	return &IndexFile{path: path, db: db}, nil
}

func stampVersion(db *sql.DB) error {
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM VFSVersions`).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		_, err := db.Exec(`INSERT INTO VFSVersions(version) VALUES (?)`, SchemaVersion)
		return err
	}
	return nil
}

// Row is a decoded VFSDataIndex entry.
type Row struct {
	AssetID   string
	Position  int64
	Type      byte
	CreatedOn time.Time
	Deleted   bool
}

// Lookup returns the row for assetID if present and not tombstoned.
func (f *IndexFile) Lookup(assetID string) (Row, bool, error) {
	var r Row
	var deleted int
	err := f.db.QueryRow(
		`SELECT asset_id, position, type, created_on, deleted FROM VFSDataIndex WHERE asset_id = ? AND deleted = 0`,
		assetID,
	).Scan(&r.AssetID, &r.Position, &r.Type, &r.CreatedOn, &deleted)
	if err == sql.ErrNoRows {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, fmt.Errorf("vfs: lookup %s in %s: %w", assetID, f.path, err)
	}
	r.Deleted = deleted != 0
	return r, true, nil
}

// Insert records a new asset's position and type.
func (f *IndexFile) Insert(assetID string, position int64, typ byte) error {
	_, err := f.db.Exec(
		`INSERT INTO VFSDataIndex(asset_id, position, type, deleted) VALUES (?, ?, ?, 0)`,
		assetID, position, typ,
	)
	if err != nil {
		return fmt.Errorf("vfs: insert %s in %s: %w", assetID, f.path, err)
	}
	return nil
}

// MarkDeleted tombstones assetID without removing the row.
func (f *IndexFile) MarkDeleted(assetID string) error {
	_, err := f.db.Exec(`UPDATE VFSDataIndex SET deleted = 1 WHERE asset_id = ?`, assetID)
	if err != nil {
		return fmt.Errorf("vfs: mark deleted %s in %s: %w", assetID, f.path, err)
	}
	return nil
}

// AllActiveIDs returns every non-tombstoned asset_id, for existence
// index population and STORED_IDS_GET.
func (f *IndexFile) AllActiveIDs() ([]string, error) {
	rows, err := f.db.Query(`SELECT asset_id FROM VFSDataIndex WHERE deleted = 0`)
	if err != nil {
		return nil, fmt.Errorf("vfs: scan %s: %w", f.path, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("vfs: scan row %s: %w", f.path, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the underlying database handle.
func (f *IndexFile) Close() error {
	return f.db.Close()
}
