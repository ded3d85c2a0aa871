package vfs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// DataMagic is the 8-byte header every data file begins with.
var DataMagic = [8]byte{'I', 'W', 'Z', 'D', 'D', 'B', '0', '1'}

// ErrBadMagic is returned when an existing data file's header doesn't match DataMagic.
var ErrBadMagic = errors.New("vfs: data file has bad magic header")

// DataFile is an append-only record file: an 8-byte magic header
// followed by repeated [4-byte BE length][payload] records. Records
// are never rewritten or deleted in place.
type DataFile struct {
	path string
	f    *os.File
}

// OpenDataFile opens path for read/append, creating it with the magic
// header if it does not exist.
func OpenDataFile(path string) (*DataFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("vfs: open data file %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("vfs: stat data file %s: %w", path, err)
	}
	if info.Size() == 0 {
		if _, err := f.Write(DataMagic[:]); err != nil {
			f.Close()
			return nil, fmt.Errorf("vfs: write magic %s: %w", path, err)
		}
	} else {
		var hdr [8]byte
		if _, err := f.ReadAt(hdr[:], 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("vfs: read magic %s: %w", path, err)
		}
		if hdr != DataMagic {
			f.Close()
			return nil, fmt.Errorf("%w: %s", ErrBadMagic, path)
		}
	}
	return &DataFile{path: path, f: f}, nil
}

// Append writes record at the end of the file and returns the byte
// offset of its length prefix (the position stored in the index).
func (d *DataFile) Append(record []byte) (int64, error) {
	pos, err := d.f.Seek(0, os.SEEK_END)
	if err != nil {
		return 0, fmt.Errorf("vfs: seek end %s: %w", d.path, err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(record)))
	if _, err := d.f.Write(lenBuf[:]); err != nil {
		return 0, fmt.Errorf("vfs: write length %s: %w", d.path, err)
	}
	if _, err := d.f.Write(record); err != nil {
		return 0, fmt.Errorf("vfs: write record %s: %w", d.path, err)
	}
	return pos, nil
}

// ReadAt reads the record whose length prefix starts at pos.
func (d *DataFile) ReadAt(pos int64) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := d.f.ReadAt(lenBuf[:], pos); err != nil {
		return nil, fmt.Errorf("vfs: read length at %d in %s: %w", pos, d.path, err)
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, length)
	if _, err := d.f.ReadAt(buf, pos+4); err != nil {
		return nil, fmt.Errorf("vfs: read record at %d in %s: %w", pos, d.path, err)
	}
	return buf, nil
}

// Close closes the underlying file handle.
func (d *DataFile) Close() error {
	return d.f.Close()
}
