// Package asset defines the Asset type: an immutable BLOB with a
// 34-byte self-describing prefix (UUID, type, locality), shared by
// reference across the cache, the VFS backend, and the replication
// queues.
package asset

import (
	"errors"
	"fmt"
)

const (
	// UUIDLen is the length in bytes of the hex-encoded UUID prefix.
	UUIDLen = 32
	// HeaderLen is the total length of the structural prefix
	// (UUID + type byte + locality byte).
	HeaderLen = UUIDLen + 2

	typeOffset     = UUIDLen
	localityOffset = UUIDLen + 1

	// OverheadBytes is the per-entry bookkeeping cost charged against
	// a byte-budgeted cache, independent of the asset's own size.
	OverheadBytes = 40
)

// Locality distinguishes node-private assets from replicated ones.
type Locality byte

const (
	Global Locality = 0
	Local  Locality = 1
)

func (l Locality) String() string {
	if l == Local {
		return "local"
	}
	return "global"
}

var (
	// ErrTooShort is returned when a buffer is smaller than HeaderLen.
	ErrTooShort = errors.New("asset: buffer shorter than header")
	// ErrBadUUID is returned when the UUID prefix is not 32 lowercase hex characters.
	ErrBadUUID = errors.New("asset: invalid uuid characters")
	// ErrAssetTooLarge is returned when a payload's length does not
	// fit in the wire protocol's 32-bit length field.
	ErrAssetTooLarge = errors.New("asset: payload exceeds 4GiB wire limit")
)

const maxPayloadLen = 1<<32 - 1 - HeaderLen

// Asset is an opaque byte buffer whose first HeaderLen bytes are
// structurally meaningful. It is immutable once constructed and safe
// to share by reference across goroutines.
type Asset struct {
	data []byte
}

// New wraps a raw buffer as an Asset, validating the structural prefix.
func New(data []byte) (*Asset, error) {
	if len(data) < HeaderLen {
		return nil, ErrTooShort
	}
	if !ValidUUID(data[:UUIDLen]) {
		return nil, ErrBadUUID
	}
	return &Asset{data: data}, nil
}

// ValidUUID reports whether b is exactly 32 lowercase hex characters.
func ValidUUID(b []byte) bool {
	if len(b) != UUIDLen {
		return false
	}
	for _, c := range b {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

// ValidUUIDString is the string-argument form of ValidUUID.
func ValidUUIDString(s string) bool {
	return ValidUUID([]byte(s))
}

// UUID returns the lower-case hex UUID of this asset.
func (a *Asset) UUID() string {
	return string(a.data[:UUIDLen])
}

// Type returns this asset's declared type byte.
func (a *Asset) Type() byte {
	return a.data[typeOffset]
}

// Locality returns whether this asset is global or node-local.
func (a *Asset) Locality() Locality {
	return Locality(a.data[localityOffset])
}

// Payload returns the bytes following the 34-byte header.
func (a *Asset) Payload() []byte {
	return a.data[HeaderLen:]
}

// Bytes returns the full buffer, header included, as stored on disk
// and on the wire.
func (a *Asset) Bytes() []byte {
	return a.data
}

// Size returns the full buffer length (header + payload), the figure
// used for cache byte accounting.
func (a *Asset) Size() int {
	return len(a.data)
}

// Build assembles an Asset from explicit fields, used by handlers
// that construct assets from a decoded request rather than a raw buffer.
func Build(uuid string, typ byte, locality Locality, payload []byte) (*Asset, error) {
	if !ValidUUIDString(uuid) {
		return nil, fmt.Errorf("asset: %w", ErrBadUUID)
	}
	if len(payload) > maxPayloadLen {
		return nil, ErrAssetTooLarge
	}
	data := make([]byte, HeaderLen+len(payload))
	copy(data, uuid)
	data[typeOffset] = typ
	data[localityOffset] = byte(locality)
	copy(data[HeaderLen:], payload)
	return &Asset{data: data}, nil
}
