package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/cuemby/whip/pkg/asset"
)

// MeshMsgType enumerates the intramesh message types.
type MeshMsgType byte

const (
	MeshQuery     MeshMsgType = 0
	MeshResponse  MeshMsgType = 1
	MeshHeartbeat MeshMsgType = 2
)

// MeshResult enumerates the outcome carried by a MeshResponse.
type MeshResult byte

const (
	MeshNotFound MeshResult = 0
	MeshFound    MeshResult = 1
	MeshError    MeshResult = 2
)

// Heartbeat capability flag bits.
const (
	HeartbeatOnline   uint32 = 1 << 0
	HeartbeatReadable uint32 = 1 << 1
	HeartbeatWritable uint32 = 1 << 2
)

// MeshMessageSize is the fixed size of every intramesh packet,
// trailing bytes zero-padded.
const MeshMessageSize = 38

const (
	meshResultOffset    = 33
	meshHeartbeatOffset = 1
)

// MeshMessage is a decoded (or to-be-encoded) intramesh packet.
type MeshMessage struct {
	Type   MeshMsgType
	UUID   string     // valid for Query/Response
	Result MeshResult // valid for Response
	Flags  uint32     // valid for Heartbeat
}

// EncodeMeshQuery builds a QUERY packet for uuid.
func EncodeMeshQuery(uuid string) []byte {
	out := make([]byte, MeshMessageSize)
	out[0] = byte(MeshQuery)
	copy(out[1:], uuid)
	return out
}

// EncodeMeshResponse builds a RESPONSE packet for uuid with the given result.
func EncodeMeshResponse(uuid string, result MeshResult) []byte {
	out := make([]byte, MeshMessageSize)
	out[0] = byte(MeshResponse)
	copy(out[1:], uuid)
	out[meshResultOffset] = byte(result)
	return out
}

// EncodeMeshHeartbeat builds a HEARTBEAT packet carrying flags.
func EncodeMeshHeartbeat(flags uint32) []byte {
	out := make([]byte, MeshMessageSize)
	out[0] = byte(MeshHeartbeat)
	binary.BigEndian.PutUint32(out[meshHeartbeatOffset:], flags)
	return out
}

// DecodeMeshMessage parses a 38-byte intramesh packet.
func DecodeMeshMessage(b []byte) (MeshMessage, error) {
	if len(b) != MeshMessageSize {
		return MeshMessage{}, ErrShortBuffer
	}
	switch MeshMsgType(b[0]) {
	case MeshQuery:
		uuid := b[1:33]
		if !asset.ValidUUID(uuid) {
			return MeshMessage{}, fmt.Errorf("%w: invalid uuid in query", ErrMalformed)
		}
		return MeshMessage{Type: MeshQuery, UUID: string(uuid)}, nil
	case MeshResponse:
		uuid := b[1:33]
		if !asset.ValidUUID(uuid) {
			return MeshMessage{}, fmt.Errorf("%w: invalid uuid in response", ErrMalformed)
		}
		return MeshMessage{Type: MeshResponse, UUID: string(uuid), Result: MeshResult(b[meshResultOffset])}, nil
	case MeshHeartbeat:
		flags := binary.BigEndian.Uint32(b[meshHeartbeatOffset:])
		return MeshMessage{Type: MeshHeartbeat, Flags: flags}, nil
	default:
		return MeshMessage{}, fmt.Errorf("%w: mesh type %d", ErrMalformed, b[0])
	}
}
