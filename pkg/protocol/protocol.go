// Package protocol implements whip's fixed-layout wire messages: the
// auth handshake, client requests/responses, and the intramesh
// message. All multi-byte integers are big-endian, per the wire
// contract. Auth messages are structs with an Encode method, request
// and response headers have EncodeHeader, and intramesh packets are
// built by the EncodeMesh* functions; each message has a package-level
// Decode function. Explicit byte-offset constants are favored over
// reflection or a generic framing layer.
package protocol

import (
	"crypto/sha1" //nolint:gosec // protocol-mandated hash, not used for secrecy
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"

	"github.com/cuemby/whip/pkg/asset"
)

// ErrShortBuffer is returned when a Decode call is given fewer bytes
// than the message requires.
var ErrShortBuffer = errors.New("protocol: buffer too short")

// ErrMalformed is returned when a Decode call is given a buffer of
// the right size but with an invalid field (bad identifier byte, bad
// UUID characters, out-of-range code).
var ErrMalformed = errors.New("protocol: malformed message")

// --- Auth challenge (server -> client, 8 bytes) ---

const (
	AuthChallengeSize   = 8
	authChallengeIdent  = 0x00
	authChallengePhrase = 7
)

// AuthChallenge is the server's opening handshake message.
type AuthChallenge struct {
	Phrase string // 7 printable ASCII characters in ['0'..'z']
}

// NewAuthChallenge generates a fresh random phrase.
func NewAuthChallenge() AuthChallenge {
	b := make([]byte, authChallengePhrase)
	for i := range b {
		b[i] = byte('0' + rand.Intn('z'-'0'+1))
	}
	return AuthChallenge{Phrase: string(b)}
}

// Encode serializes the challenge to its 8-byte wire form.
func (c AuthChallenge) Encode() []byte {
	out := make([]byte, AuthChallengeSize)
	out[0] = authChallengeIdent
	copy(out[1:], c.Phrase)
	return out
}

// DecodeAuthChallenge parses an 8-byte challenge.
func DecodeAuthChallenge(b []byte) (AuthChallenge, error) {
	if len(b) != AuthChallengeSize {
		return AuthChallenge{}, ErrShortBuffer
	}
	if b[0] != authChallengeIdent {
		return AuthChallenge{}, ErrMalformed
	}
	return AuthChallenge{Phrase: string(b[1:])}, nil
}

// --- Auth response (client -> server, 41 bytes) ---

const (
	AuthResponseSize      = 41
	AuthResponseClient    = 0x00
	AuthResponseMeshPeer  = 0x64
	authResponseHashBytes = 40
)

// AuthResponse is the connecting party's answer to the challenge.
type AuthResponse struct {
	// Identifier is AuthResponseClient or AuthResponseMeshPeer.
	Identifier byte
	// Hash is the 40-character lowercase hex SHA-1 digest.
	Hash string
}

// ComputeHash returns the lowercase hex SHA-1 of password||phrase.
func ComputeHash(password, phrase string) string {
	sum := sha1.Sum([]byte(password + phrase)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// NewAuthResponse builds a response for the given identifier, password and phrase.
func NewAuthResponse(identifier byte, password, phrase string) AuthResponse {
	return AuthResponse{Identifier: identifier, Hash: ComputeHash(password, phrase)}
}

// Encode serializes the response to its 41-byte wire form.
func (r AuthResponse) Encode() []byte {
	out := make([]byte, AuthResponseSize)
	out[0] = r.Identifier
	copy(out[1:], r.Hash)
	return out
}

// DecodeAuthResponse parses a 41-byte auth response.
func DecodeAuthResponse(b []byte) (AuthResponse, error) {
	if len(b) != AuthResponseSize {
		return AuthResponse{}, ErrShortBuffer
	}
	if b[0] != AuthResponseClient && b[0] != AuthResponseMeshPeer {
		return AuthResponse{}, ErrMalformed
	}
	return AuthResponse{Identifier: b[0], Hash: string(b[1:1+authResponseHashBytes])}, nil
}

// Valid reports whether r's hash matches password and phrase.
func (r AuthResponse) Valid(password, phrase string) bool {
	return r.Hash == ComputeHash(password, phrase)
}

// --- Auth status (server -> client, 2 bytes) ---

const (
	AuthStatusSize        = 2
	authStatusIdent  byte = 0x01
)

// AuthStatus is the server's verdict on the client's auth response.
type AuthStatus struct {
	Success bool
}

// Encode serializes the status to its 2-byte wire form.
func (s AuthStatus) Encode() []byte {
	v := byte(0x01)
	if s.Success {
		v = 0x00
	}
	return []byte{authStatusIdent, v}
}

// DecodeAuthStatus parses a 2-byte auth status.
func DecodeAuthStatus(b []byte) (AuthStatus, error) {
	if len(b) != AuthStatusSize {
		return AuthStatus{}, ErrShortBuffer
	}
	if b[0] != authStatusIdent {
		return AuthStatus{}, ErrMalformed
	}
	if b[1] != 0x00 && b[1] != 0x01 {
		return AuthStatus{}, ErrMalformed
	}
	return AuthStatus{Success: b[1] == 0x00}, nil
}

// --- Client request (37-byte header + optional payload) ---

// RequestType enumerates the client request opcodes.
type RequestType byte

const (
	ReqGet          RequestType = 10
	ReqPut          RequestType = 11
	ReqPurge        RequestType = 12
	ReqTest         RequestType = 13
	ReqPurgeLocals  RequestType = 14
	ReqStatusGet    RequestType = 15
	ReqStoredIDsGet RequestType = 16
	ReqGetNoCache   RequestType = 17
)

func (t RequestType) valid() bool {
	return t >= ReqGet && t <= ReqGetNoCache
}

// RequestHeaderSize is the fixed header length preceding any PUT payload.
const RequestHeaderSize = 37

const reqLenOffset = 33

// Request is a decoded client request header; Payload is populated
// separately for PUT once the declared length has been read off the wire.
type Request struct {
	Type    RequestType
	UUID    string
	DataLen uint32
	Payload []byte
}

// EncodeHeader serializes the 37-byte request header (without payload).
func (r Request) EncodeHeader() []byte {
	out := make([]byte, RequestHeaderSize)
	out[0] = byte(r.Type)
	copy(out[1:], r.UUID)
	binary.BigEndian.PutUint32(out[reqLenOffset:], r.DataLen)
	return out
}

// DecodeRequestHeader parses the 37-byte request header.
func DecodeRequestHeader(b []byte) (Request, error) {
	if len(b) != RequestHeaderSize {
		return Request{}, ErrShortBuffer
	}
	t := RequestType(b[0])
	if !t.valid() {
		return Request{}, fmt.Errorf("%w: request type %d", ErrMalformed, b[0])
	}
	uuid := b[1:33]
	if !asset.ValidUUID(uuid) {
		return Request{}, fmt.Errorf("%w: invalid uuid", ErrMalformed)
	}
	return Request{
		Type:    t,
		UUID:    string(uuid),
		DataLen: binary.BigEndian.Uint32(b[reqLenOffset:]),
	}, nil
}

// --- Server response (37-byte header + optional payload) ---

// ResponseCode enumerates the server response codes.
type ResponseCode byte

const (
	RespFound    ResponseCode = 10
	RespNotFound ResponseCode = 11
	RespError    ResponseCode = 12
	RespOK       ResponseCode = 13
)

func (c ResponseCode) valid() bool {
	return c >= RespFound && c <= RespOK
}

// ResponseHeaderSize is the fixed header length preceding any response payload.
const ResponseHeaderSize = 37

const respLenOffset = 33

// Response is a decoded (or to-be-encoded) server response.
type Response struct {
	Code    ResponseCode
	UUID    string
	Payload []byte
}

// EncodeHeader serializes the 37-byte response header; Payload is
// written separately by the caller.
func (r Response) EncodeHeader() []byte {
	out := make([]byte, ResponseHeaderSize)
	out[0] = byte(r.Code)
	copy(out[1:], r.UUID)
	binary.BigEndian.PutUint32(out[respLenOffset:], uint32(len(r.Payload)))
	return out
}

// DecodeResponseHeader parses the 37-byte response header.
func DecodeResponseHeader(b []byte) (Response, error) {
	if len(b) != ResponseHeaderSize {
		return Response{}, ErrShortBuffer
	}
	c := ResponseCode(b[0])
	if !c.valid() {
		return Response{}, fmt.Errorf("%w: response code %d", ErrMalformed, b[0])
	}
	return Response{
		Code: c,
		UUID: string(b[1:33]),
	}, nil
}

// DataLen returns the payload length declared by a decoded response header.
func (r Response) DataLen(raw []byte) uint32 {
	return binary.BigEndian.Uint32(raw[respLenOffset:])
}
