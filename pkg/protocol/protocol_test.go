package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthChallengeRoundTrip(t *testing.T) {
	c := NewAuthChallenge()
	require.Len(t, c.Phrase, authChallengePhrase)

	decoded, err := DecodeAuthChallenge(c.Encode())
	require.NoError(t, err)
	assert.Equal(t, c, decoded)
}

func TestAuthResponseRoundTripAndValidity(t *testing.T) {
	r := NewAuthResponse(AuthResponseClient, "secret", "abc1234")
	decoded, err := DecodeAuthResponse(r.Encode())
	require.NoError(t, err)
	assert.Equal(t, r, decoded)
	assert.True(t, decoded.Valid("secret", "abc1234"))
	assert.False(t, decoded.Valid("wrong", "abc1234"))
}

func TestAuthStatusRoundTrip(t *testing.T) {
	for _, success := range []bool{true, false} {
		s := AuthStatus{Success: success}
		decoded, err := DecodeAuthStatus(s.Encode())
		require.NoError(t, err)
		assert.Equal(t, s, decoded)
	}
}

func TestRequestHeaderRoundTrip(t *testing.T) {
	uuid := strings.Repeat("0", 32)
	r := Request{Type: ReqPut, UUID: uuid, DataLen: 100}
	decoded, err := DecodeRequestHeader(r.EncodeHeader())
	require.NoError(t, err)
	assert.Equal(t, r.Type, decoded.Type)
	assert.Equal(t, r.UUID, decoded.UUID)
	assert.Equal(t, r.DataLen, decoded.DataLen)
}

func TestRequestHeaderRejectsBadType(t *testing.T) {
	uuid := strings.Repeat("0", 32)
	r := Request{Type: 99, UUID: uuid}
	_, err := DecodeRequestHeader(r.EncodeHeader())
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestResponseHeaderRoundTrip(t *testing.T) {
	uuid := strings.Repeat("f", 32)
	r := Response{Code: RespFound, UUID: uuid, Payload: []byte("hello")}
	raw := r.EncodeHeader()
	decoded, err := DecodeResponseHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, r.Code, decoded.Code)
	assert.Equal(t, r.UUID, decoded.UUID)
	assert.Equal(t, uint32(len("hello")), decoded.DataLen(raw))
}

func TestMeshMessageRoundTrip(t *testing.T) {
	uuid := strings.Repeat("a", 32)

	q, err := DecodeMeshMessage(EncodeMeshQuery(uuid))
	require.NoError(t, err)
	assert.Equal(t, MeshQuery, q.Type)
	assert.Equal(t, uuid, q.UUID)

	r, err := DecodeMeshMessage(EncodeMeshResponse(uuid, MeshFound))
	require.NoError(t, err)
	assert.Equal(t, MeshResponse, r.Type)
	assert.Equal(t, MeshFound, r.Result)

	hb, err := DecodeMeshMessage(EncodeMeshHeartbeat(HeartbeatOnline | HeartbeatReadable))
	require.NoError(t, err)
	assert.Equal(t, MeshHeartbeat, hb.Type)
	assert.Equal(t, HeartbeatOnline|HeartbeatReadable, hb.Flags)
}

func TestMeshMessageRejectsShortBuffer(t *testing.T) {
	_, err := DecodeMeshMessage(make([]byte, MeshMessageSize-1))
	assert.ErrorIs(t, err, ErrShortBuffer)
}
