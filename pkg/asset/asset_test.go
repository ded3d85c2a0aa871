package asset

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAndAccessors(t *testing.T) {
	uuid := "0123456789abcdef0123456789abcdef"
	payload := strings.Repeat("\xAA", 66)

	a, err := Build(uuid, 1, Global, []byte(payload))
	require.NoError(t, err)

	assert.Equal(t, uuid, a.UUID())
	assert.Equal(t, byte(1), a.Type())
	assert.Equal(t, Global, a.Locality())
	assert.Equal(t, []byte(payload), a.Payload())
	assert.Equal(t, HeaderLen+len(payload), a.Size())
}

func TestNewRejectsShortBuffer(t *testing.T) {
	_, err := New(make([]byte, HeaderLen-1))
	assert.ErrorIs(t, err, ErrTooShort)
}

func TestNewRejectsBadUUID(t *testing.T) {
	buf := make([]byte, HeaderLen)
	copy(buf, strings.Repeat("Z", UUIDLen))
	_, err := New(buf)
	assert.ErrorIs(t, err, ErrBadUUID)
}

func TestValidUUIDBoundaries(t *testing.T) {
	assert.True(t, ValidUUIDString(strings.Repeat("0", 32)))
	assert.False(t, ValidUUIDString(strings.Repeat("0", 31)))
	assert.False(t, ValidUUIDString(strings.Repeat("0", 33)))
	assert.False(t, ValidUUIDString(strings.Repeat("A", 32)))
	assert.False(t, ValidUUIDString("g"+strings.Repeat("0", 31)))
}

func TestLocalityString(t *testing.T) {
	assert.Equal(t, "global", Global.String())
	assert.Equal(t, "local", Local.String())
}
