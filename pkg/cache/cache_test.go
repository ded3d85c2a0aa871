package cache

import (
	"strings"
	"testing"

	"github.com/cuemby/whip/pkg/asset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildAsset(t *testing.T, seed byte, payloadLen int) *asset.Asset {
	t.Helper()
	uuid := strings.Repeat(string(seed), 32)
	a, err := asset.Build(uuid, 1, asset.Global, make([]byte, payloadLen))
	require.NoError(t, err)
	return a
}

func TestInsertAndGet(t *testing.T) {
	c := New(10_000)
	a := buildAsset(t, 'a', 100)
	c.Insert(a)

	got, ok := c.Get(a.UUID())
	require.True(t, ok)
	assert.Equal(t, a.UUID(), got.UUID())
}

func TestGetMissCounts(t *testing.T) {
	c := New(10_000)
	_, ok := c.Get(strings.Repeat("z", 32))
	assert.False(t, ok)
}

func TestEvictsLeastRecentlyUsedOnOverflow(t *testing.T) {
	// Each entry costs payloadLen + asset.HeaderLen + asset.OverheadBytes.
	// Budget room for exactly one 174-byte entry (34 + 100 + 40).
	budget := int64(asset.HeaderLen) + 100 + asset.OverheadBytes
	c := New(budget)

	first := buildAsset(t, 'a', 100)
	second := buildAsset(t, 'b', 100)

	c.Insert(first)
	c.Insert(second)

	_, ok := c.Get(first.UUID())
	assert.False(t, ok, "first entry should have been evicted")

	_, ok = c.Get(second.UUID())
	assert.True(t, ok)
}

func TestOversizedAssetNotCached(t *testing.T) {
	c := New(10)
	a := buildAsset(t, 'c', 100)
	c.Insert(a)
	assert.Equal(t, 0, c.Len())
}

func TestRemove(t *testing.T) {
	c := New(10_000)
	a := buildAsset(t, 'd', 50)
	c.Insert(a)
	c.Remove(a.UUID())
	_, ok := c.Get(a.UUID())
	assert.False(t, ok)
}
