package vfs

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/whip/pkg/asset"
	"github.com/cuemby/whip/pkg/existence"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(t.TempDir(), existence.New(0), zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	t.Cleanup(func() {
		cancel()
		b.Stop()
	})
	return b
}

func TestPutThenGetRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	uuid := strings.Repeat("a", 32)
	a, err := asset.Build(uuid, 1, asset.Global, []byte("hello world"))
	require.NoError(t, err)

	require.NoError(t, b.Put(a))

	got, found, err := b.Get(uuid, false)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uuid, got.UUID())
	assert.Equal(t, []byte("hello world"), got.Payload())
}

func TestPutDuplicateRejected(t *testing.T) {
	b := newTestBackend(t)
	uuid := strings.Repeat("b", 32)
	a, err := asset.Build(uuid, 1, asset.Global, []byte("payload"))
	require.NoError(t, err)

	require.NoError(t, b.Put(a))
	assert.Error(t, b.Put(a))
}

func TestGetMissingReturnsNotFoundWithoutError(t *testing.T) {
	b := newTestBackend(t)
	_, found, err := b.Get(strings.Repeat("c", 32), false)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLocalAssetShardedSeparately(t *testing.T) {
	b := newTestBackend(t)
	uuid := strings.Repeat("d", 32)
	a, err := asset.Build(uuid, 1, asset.Local, []byte("local-only"))
	require.NoError(t, err)
	require.NoError(t, b.Put(a))

	ids, err := b.StoredIDs(ShardKey(uuid))
	require.NoError(t, err)
	assert.Contains(t, ids, uuid)
	assert.FileExists(t, filepath.Join(ShardDir(b.root, ShardKey(uuid)), Locals.dataFileName()))
	assert.NoFileExists(t, filepath.Join(ShardDir(b.root, ShardKey(uuid)), Globals.dataFileName()))
}

func TestPurgeLocalsDropsLocalAssets(t *testing.T) {
	b := newTestBackend(t)
	// Shard prefix "000" is the first one the sweep visits, so this
	// asset is dropped on the very first tick.
	uuid := "000" + strings.Repeat("e", 29)
	a, err := asset.Build(uuid, 1, asset.Local, []byte("local-only"))
	require.NoError(t, err)
	require.NoError(t, b.Put(a))

	b.PurgeLocals()

	require.Eventually(t, func() bool {
		_, found, _ := b.Get(uuid, false)
		return !found
	}, 3*time.Second, 50*time.Millisecond)
}

func TestStatusReportsCounters(t *testing.T) {
	b := newTestBackend(t)
	text, err := b.Status()
	require.NoError(t, err)
	assert.Contains(t, text, "existing_assets=")
}
