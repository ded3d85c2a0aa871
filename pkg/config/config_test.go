package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "whip.cfg")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeTestConfig(t, "disk_storage_root = /var/whip\n")
	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, c.Port())
	assert.Equal(t, DefaultIntraMeshPort, c.IntraMeshPort())
	assert.True(t, c.CacheEnabled())
	assert.Equal(t, int64(DefaultCacheSize)*1_000_000, c.CacheSizeBytes())
	assert.Equal(t, "vfs", c.DiskStorageBackend())
	assert.Equal(t, "/var/whip", c.DiskStorageRoot())
	assert.False(t, c.AllowPurge())
	assert.Equal(t, "", c.IntraMeshPeers())
	assert.Equal(t, "", c.ReplicationMaster())
}

func TestLoadOverridesAndPeers(t *testing.T) {
	path := writeTestConfig(t, `
port = 9100
intramesh_port = 9101
cache_size = 128
cache_enabled = false
intramesh_peers = 10.0.0.2:8003:8002,10.0.0.3:8003:8002
replication_master = 10.0.0.9:8003
allow_purge = true
`)
	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, c.Port())
	assert.Equal(t, 9101, c.IntraMeshPort())
	assert.False(t, c.CacheEnabled())
	assert.Equal(t, int64(128_000_000), c.CacheSizeBytes())
	assert.Equal(t, "10.0.0.2:8003:8002,10.0.0.3:8003:8002", c.IntraMeshPeers())
	assert.Equal(t, "10.0.0.9:8003", c.ReplicationMaster())
	assert.True(t, c.AllowPurge())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.cfg"))
	assert.Error(t, err)
}

func TestReload(t *testing.T) {
	path := writeTestConfig(t, "port = 8002\n")
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8002, c.Port())

	require.NoError(t, os.WriteFile(path, []byte("port = 9999\n"), 0o644))
	require.NoError(t, c.Reload())
	assert.Equal(t, 9999, c.Port())
}
