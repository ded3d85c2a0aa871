// Package config loads whip's key/value configuration file and
// exposes typed accessors. The underlying store is reloaded wholesale
// on every intramesh heartbeat tick so operators can push peer list
// or replication changes without a restart.
package config

import (
	"fmt"
	"sync"

	"github.com/magiconair/properties"
)

// Defaults applied when a key is absent from the file.
const (
	DefaultPort                     = 8002
	DefaultIntraMeshPort            = 8003
	DefaultCacheSize                = 64
	DefaultTCPBufSize               = 131072
	DefaultPullReplicationFrequency = 10
	DefaultPullReplicationBatchSize = 8
	DefaultPullReplicationStartAt   = 0
)

// Config is a mutex-protected view over a properties file. Reload
// swaps the underlying *properties.Properties atomically so readers
// never observe a half-applied file.
type Config struct {
	mu   sync.RWMutex
	path string
	p    *properties.Properties
}

// Load reads path and returns a Config. A missing or malformed file
// is a fatal startup error for the caller to report.
func Load(path string) (*Config, error) {
	p, err := properties.LoadFile(path, properties.UTF8)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	return &Config{path: path, p: p}, nil
}

// Reload re-reads the file from disk, replacing the in-memory values.
// On error the previous configuration is left in place.
func (c *Config) Reload() error {
	p, err := properties.LoadFile(c.path, properties.UTF8)
	if err != nil {
		return fmt.Errorf("config: reload %s: %w", c.path, err)
	}
	c.mu.Lock()
	c.p = p
	c.mu.Unlock()
	return nil
}

func (c *Config) get() *properties.Properties {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.p
}

func (c *Config) String(key, def string) string {
	return c.get().GetString(key, def)
}

func (c *Config) Int(key string, def int) int {
	return c.get().GetInt(key, def)
}

func (c *Config) Bool(key string, def bool) bool {
	return c.get().GetBool(key, def)
}

// Port returns the client-service TCP port.
func (c *Config) Port() int { return c.Int("port", DefaultPort) }

// IntraMeshPort returns the intramesh TCP port.
func (c *Config) IntraMeshPort() int { return c.Int("intramesh_port", DefaultIntraMeshPort) }

// Password returns the shared secret used in the auth challenge/response.
func (c *Config) Password() string { return c.String("password", "") }

// CacheEnabled reports whether the asset cache is active.
func (c *Config) CacheEnabled() bool { return c.Bool("cache_enabled", true) }

// CacheSizeBytes returns the cache byte budget (cache_size is in MB).
func (c *Config) CacheSizeBytes() int64 {
	return int64(c.Int("cache_size", DefaultCacheSize)) * 1_000_000
}

// DiskStorageBackend must equal "vfs"; any other value is a startup error.
func (c *Config) DiskStorageBackend() string { return c.String("disk_storage_backend", "vfs") }

// DiskStorageRoot returns the filesystem root for shard directories.
func (c *Config) DiskStorageRoot() string { return c.String("disk_storage_root", "") }

// AllowPurge returns the reserved allow_purge flag, stored but unconsulted.
func (c *Config) AllowPurge() bool { return c.Bool("allow_purge", false) }

// Debug enables verbose logging.
func (c *Config) Debug() bool { return c.Bool("debug", false) }

// ErrorLogPath returns the path the background error-log flusher
// appends to, or "" to disable it.
func (c *Config) ErrorLogPath() string { return c.String("error_log_path", "") }

// IsWritable returns the writable flag advertised in mesh heartbeats.
func (c *Config) IsWritable() bool { return c.Bool("is_writable", true) }

// IntraMeshPeers returns the raw comma-separated peer list, or ""
// (equivalent to "none") if unset or disabled.
func (c *Config) IntraMeshPeers() string {
	v := c.String("intramesh_peers", "none")
	if v == "none" {
		return ""
	}
	return v
}

// TCPBufSize returns the SO_SNDBUF/SO_RCVBUF size applied to accepted connections.
func (c *Config) TCPBufSize() int { return c.Int("tcp_bufsz", DefaultTCPBufSize) }

// ReplicationMaster returns "host:port", or "" if this node is not a pull slave.
func (c *Config) ReplicationMaster() string {
	v := c.String("replication_master", "none")
	if v == "none" {
		return ""
	}
	return v
}

// ReplicationSlave returns "host:port", or "" if this node is not a push master.
func (c *Config) ReplicationSlave() string {
	v := c.String("replication_slave", "none")
	if v == "none" {
		return ""
	}
	return v
}

// PullReplicationFrequency returns minutes between pull sweep runs.
func (c *Config) PullReplicationFrequency() int {
	return c.Int("pull_replication_frequency", DefaultPullReplicationFrequency)
}

// PullReplicationBatchSize returns the in-flight GET count per shard during a pull sweep.
func (c *Config) PullReplicationBatchSize() int {
	return c.Int("pull_replication_batch_size", DefaultPullReplicationBatchSize)
}

// PullReplicationStartAt returns the shard prefix (0..4095) a sweep resumes from.
func (c *Config) PullReplicationStartAt() int {
	return c.Int("pull_replication_start_at", DefaultPullReplicationStartAt)
}
