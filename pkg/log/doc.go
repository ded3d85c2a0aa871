/*
Package log provides structured logging for whip using zerolog.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("vfs")                     │          │
	│  │  - WithComponent("mesh")                    │          │
	│  │  - WithPeer("10.0.0.2:8003")                │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "vfs",                      │          │
	│  │    "time": "2026-01-10T10:30:00Z",          │          │
	│  │    "message": "asset stored"                │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  10:30AM INF asset stored component=vfs     │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	vfsLog := log.WithComponent("vfs")
	vfsLog.Info().Str("shard", "012").Msg("data file rolled")

	peerLog := log.WithPeer(peer.Addr)
	peerLog.Warn().Err(err).Msg("heartbeat timed out")

# Integration Points

Only cmd/whip imports this package: it calls Init, builds the
WithComponent("server") logger and passes it to pkg/server, which
derives tagged child loggers for pkg/vfs, pkg/connio, pkg/mesh and
pkg/replication and hands them to their constructors.

# Error sink

The spec's background error-log collaborator is implemented by
ErrorFileFlusher (flusher.go): callers append formatted lines, a
ticker goroutine appends the buffer to the configured file every
interval (cmd/whip uses 5 seconds) and once more at shutdown, so a
crash between flushes loses at most one interval's worth of lines.
*/
package log
