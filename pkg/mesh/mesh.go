// Package mesh implements whip's intramesh subsystem: peer topology
// maintenance, heartbeats, and distributed first-found-wins asset
// search across the fleet.
package mesh

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/whip/pkg/config"
	"github.com/cuemby/whip/pkg/metrics"
	"github.com/cuemby/whip/pkg/protocol"
	"github.com/rs/zerolog"
)

// TopologyTick is the interval on which peer connections and
// heartbeats are (re-)established.
const TopologyTick = 5 * time.Second

// DeadPeerTimeout is how long without a heartbeat before a peer is
// considered unreachable.
const DeadPeerTimeout = 30 * time.Second

// QueryTimeout bounds how long a search waits for peer responses.
const QueryTimeout = 5 * time.Second

// ExistenceChecker answers whether an asset is known locally, used to
// respond to inbound QUERY messages.
type ExistenceChecker interface {
	Exists(uuid string) bool
}

// Mesh owns the peer set and drives topology/heartbeat maintenance.
type Mesh struct {
	cfg        *config.Config
	existence  ExistenceChecker
	logger     zerolog.Logger
	isWritable func() bool

	mu    sync.RWMutex
	peers map[string]*Peer
}

// New builds a Mesh bound to cfg. existence answers local lookups for
// inbound QUERY handling; isWritable reports this node's writable
// flag for outbound heartbeats.
func New(cfg *config.Config, existence ExistenceChecker, isWritable func() bool, logger zerolog.Logger) *Mesh {
	return &Mesh{
		cfg:        cfg,
		existence:  existence,
		isWritable: isWritable,
		logger:     logger,
		peers:      make(map[string]*Peer),
	}
}

// ParsePeers parses the comma-separated host:queryPort:assetPort list.
func ParsePeers(raw string) []PeerConfig {
	var out []PeerConfig
	if raw == "" {
		return out
	}
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			continue
		}
		queryPort, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		assetPort, err := strconv.Atoi(parts[2])
		if err != nil {
			continue
		}
		out = append(out, PeerConfig{Host: parts[0], QueryPort: queryPort, AssetPort: assetPort})
	}
	return out
}

// Run drives the 5-second topology/heartbeat tick until stop is closed.
func (m *Mesh) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(TopologyTick)
	defer ticker.Stop()

	m.tick()
	for {
		select {
		case <-ticker.C:
			m.tick()
		case <-stop:
			m.closeAll()
			return
		}
	}
}

func (m *Mesh) tick() {
	if err := m.cfg.Reload(); err != nil {
		m.logger.Warn().Err(err).Msg("config reload failed, keeping previous values")
	}
	configured := ParsePeers(m.cfg.IntraMeshPeers())

	m.mu.Lock()
	for _, pc := range configured {
		if _, ok := m.peers[pc.queryAddr()]; !ok {
			m.peers[pc.queryAddr()] = NewPeer(pc, m.cfg.Password(), m.logger)
		}
	}
	peers := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	m.mu.Unlock()

	flags := protocol.HeartbeatOnline | protocol.HeartbeatReadable
	if m.isWritable != nil && m.isWritable() {
		flags |= protocol.HeartbeatWritable
	}

	for _, p := range peers {
		p.EnsureConnected()
		if p.connected() {
			p.SendHeartbeat(flags)
		}
	}

	metrics.PeersOnline.Set(float64(m.OnlineCount()))
}

func (m *Mesh) closeAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.peers {
		p.Close()
	}
}

// Peers returns a snapshot of tracked peers, for stats reporting.
func (m *Mesh) Peers() []*Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p)
	}
	return out
}

// OnlineCount returns the number of peers currently within the dead timeout.
func (m *Mesh) OnlineCount() int {
	n := 0
	for _, p := range m.Peers() {
		if p.Online() {
			n++
		}
	}
	return n
}
