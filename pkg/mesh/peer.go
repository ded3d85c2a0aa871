package mesh

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cuemby/whip/pkg/asset"
	"github.com/cuemby/whip/pkg/protocol"
	"github.com/rs/zerolog"
)

// PeerConfig is a peer's static address triple, as parsed from the
// intramesh_peers configuration key.
type PeerConfig struct {
	Host      string
	QueryPort int
	AssetPort int
}

func (c PeerConfig) queryAddr() string { return fmt.Sprintf("%s:%d", c.Host, c.QueryPort) }
func (c PeerConfig) assetAddr() string { return fmt.Sprintf("%s:%d", c.Host, c.AssetPort) }

// Peer tracks one mesh peer's two sockets — a query connection
// speaking the 38-byte intramesh protocol, and an asset-service
// connection speaking the authenticated client protocol — plus its
// heartbeat state. A search QUERY may be outstanding per UUID at any
// time; responses are dispatched to the matching pending channel by
// the query connection's read loop.
type Peer struct {
	cfg      PeerConfig
	password string
	logger   zerolog.Logger

	mu            sync.Mutex
	lastHeartbeat time.Time
	flags         uint32
	queryConn     net.Conn

	assetMu   sync.Mutex
	assetConn net.Conn

	pendingMu sync.Mutex
	pending   map[string]chan protocol.MeshResult
}

// NewPeer builds a disconnected peer for cfg.
func NewPeer(cfg PeerConfig, password string, logger zerolog.Logger) *Peer {
	return &Peer{
		cfg:      cfg,
		password: password,
		logger:   logger,
		pending:  make(map[string]chan protocol.MeshResult),
	}
}

// Addr identifies this peer (host:queryPort) for logs; it is also the
// peer's key in the mesh's peer map.
func (p *Peer) Addr() string { return p.cfg.queryAddr() }

// Online reports whether the peer's heartbeat is within the dead timeout.
func (p *Peer) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.lastHeartbeat.IsZero() && time.Since(p.lastHeartbeat) < DeadPeerTimeout
}

// Readable reports whether the peer's last heartbeat advertised READABLE.
func (p *Peer) Readable() bool {
	p.mu.Lock()
	online := !p.lastHeartbeat.IsZero() && time.Since(p.lastHeartbeat) < DeadPeerTimeout
	readable := p.flags&protocol.HeartbeatReadable != 0
	p.mu.Unlock()
	return online && readable
}

func (p *Peer) connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queryConn != nil
}

// EnsureConnected dials the query connection if not already
// connected, and starts its read loop.
func (p *Peer) EnsureConnected() {
	p.mu.Lock()
	if p.queryConn != nil {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	conn, err := net.DialTimeout("tcp", p.cfg.queryAddr(), 5*time.Second)
	if err != nil {
		p.logger.Debug().Err(err).Str("peer", p.cfg.queryAddr()).Msg("mesh query dial failed")
		return
	}

	p.mu.Lock()
	p.queryConn = conn
	p.mu.Unlock()

	go p.readQueryLoop(conn)
}

// SendHeartbeat writes this node's capability flags to the peer's query connection.
func (p *Peer) SendHeartbeat(flags uint32) {
	p.mu.Lock()
	conn := p.queryConn
	p.mu.Unlock()
	if conn == nil {
		return
	}
	if _, err := conn.Write(protocol.EncodeMeshHeartbeat(flags)); err != nil {
		p.disconnect()
	}
}

func (p *Peer) readQueryLoop(conn net.Conn) {
	buf := make([]byte, protocol.MeshMessageSize)
	for {
		if _, err := io.ReadFull(conn, buf); err != nil {
			p.disconnect()
			return
		}
		msg, err := protocol.DecodeMeshMessage(buf)
		if err != nil {
			continue
		}
		switch msg.Type {
		case protocol.MeshResponse:
			p.pendingMu.Lock()
			ch, ok := p.pending[msg.UUID]
			if ok {
				delete(p.pending, msg.UUID)
			}
			p.pendingMu.Unlock()
			if ok {
				ch <- msg.Result
			}
		case protocol.MeshHeartbeat:
			p.mu.Lock()
			p.lastHeartbeat = time.Now()
			p.flags = msg.Flags
			p.mu.Unlock()
		}
	}
}

func (p *Peer) disconnect() {
	p.mu.Lock()
	if p.queryConn != nil {
		p.queryConn.Close()
		p.queryConn = nil
	}
	p.mu.Unlock()

	p.pendingMu.Lock()
	for uuid, ch := range p.pending {
		close(ch)
		delete(p.pending, uuid)
	}
	p.pendingMu.Unlock()
}

// Query sends a QUERY for uuid and returns a channel that receives
// exactly one MeshResult, or is closed without a value if the
// connection drops before a response arrives.
func (p *Peer) Query(uuid string) (<-chan protocol.MeshResult, bool) {
	p.mu.Lock()
	conn := p.queryConn
	p.mu.Unlock()
	if conn == nil {
		return nil, false
	}

	ch := make(chan protocol.MeshResult, 1)
	p.pendingMu.Lock()
	p.pending[uuid] = ch
	p.pendingMu.Unlock()

	if _, err := conn.Write(protocol.EncodeMeshQuery(uuid)); err != nil {
		p.pendingMu.Lock()
		delete(p.pending, uuid)
		p.pendingMu.Unlock()
		return nil, false
	}
	return ch, true
}

// CancelQuery drops a pending query's bookkeeping after a local
// timeout; no wire cancellation is sent.
func (p *Peer) CancelQuery(uuid string) {
	p.pendingMu.Lock()
	delete(p.pending, uuid)
	p.pendingMu.Unlock()
}

// Fetch retrieves an asset from this peer's asset-service connection,
// authenticating and dialing lazily on first use. Fetches on one peer
// are serialized so responses can be matched against the request FIFO.
func (p *Peer) Fetch(uuid string) (*asset.Asset, bool) {
	p.assetMu.Lock()
	defer p.assetMu.Unlock()

	if p.assetConn == nil {
		conn, err := p.dialAssetConn()
		if err != nil {
			p.logger.Debug().Err(err).Str("peer", p.cfg.assetAddr()).Msg("mesh asset dial failed")
			return nil, false
		}
		p.assetConn = conn
	}

	req := protocol.Request{Type: protocol.ReqGetNoCache, UUID: uuid}
	if _, err := p.assetConn.Write(req.EncodeHeader()); err != nil {
		p.closeAssetConn()
		return nil, false
	}

	hdr := make([]byte, protocol.ResponseHeaderSize)
	if _, err := io.ReadFull(p.assetConn, hdr); err != nil {
		p.closeAssetConn()
		return nil, false
	}
	resp, err := protocol.DecodeResponseHeader(hdr)
	if err != nil || resp.UUID != uuid {
		p.closeAssetConn()
		return nil, false
	}
	if resp.Code != protocol.RespFound {
		return nil, false
	}

	length := resp.DataLen(hdr)
	payload := make([]byte, length)
	if _, err := io.ReadFull(p.assetConn, payload); err != nil {
		p.closeAssetConn()
		return nil, false
	}
	a, err := asset.New(payload)
	if err != nil {
		return nil, false
	}
	return a, true
}

func (p *Peer) closeAssetConn() {
	if p.assetConn != nil {
		p.assetConn.Close()
		p.assetConn = nil
	}
}

func (p *Peer) dialAssetConn() (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", p.cfg.assetAddr(), 5*time.Second)
	if err != nil {
		return nil, err
	}

	var challengeBuf [protocol.AuthChallengeSize]byte
	if _, err := io.ReadFull(conn, challengeBuf[:]); err != nil {
		conn.Close()
		return nil, err
	}
	challenge, err := protocol.DecodeAuthChallenge(challengeBuf[:])
	if err != nil {
		conn.Close()
		return nil, err
	}

	resp := protocol.NewAuthResponse(protocol.AuthResponseMeshPeer, p.password, challenge.Phrase)
	if _, err := conn.Write(resp.Encode()); err != nil {
		conn.Close()
		return nil, err
	}

	var statusBuf [protocol.AuthStatusSize]byte
	if _, err := io.ReadFull(conn, statusBuf[:]); err != nil {
		conn.Close()
		return nil, err
	}
	status, err := protocol.DecodeAuthStatus(statusBuf[:])
	if err != nil || !status.Success {
		conn.Close()
		return nil, fmt.Errorf("mesh: asset-service auth rejected by %s", p.cfg.assetAddr())
	}
	return conn, nil
}

// Close tears down both sockets.
func (p *Peer) Close() {
	p.disconnect()
	p.assetMu.Lock()
	p.closeAssetConn()
	p.assetMu.Unlock()
}
