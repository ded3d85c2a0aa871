// Package connio implements the per-connection client protocol state
// machine: authentication handshake, then a read-dispatch-respond
// loop. Each connection owns one goroutine; storage and mesh calls
// block that goroutine, which is how the spec's "one request
// in-flight per connection" rule falls out naturally in Go.
package connio

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cuemby/whip/pkg/asset"
	"github.com/cuemby/whip/pkg/metrics"
	"github.com/cuemby/whip/pkg/protocol"
	"github.com/rs/zerolog"
)

// Store is the storage dependency a connection dispatches requests
// to: the cache-fronted VFS backend.
type Store interface {
	Get(uuid string, noCache bool) (*asset.Asset, bool, error)
	Put(a *asset.Asset) error
	Purge(uuid string) error
	PurgeLocals()
	Status() (string, error)
	StoredIDs(prefix string) (string, error)
	Exists(uuid string) bool
	// Inform opportunistically caches an asset fetched from a peer
	// over intramesh search.
	Inform(a *asset.Asset)
}

// Mesh is the intramesh dependency used to fall back on a cache+disk
// miss. Client connections never recurse the search when they are
// themselves a mesh peer connection.
type Mesh interface {
	Search(uuid string) (*asset.Asset, bool)
}

// State is the connection's authentication state.
type State int

const (
	Unauthenticated State = iota
	Authenticated
)

// Conn drives one TCP connection through the auth handshake and then
// the request/response loop.
type Conn struct {
	nc       net.Conn
	password string
	tcpBufSz int

	store Store
	mesh  Mesh

	state      State
	isMeshPeer bool
	logger     zerolog.Logger

	statsMu             sync.Mutex
	requestsSinceReport int
	bytesSinceReport    int64
}

// New wraps an accepted net.Conn, ready to run its FSM.
func New(nc net.Conn, password string, tcpBufSz int, store Store, mesh Mesh, logger zerolog.Logger) *Conn {
	return &Conn{
		nc:       nc,
		password: password,
		tcpBufSz: tcpBufSz,
		store:    store,
		mesh:     mesh,
		logger:   logger,
	}
}

// Serve runs the connection to completion: handshake, then the
// request loop, until the peer disconnects or a protocol error occurs.
func (c *Conn) Serve() {
	defer c.nc.Close()
	metrics.ConnectionsActive.Inc()
	defer metrics.ConnectionsActive.Dec()

	if err := c.handshake(); err != nil {
		c.logger.Debug().Err(err).Msg("auth handshake failed")
		return
	}

	for {
		if err := c.serveOne(); err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Debug().Err(err).Msg("connection closed")
			}
			return
		}
	}
}

func (c *Conn) handshake() error {
	challenge := protocol.NewAuthChallenge()
	if _, err := c.nc.Write(challenge.Encode()); err != nil {
		return fmt.Errorf("connio: write challenge: %w", err)
	}

	buf := make([]byte, protocol.AuthResponseSize)
	if _, err := io.ReadFull(c.nc, buf); err != nil {
		return fmt.Errorf("connio: read auth response: %w", err)
	}
	resp, err := protocol.DecodeAuthResponse(buf)
	if err != nil {
		return fmt.Errorf("connio: decode auth response: %w", err)
	}

	ok := resp.Valid(c.password, challenge.Phrase)
	status := protocol.AuthStatus{Success: ok}
	if _, err := c.nc.Write(status.Encode()); err != nil {
		return fmt.Errorf("connio: write auth status: %w", err)
	}
	if !ok {
		return errors.New("connio: auth response mismatch")
	}

	if tc, ok := c.nc.(*net.TCPConn); ok && c.tcpBufSz > 0 {
		_ = tc.SetReadBuffer(c.tcpBufSz)
		_ = tc.SetWriteBuffer(c.tcpBufSz)
	}

	c.isMeshPeer = resp.Identifier == protocol.AuthResponseMeshPeer
	c.state = Authenticated
	return nil
}

func (c *Conn) serveOne() error {
	hdr := make([]byte, protocol.RequestHeaderSize)
	if _, err := io.ReadFull(c.nc, hdr); err != nil {
		return err
	}
	req, err := protocol.DecodeRequestHeader(hdr)
	if err != nil {
		return fmt.Errorf("connio: bad request header: %w", err)
	}

	start := time.Now()
	outcome := "ok"
	defer func() {
		metrics.RequestsTotal.WithLabelValues(fmt.Sprintf("%d", req.Type), outcome).Inc()
		metrics.DiskOpDuration.Observe(time.Since(start).Seconds())
	}()

	switch req.Type {
	case protocol.ReqGet, protocol.ReqGetNoCache:
		err = c.handleGet(req)
	case protocol.ReqPut:
		err = c.handlePut(req)
	case protocol.ReqPurge:
		err = c.handlePurge(req)
	case protocol.ReqTest:
		err = c.handleTest(req)
	case protocol.ReqPurgeLocals:
		err = c.handlePurgeLocals(req)
	case protocol.ReqStatusGet:
		err = c.handleStatus(req)
	case protocol.ReqStoredIDsGet:
		err = c.handleStoredIDs(req)
	default:
		err = fmt.Errorf("connio: unhandled request type %d", req.Type)
	}
	if err != nil {
		outcome = "error"
	}
	return err
}

func (c *Conn) writeResponse(code protocol.ResponseCode, uuid string, payload []byte) error {
	resp := protocol.Response{Code: code, UUID: uuid, Payload: payload}
	if _, err := c.nc.Write(resp.EncodeHeader()); err != nil {
		return fmt.Errorf("connio: write response header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := c.nc.Write(payload); err != nil {
			return fmt.Errorf("connio: write response payload: %w", err)
		}
		metrics.BytesTransferred.Add(float64(len(payload)))
	}

	c.statsMu.Lock()
	c.bytesSinceReport += int64(len(payload))
	c.requestsSinceReport++
	c.statsMu.Unlock()
	return nil
}

func (c *Conn) handleGet(req protocol.Request) error {
	noCache := req.Type == protocol.ReqGetNoCache
	a, found, err := c.store.Get(req.UUID, noCache)
	if err != nil {
		return c.writeResponse(protocol.RespError, req.UUID, []byte(err.Error()))
	}
	if found {
		return c.writeResponse(protocol.RespFound, req.UUID, a.Bytes())
	}

	if !c.isMeshPeer {
		if found, ok := c.mesh.Search(req.UUID); ok {
			c.store.Inform(found)
			return c.writeResponse(protocol.RespFound, req.UUID, found.Bytes())
		}
	}
	return c.writeResponse(protocol.RespNotFound, req.UUID, nil)
}

func (c *Conn) handlePut(req protocol.Request) error {
	payload := make([]byte, req.DataLen)
	if req.DataLen > 0 {
		if _, err := io.ReadFull(c.nc, payload); err != nil {
			return fmt.Errorf("connio: read put payload: %w", err)
		}
	}

	a, err := asset.New(payload)
	if err != nil {
		return c.writeResponse(protocol.RespError, req.UUID, []byte(err.Error()))
	}
	if a.UUID() != req.UUID {
		err := fmt.Errorf("connio: put uuid %s does not match asset uuid %s", req.UUID, a.UUID())
		return c.writeResponse(protocol.RespError, req.UUID, []byte(err.Error()))
	}
	if err := c.store.Put(a); err != nil {
		return c.writeResponse(protocol.RespError, req.UUID, []byte(err.Error()))
	}
	return c.writeResponse(protocol.RespOK, req.UUID, nil)
}

func (c *Conn) handlePurge(req protocol.Request) error {
	_ = c.store.Purge(req.UUID) // no-op, always acknowledged
	return c.writeResponse(protocol.RespOK, req.UUID, nil)
}

func (c *Conn) handleTest(req protocol.Request) error {
	if c.store.Exists(req.UUID) {
		return c.writeResponse(protocol.RespFound, req.UUID, nil)
	}
	return c.writeResponse(protocol.RespNotFound, req.UUID, nil)
}

func (c *Conn) handlePurgeLocals(req protocol.Request) error {
	c.store.PurgeLocals()
	return c.writeResponse(protocol.RespOK, req.UUID, nil)
}

func (c *Conn) handleStatus(req protocol.Request) error {
	text, err := c.store.Status()
	if err != nil {
		return c.writeResponse(protocol.RespError, req.UUID, []byte(err.Error()))
	}
	return c.writeResponse(protocol.RespOK, req.UUID, []byte(text))
}

func (c *Conn) handleStoredIDs(req protocol.Request) error {
	text, err := c.store.StoredIDs(req.UUID[:3])
	if err != nil {
		return c.writeResponse(protocol.RespError, req.UUID, []byte(err.Error()))
	}
	return c.writeResponse(protocol.RespOK, req.UUID, []byte(text))
}

// Close closes the underlying connection, unblocking Serve.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// Stats returns and resets the request/byte counters the 5-second
// stats timer samples.
func (c *Conn) Stats() (requests int, bytes int64) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	requests, bytes = c.requestsSinceReport, c.bytesSinceReport
	c.requestsSinceReport, c.bytesSinceReport = 0, 0
	return
}
