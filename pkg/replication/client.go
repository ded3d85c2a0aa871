// Package replication implements whip's pull (slave) and push
// (master) replication workers, each a dedicated goroutine speaking
// the ordinary client protocol to its counterpart over its own
// long-lived connection.
package replication

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cuemby/whip/pkg/asset"
	"github.com/cuemby/whip/pkg/protocol"
)

// client wraps one authenticated connection to a peer's client
// service, identified as a mesh peer so the remote side never
// recurses an intramesh search on our behalf. Requests are serialized
// with a mutex so concurrent callers never interleave writes or
// misattribute a response to the wrong caller.
type client struct {
	addr     string
	password string
	conn     net.Conn
	mu       sync.Mutex
}

func dial(addr, password string) (*client, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("replication: dial %s: %w", addr, err)
	}

	var challengeBuf [protocol.AuthChallengeSize]byte
	if _, err := io.ReadFull(conn, challengeBuf[:]); err != nil {
		conn.Close()
		return nil, fmt.Errorf("replication: read challenge from %s: %w", addr, err)
	}
	challenge, err := protocol.DecodeAuthChallenge(challengeBuf[:])
	if err != nil {
		conn.Close()
		return nil, err
	}

	resp := protocol.NewAuthResponse(protocol.AuthResponseMeshPeer, password, challenge.Phrase)
	if _, err := conn.Write(resp.Encode()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("replication: write auth response to %s: %w", addr, err)
	}

	var statusBuf [protocol.AuthStatusSize]byte
	if _, err := io.ReadFull(conn, statusBuf[:]); err != nil {
		conn.Close()
		return nil, err
	}
	status, err := protocol.DecodeAuthStatus(statusBuf[:])
	if err != nil || !status.Success {
		conn.Close()
		return nil, fmt.Errorf("replication: auth rejected by %s", addr)
	}

	return &client{addr: addr, password: password, conn: conn}, nil
}

func (c *client) close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

func (c *client) request(req protocol.Request, payload []byte) (protocol.Response, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.conn.Write(req.EncodeHeader()); err != nil {
		return protocol.Response{}, nil, err
	}
	if len(payload) > 0 {
		if _, err := c.conn.Write(payload); err != nil {
			return protocol.Response{}, nil, err
		}
	}

	hdr := make([]byte, protocol.ResponseHeaderSize)
	if _, err := io.ReadFull(c.conn, hdr); err != nil {
		return protocol.Response{}, nil, err
	}
	resp, err := protocol.DecodeResponseHeader(hdr)
	if err != nil {
		return protocol.Response{}, nil, err
	}
	length := resp.DataLen(hdr)
	if length == 0 {
		return resp, nil, nil
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		return protocol.Response{}, nil, err
	}
	return resp, body, nil
}

// storedIDs requests the CSV of active asset IDs for shardPrefix. Only
// the UUID field's first 3 characters are meaningful for this request
// type; the remainder is zero-padded to satisfy the fixed header.
func (c *client) storedIDs(shardPrefix string) (string, error) {
	padded := shardPrefix + zeroPadUUID(29)
	resp, body, err := c.request(protocol.Request{Type: protocol.ReqStoredIDsGet, UUID: padded}, nil)
	if err != nil {
		return "", err
	}
	if resp.Code != protocol.RespOK {
		return "", fmt.Errorf("replication: stored-ids error for shard %s", shardPrefix)
	}
	return string(body), nil
}

func zeroPadUUID(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = '0'
	}
	return string(b)
}

func (c *client) getNoCache(uuid string) (*asset.Asset, error) {
	resp, body, err := c.request(protocol.Request{Type: protocol.ReqGetNoCache, UUID: uuid}, nil)
	if err != nil {
		return nil, err
	}
	if resp.Code != protocol.RespFound {
		return nil, fmt.Errorf("replication: asset %s not found on master", uuid)
	}
	return asset.New(body)
}

func (c *client) put(a *asset.Asset) error {
	req := protocol.Request{Type: protocol.ReqPut, UUID: a.UUID(), DataLen: uint32(len(a.Bytes()))}
	resp, _, err := c.request(req, a.Bytes())
	if err != nil {
		return err
	}
	if resp.Code != protocol.RespOK {
		return fmt.Errorf("replication: push of %s rejected by slave", a.UUID())
	}
	return nil
}
