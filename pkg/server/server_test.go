package server

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/whip/pkg/config"
	"github.com/cuemby/whip/pkg/protocol"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeServerCfg(t *testing.T, extra string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "whip.cfg")
	body := "password = secret\nport = 0\nintramesh_port = 0\ndisk_storage_root = " +
		filepath.Join(t.TempDir(), "data") + "\n" + extra
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	c, err := config.Load(path)
	require.NoError(t, err)
	return c
}

func startTestServer(t *testing.T, cfg *config.Config) *AssetServer {
	t.Helper()
	s, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = s.Run(ctx) }()
	t.Cleanup(cancel)

	require.Eventually(t, func() bool {
		return s.ClientAddr() != ""
	}, 2*time.Second, 10*time.Millisecond)
	return s
}

// dial performs the auth handshake as a plain client and returns the conn.
func dial(t *testing.T, addr, password string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	var challengeBuf [protocol.AuthChallengeSize]byte
	_, err = io.ReadFull(conn, challengeBuf[:])
	require.NoError(t, err)
	challenge, err := protocol.DecodeAuthChallenge(challengeBuf[:])
	require.NoError(t, err)

	resp := protocol.NewAuthResponse(protocol.AuthResponseClient, password, challenge.Phrase)
	_, err = conn.Write(resp.Encode())
	require.NoError(t, err)

	var statusBuf [protocol.AuthStatusSize]byte
	_, err = io.ReadFull(conn, statusBuf[:])
	require.NoError(t, err)
	status, err := protocol.DecodeAuthStatus(statusBuf[:])
	require.NoError(t, err)
	require.True(t, status.Success)

	return conn
}

func putAsset(t *testing.T, conn net.Conn, uuid string, payload []byte) {
	t.Helper()
	body := append([]byte(uuid), append([]byte{1, 0}, payload...)...)
	req := protocol.Request{Type: protocol.ReqPut, UUID: uuid, DataLen: uint32(len(body))}
	_, err := conn.Write(req.EncodeHeader())
	require.NoError(t, err)
	_, err = conn.Write(body)
	require.NoError(t, err)

	hdr := make([]byte, protocol.ResponseHeaderSize)
	_, err = io.ReadFull(conn, hdr)
	require.NoError(t, err)
	resp, err := protocol.DecodeResponseHeader(hdr)
	require.NoError(t, err)
	require.Equal(t, protocol.RespOK, resp.Code)
}

func getAsset(t *testing.T, conn net.Conn, uuid string) (protocol.ResponseCode, []byte) {
	t.Helper()
	req := protocol.Request{Type: protocol.ReqGet, UUID: uuid}
	_, err := conn.Write(req.EncodeHeader())
	require.NoError(t, err)

	hdr := make([]byte, protocol.ResponseHeaderSize)
	_, err = io.ReadFull(conn, hdr)
	require.NoError(t, err)
	resp, err := protocol.DecodeResponseHeader(hdr)
	require.NoError(t, err)

	length := resp.DataLen(hdr)
	if length == 0 {
		return resp.Code, nil
	}
	body := make([]byte, length)
	_, err = io.ReadFull(conn, body)
	require.NoError(t, err)
	return resp.Code, body
}

func TestServerPutThenGetRoundTrip(t *testing.T) {
	cfg := writeServerCfg(t, "")
	s := startTestServer(t, cfg)

	conn := dial(t, s.ClientAddr(), "secret")
	defer conn.Close()

	uuid := strings.Repeat("7", 32)
	putAsset(t, conn, uuid, []byte("hello from the wire"))

	code, body := getAsset(t, conn, uuid)
	require.Equal(t, protocol.RespFound, code)
	assert.Equal(t, []byte("hello from the wire"), body[34:])
}

func TestServerGetMissingReturnsNotFound(t *testing.T) {
	cfg := writeServerCfg(t, "")
	s := startTestServer(t, cfg)

	conn := dial(t, s.ClientAddr(), "secret")
	defer conn.Close()

	code, _ := getAsset(t, conn, strings.Repeat("8", 32))
	assert.Equal(t, protocol.RespNotFound, code)
}

func TestServerRejectsBadPassword(t *testing.T) {
	cfg := writeServerCfg(t, "")
	s := startTestServer(t, cfg)

	conn, err := net.Dial("tcp", s.ClientAddr())
	require.NoError(t, err)
	defer conn.Close()

	var challengeBuf [protocol.AuthChallengeSize]byte
	_, err = io.ReadFull(conn, challengeBuf[:])
	require.NoError(t, err)
	challenge, err := protocol.DecodeAuthChallenge(challengeBuf[:])
	require.NoError(t, err)

	resp := protocol.NewAuthResponse(protocol.AuthResponseClient, "wrong-password", challenge.Phrase)
	_, err = conn.Write(resp.Encode())
	require.NoError(t, err)

	var statusBuf [protocol.AuthStatusSize]byte
	_, err = io.ReadFull(conn, statusBuf[:])
	require.NoError(t, err)
	status, err := protocol.DecodeAuthStatus(statusBuf[:])
	require.NoError(t, err)
	assert.False(t, status.Success)
}

func TestServerDuplicatePutRejected(t *testing.T) {
	cfg := writeServerCfg(t, "")
	s := startTestServer(t, cfg)

	conn := dial(t, s.ClientAddr(), "secret")
	defer conn.Close()

	uuid := strings.Repeat("9", 32)
	putAsset(t, conn, uuid, []byte("first"))

	body := append([]byte(uuid), append([]byte{1, 0}, []byte("second")...)...)
	req := protocol.Request{Type: protocol.ReqPut, UUID: uuid, DataLen: uint32(len(body))}
	_, err := conn.Write(req.EncodeHeader())
	require.NoError(t, err)
	_, err = conn.Write(body)
	require.NoError(t, err)

	hdr := make([]byte, protocol.ResponseHeaderSize)
	_, err = io.ReadFull(conn, hdr)
	require.NoError(t, err)
	resp, err := protocol.DecodeResponseHeader(hdr)
	require.NoError(t, err)
	assert.Equal(t, protocol.RespError, resp.Code)

	length := resp.DataLen(hdr)
	require.Greater(t, length, uint32(0), "error response must carry a non-empty error message payload")
	msg := make([]byte, length)
	_, err = io.ReadFull(conn, msg)
	require.NoError(t, err)
	assert.Contains(t, string(msg), "already exists")
}
