package connio

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/cuemby/whip/pkg/asset"
	"github.com/cuemby/whip/pkg/protocol"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	assets map[string]*asset.Asset
}

func newFakeStore() *fakeStore { return &fakeStore{assets: map[string]*asset.Asset{}} }

func (f *fakeStore) Get(uuid string, _ bool) (*asset.Asset, bool, error) {
	a, ok := f.assets[uuid]
	return a, ok, nil
}
var errAlreadyExists = errors.New("already exists")

func (f *fakeStore) Put(a *asset.Asset) error {
	if _, exists := f.assets[a.UUID()]; exists {
		return errAlreadyExists
	}
	f.assets[a.UUID()] = a
	return nil
}
func (f *fakeStore) Purge(string) error                { return nil }
func (f *fakeStore) PurgeLocals()                       {}
func (f *fakeStore) Status() (string, error)            { return "ok", nil }
func (f *fakeStore) StoredIDs(string) (string, error)   { return "", nil }
func (f *fakeStore) Exists(uuid string) bool            { _, ok := f.assets[uuid]; return ok }
func (f *fakeStore) Inform(a *asset.Asset)              { f.assets[a.UUID()] = a }

type fakeMesh struct {
	found *asset.Asset
}

func (m *fakeMesh) Search(string) (*asset.Asset, bool) {
	if m.found == nil {
		return nil, false
	}
	return m.found, true
}

func dialAuthenticated(t *testing.T, store Store, mesh Mesh) net.Conn {
	t.Helper()
	server, client := net.Pipe()
	c := New(server, "secret", 0, store, mesh, zerolog.Nop())
	go c.Serve()

	var challengeBuf [protocol.AuthChallengeSize]byte
	_, err := io.ReadFull(client, challengeBuf[:])
	require.NoError(t, err)
	challenge, err := protocol.DecodeAuthChallenge(challengeBuf[:])
	require.NoError(t, err)

	resp := protocol.NewAuthResponse(protocol.AuthResponseClient, "secret", challenge.Phrase)
	_, err = client.Write(resp.Encode())
	require.NoError(t, err)

	var statusBuf [protocol.AuthStatusSize]byte
	_, err = io.ReadFull(client, statusBuf[:])
	require.NoError(t, err)
	status, err := protocol.DecodeAuthStatus(statusBuf[:])
	require.NoError(t, err)
	require.True(t, status.Success)

	return client
}

func sendRequest(t *testing.T, conn net.Conn, req protocol.Request, payload []byte) {
	t.Helper()
	_, err := conn.Write(req.EncodeHeader())
	require.NoError(t, err)
	if len(payload) > 0 {
		_, err = conn.Write(payload)
		require.NoError(t, err)
	}
}

func readResponse(t *testing.T, conn net.Conn) (protocol.Response, []byte) {
	t.Helper()
	hdr := make([]byte, protocol.ResponseHeaderSize)
	_, err := io.ReadFull(conn, hdr)
	require.NoError(t, err)
	resp, err := protocol.DecodeResponseHeader(hdr)
	require.NoError(t, err)

	length := binary.BigEndian.Uint32(hdr[33:])
	if length == 0 {
		return resp, nil
	}
	payload := make([]byte, length)
	_, err = io.ReadFull(conn, payload)
	require.NoError(t, err)
	return resp, payload
}

func TestHandshakeSucceedsWithCorrectPassword(t *testing.T) {
	client := dialAuthenticated(t, newFakeStore(), &fakeMesh{})
	defer client.Close()
}

func TestPutThenGet(t *testing.T) {
	store := newFakeStore()
	client := dialAuthenticated(t, store, &fakeMesh{})
	defer client.Close()

	uuid := strings.Repeat("a", 32)
	a, err := asset.Build(uuid, 1, asset.Global, []byte("payload"))
	require.NoError(t, err)

	sendRequest(t, client, protocol.Request{Type: protocol.ReqPut, UUID: uuid, DataLen: uint32(len(a.Bytes()))}, a.Bytes())
	resp, _ := readResponse(t, client)
	assert.Equal(t, protocol.RespOK, resp.Code)

	sendRequest(t, client, protocol.Request{Type: protocol.ReqGet, UUID: uuid}, nil)
	resp, payload := readResponse(t, client)
	assert.Equal(t, protocol.RespFound, resp.Code)
	assert.Equal(t, a.Bytes(), payload)
}

func TestGetMissFallsBackToMeshSearch(t *testing.T) {
	uuid := strings.Repeat("b", 32)
	meshAsset, err := asset.Build(uuid, 1, asset.Global, []byte("from-peer"))
	require.NoError(t, err)

	client := dialAuthenticated(t, newFakeStore(), &fakeMesh{found: meshAsset})
	defer client.Close()

	sendRequest(t, client, protocol.Request{Type: protocol.ReqGet, UUID: uuid}, nil)
	resp, payload := readResponse(t, client)
	assert.Equal(t, protocol.RespFound, resp.Code)
	assert.Equal(t, meshAsset.Bytes(), payload)
}

func TestGetMissWithNoMeshHit(t *testing.T) {
	uuid := strings.Repeat("c", 32)
	client := dialAuthenticated(t, newFakeStore(), &fakeMesh{})
	defer client.Close()

	sendRequest(t, client, protocol.Request{Type: protocol.ReqGet, UUID: uuid}, nil)
	resp, _ := readResponse(t, client)
	assert.Equal(t, protocol.RespNotFound, resp.Code)
}

func TestTestRequest(t *testing.T) {
	store := newFakeStore()
	uuid := strings.Repeat("d", 32)
	a, err := asset.Build(uuid, 1, asset.Global, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, store.Put(a))

	client := dialAuthenticated(t, store, &fakeMesh{})
	defer client.Close()

	sendRequest(t, client, protocol.Request{Type: protocol.ReqTest, UUID: uuid}, nil)
	resp, _ := readResponse(t, client)
	assert.Equal(t, protocol.RespFound, resp.Code)
}
