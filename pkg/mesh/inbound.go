package mesh

import (
	"io"
	"net"
	"strings"

	"github.com/cuemby/whip/pkg/protocol"
)

// Trusted reports whether remoteAddr's IP matches a configured peer
// host, the inbound trust check for intramesh query connections.
func (m *Mesh) Trusted(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	for _, pc := range ParsePeers(m.cfg.IntraMeshPeers()) {
		if strings.EqualFold(pc.Host, host) {
			return true
		}
	}
	return false
}

// ServeInboundQuery handles one accepted intramesh query connection:
// it loops reading 38-byte messages and answers QUERY against the
// local existence index. The caller is responsible for the trust check.
func (m *Mesh) ServeInboundQuery(conn net.Conn) {
	defer conn.Close()
	buf := make([]byte, protocol.MeshMessageSize)
	for {
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}
		msg, err := protocol.DecodeMeshMessage(buf)
		if err != nil {
			continue
		}
		switch msg.Type {
		case protocol.MeshQuery:
			result := protocol.MeshNotFound
			if m.existence.Exists(msg.UUID) {
				result = protocol.MeshFound
			}
			if _, err := conn.Write(protocol.EncodeMeshResponse(msg.UUID, result)); err != nil {
				return
			}
		case protocol.MeshHeartbeat:
			// Answer with this node's own flags; the dialing side
			// records them on its outbound Peer, which is what makes
			// this node readable to its searches.
			flags := protocol.HeartbeatOnline | protocol.HeartbeatReadable
			if m.isWritable != nil && m.isWritable() {
				flags |= protocol.HeartbeatWritable
			}
			if _, err := conn.Write(protocol.EncodeMeshHeartbeat(flags)); err != nil {
				return
			}
		}
	}
}
