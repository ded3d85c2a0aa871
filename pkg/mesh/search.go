package mesh

import (
	"math/rand"
	"time"

	"github.com/cuemby/whip/pkg/asset"
	"github.com/cuemby/whip/pkg/metrics"
	"github.com/cuemby/whip/pkg/protocol"
)

// Search implements first-found-wins distributed lookup: it queries
// every online, readable peer, in randomly shuffled order for
// fairness, waits up to QueryTimeout, and on the first positive
// RESPONSE fetches the full asset from that peer's asset-service
// connection.
func (m *Mesh) Search(uuid string) (*asset.Asset, bool) {
	metrics.MeshRequestsTotal.Inc()
	peers := m.readablePeers()
	if len(peers) == 0 {
		return nil, false
	}
	rand.Shuffle(len(peers), func(i, j int) { peers[i], peers[j] = peers[j], peers[i] })

	type outcome struct {
		peer  *Peer
		found bool
	}
	results := make(chan outcome, len(peers))

	for _, p := range peers {
		go func(p *Peer) {
			ch, ok := p.Query(uuid)
			if !ok {
				results <- outcome{p, false}
				return
			}
			select {
			case r, open := <-ch:
				results <- outcome{p, open && r == protocol.MeshFound}
			case <-time.After(QueryTimeout):
				p.CancelQuery(uuid)
				results <- outcome{p, false}
			}
		}(p)
	}

	deadline := time.NewTimer(QueryTimeout)
	defer deadline.Stop()

	received := 0
	for received < len(peers) {
		select {
		case r := <-results:
			received++
			if r.found {
				metrics.MeshPositiveResponsesTotal.Inc()
				a, ok := r.peer.Fetch(uuid)
				if ok {
					metrics.MeshBytesTransferred.Add(float64(a.Size()))
				}
				return a, ok
			}
		case <-deadline.C:
			return nil, false
		}
	}
	return nil, false
}

func (m *Mesh) readablePeers() []*Peer {
	all := m.Peers()
	out := make([]*Peer, 0, len(all))
	for _, p := range all {
		if p.Readable() {
			out = append(out, p)
		}
	}
	return out
}
