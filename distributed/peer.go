package distributed

import (
	"sync"
	"time"
)

// Peer is a remote node this Node has discovered and authenticated.
// AuthToken is this node's own expectation for the value that peer must
// present in every request's Auth field, derived from Signature and the
// shared secret at handshake time.
type Peer struct {
	Location  Location
	Name      string
	Signature string
	AuthToken string
	LastSeen  time.Time
}

// peerTable is the authenticated, address-keyed view of the cluster,
// grounded on asyncoro.py's `_peers` dict keyed by (host, port).
type peerTable struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

func newPeerTable() *peerTable {
	return &peerTable{peers: make(map[string]*Peer)}
}

func (t *peerTable) upsert(p *Peer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[p.Location.Key()] = p
}

func (t *peerTable) get(loc Location) (*Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[loc.Key()]
	return p, ok
}

func (t *peerTable) remove(loc Location) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, loc.Key())
}

func (t *peerTable) list() []*Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, p)
	}
	return out
}

// expireOlderThan drops peers whose LastSeen predates cutoff, mirroring
// the original's periodic stale-peer reap during discovery.
func (t *peerTable) expireOlderThan(cutoff time.Time) []*Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []*Peer
	for k, p := range t.peers {
		if p.LastSeen.Before(cutoff) {
			expired = append(expired, p)
			delete(t.peers, k)
		}
	}
	return expired
}
