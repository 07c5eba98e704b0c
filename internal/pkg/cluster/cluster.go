// Package cluster implements NodeResolver (spec §2, §4.1): mapping a
// session to its owning node and deciding whether that node is this
// process, plus the fleet-wide node -> routing-info map peerproxy
// dials against.
package cluster

import (
	"sync"

	"github.com/endorses/packhound/internal/pkg/model"
)

// Peer is one fleet member's routing and trust configuration, as
// loaded from spec §6.5's `peers` section.
type Peer struct {
	Node    string
	ViewURL string
	Scheme  string // "http" or "https"
	CACert  string
	Secret  string // per-peer serverSecret used to sign/verify peer tokens
}

// Resolver answers "who owns this session" and "is that node me",
// and holds the fleet map peerproxy uses to locate a peer by name.
//
// Resolver is safe for concurrent use; UpdatePeers is called whenever
// the config watcher reloads the `peers` section (spec §6.5).
type Resolver struct {
	mu       sync.RWMutex
	nodeName string
	peers    map[string]Peer
}

// New builds a Resolver for the process's own node name.
func New(nodeName string) *Resolver {
	return &Resolver{nodeName: nodeName, peers: make(map[string]Peer)}
}

// NodeName returns this process's configured node name.
func (r *Resolver) NodeName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nodeName
}

// UpdatePeers replaces the fleet map wholesale, e.g. on config reload.
func (r *Resolver) UpdatePeers(peers map[string]Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers = peers
}

// Resolve returns the node owning session (spec §4.1:
// "NodeResolver.resolve(session) -> node").
func (r *Resolver) Resolve(session model.Session) string {
	return session.Node
}

// IsLocal reports whether node matches this process's configured node
// name (spec §4.1: "isLocal(node) is true iff node matches the
// process's configured node name").
func (r *Resolver) IsLocal(node string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return node == r.nodeName
}

// Peer looks up routing info for a fleet member by name.
func (r *Resolver) Peer(node string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[node]
	return p, ok
}

// Nodes returns every known node name, including this process's own.
func (r *Resolver) Nodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.peers)+1)
	seen := map[string]bool{r.nodeName: true}
	out = append(out, r.nodeName)
	for n := range r.peers {
		if !seen[n] {
			out = append(out, n)
			seen[n] = true
		}
	}
	return out
}
