package core

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LocalNode is the process-wide registry spec.md §4.6 describes: one
// CoValueCore per known CoValueID, one PeerState per connected peer, and
// the shared CryptoContext/StorageBackend/Metrics every core uses. There
// is exactly one LocalNode per process; SyncManager and the transport
// adapters all hold a reference to it rather than duplicating state.
type LocalNode struct {
	crypto       CryptoContext
	storage      StorageBackend
	metrics      *Metrics
	logger       *logrus.Logger
	loadDeadline time.Duration

	mu    sync.RWMutex
	cores map[CoValueID]*CoValueCore
	peers map[string]PeerCapabilities
}

// NewLocalNode constructs a LocalNode. logger may be nil, falling back
// to logrus.StandardLogger(), matching the nil-logger convention used
// throughout the kept teacher lifecycle code.
func NewLocalNode(crypto CryptoContext, storage StorageBackend, metrics *Metrics, loadDeadline time.Duration, logger *logrus.Logger) *LocalNode {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LocalNode{
		crypto:       crypto,
		storage:      storage,
		metrics:      metrics,
		logger:       logger,
		loadDeadline: loadDeadline,
		cores:        make(map[CoValueID]*CoValueCore),
		peers:        make(map[string]PeerCapabilities),
	}
}

// SetMetrics attaches a Metrics surface after construction, for callers
// that must build Metrics from a *LocalNode (Metrics.Snapshot reads the
// node's state counts) and therefore cannot supply it to NewLocalNode.
// Metrics recording is a no-op until this is called.
func (n *LocalNode) SetMetrics(m *Metrics) {
	n.mu.Lock()
	n.metrics = m
	n.mu.Unlock()
}

// getOrCreate atomically returns the CoValueCore for id, creating one in
// StateUnknown (or StateAvailable, if storage already has a record) if
// this is the first time id has been seen. Concurrent callers racing on
// the same new id are resolved by a double-checked lock: the loser of
// the race gets the winner's core, never a second one — this is the
// registry collision spec.md §7 names as structurally impossible rather
// than a runtime error.
func (n *LocalNode) getOrCreate(id CoValueID) *CoValueCore {
	n.mu.RLock()
	if c, ok := n.cores[id]; ok {
		n.mu.RUnlock()
		return c
	}
	n.mu.RUnlock()

	n.mu.Lock()
	defer n.mu.Unlock()
	if c, ok := n.cores[id]; ok {
		return c
	}
	c := newCoValueCore(id, n.crypto, n.storage, n.metrics, n.loadDeadline)
	n.cores[id] = c
	return c
}

// Get returns the CoValueCore for id if it has been registered, without
// creating one.
func (n *LocalNode) Get(id CoValueID) (*CoValueCore, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	c, ok := n.cores[id]
	return c, ok
}

// LoadCoValue returns the registered (or newly created) core for id, a
// thin public entry point for CLI/HTTP callers that does not itself
// trigger a peer fan-out — callers needing that pair this with a
// SyncManager.LoadWithLimit call.
func (n *LocalNode) LoadCoValue(id CoValueID) *CoValueCore {
	return n.getOrCreate(id)
}

// AddPeer registers p, making it visible to Peers() and eligible for
// broadcast. Adding a peer with an ID already registered replaces the
// prior entry after closing it, since a reconnect always supersedes a
// stale connection.
func (n *LocalNode) AddPeer(p PeerCapabilities) {
	n.mu.Lock()
	if old, ok := n.peers[p.ID()]; ok && old != p {
		_ = old.Close()
	}
	n.peers[p.ID()] = p
	n.mu.Unlock()
}

// removePeer drops peerID from the registry. Closing the peer itself is
// the caller's responsibility.
func (n *LocalNode) removePeer(peerID string) {
	n.mu.Lock()
	delete(n.peers, peerID)
	n.mu.Unlock()
}

// Peer returns the registered peer for peerID, if any.
func (n *LocalNode) Peer(peerID string) (PeerCapabilities, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	p, ok := n.peers[peerID]
	return p, ok
}

// Peers returns a snapshot of currently registered peers.
func (n *LocalNode) Peers() []PeerCapabilities {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]PeerCapabilities, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, p)
	}
	return out
}

// stateCounts tallies registered cores by lifecycle state, backing the
// StateCounts field of Metrics.Snapshot.
func (n *LocalNode) stateCounts() map[coreStateLabel]int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	counts := map[coreStateLabel]int{
		labelUnknown:     0,
		labelLoading:     0,
		labelAvailable:   0,
		labelUnavailable: 0,
	}
	for _, c := range n.cores {
		counts[c.State().label()]++
	}
	return counts
}

func (n *LocalNode) peerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

func (n *LocalNode) registeredCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.cores)
}

// Close shuts down every registered peer and releases the Metrics log
// file, mirroring core/network.go's Close teardown.
func (n *LocalNode) Close() error {
	n.mu.Lock()
	peers := make([]PeerCapabilities, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.peers = make(map[string]PeerCapabilities)
	n.mu.Unlock()

	for _, p := range peers {
		_ = p.Close()
	}
	if n.metrics != nil {
		return n.metrics.Close()
	}
	return nil
}
