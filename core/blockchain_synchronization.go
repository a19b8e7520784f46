package core

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// SyncManager routes inbound WireMessages to the right CoValueCore,
// broadcasts known-state advertisements to eligible peers whenever a
// core becomes available, and caps the number of concurrently
// in-flight loads. It does not expose a complex API — it orchestrates
// calls between LocalNode's registry and the connected PeerStates,
// mirroring core/blockchain_synchronization.go's thin-orchestrator
// shape.
type SyncManager struct {
	node   *LocalNode
	logger *logrus.Logger

	maxInFlightLoads *semaphore.Weighted
	broadcastDedup   *lru.Cache[dedupKey, struct{}]

	mu     sync.RWMutex
	active bool
	quit   chan struct{}
}

// dedupKey identifies one (peer, covalue, known-state-version) broadcast
// so SyncManager does not re-send an unchanged known-state advertisement
// to a peer that is merely flapping between loading and available.
type dedupKey struct {
	peerID string
	id     CoValueID
	total  uint64
}

// NewSyncManager wires a SyncManager to node. maxInFlight bounds the
// number of concurrent LoadFromPeers fan-outs (spec.md §6's
// maxInFlightLoads knob); dedupCacheSize bounds the broadcast-dedup LRU.
func NewSyncManager(node *LocalNode, maxInFlight int, dedupCacheSize int, lg *logrus.Logger) (*SyncManager, error) {
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	if dedupCacheSize <= 0 {
		dedupCacheSize = 1024
	}
	cache, err := lru.New[dedupKey, struct{}](dedupCacheSize)
	if err != nil {
		return nil, err
	}
	return &SyncManager{
		node:             node,
		logger:           lg,
		maxInFlightLoads: semaphore.NewWeighted(int64(maxInFlight)),
		broadcastDedup:   cache,
		quit:             make(chan struct{}),
	}, nil
}

// Start launches the manager's background bookkeeping loop, which
// periodically drops closed peers from the node. It reads from no peer:
// transports call Dispatch themselves as they receive messages.
func (m *SyncManager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return
	}
	m.active = true
	m.mu.Unlock()

	go m.loop(ctx)
	m.logger.Info("sync manager started")
}

// Stop terminates the background loop. Safe to call more than once.
func (m *SyncManager) Stop() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	close(m.quit)
	m.active = false
	m.mu.Unlock()
	m.logger.Info("sync manager stopped")
}

func (m *SyncManager) loop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.quit:
			return
		case <-ticker.C:
			m.reapClosedPeers()
		}
	}
}

func (m *SyncManager) reapClosedPeers() {
	for _, p := range m.node.Peers() {
		select {
		case <-p.Done():
			m.node.removePeer(p.ID())
		default:
		}
	}
}

// Dispatch reads one inbound WireMessage from peer and routes it to the
// named CoValueCore, creating the core if this node has never seen the
// id before. A Load or Known message may produce a reply (a Content/Done
// serving the requester, or a Load pulling from an advertiser); when it
// does, Dispatch pushes it straight back to the originating peer.
func (m *SyncManager) Dispatch(peerID string, msg WireMessage) error {
	core := m.node.getOrCreate(msg.ID)
	reply, err := core.HandleIncoming(peerID, msg)
	if err != nil {
		return err
	}
	if reply != nil {
		if p, ok := m.node.Peer(peerID); ok {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if sendErr := p.PushOutgoingMessage(ctx, *reply); sendErr != nil {
				m.logger.Warnf("reply to peer %s failed: %v", peerID, sendErr)
			}
			cancel()
		}
	}
	if core.State() == StateAvailable {
		m.broadcastKnownState(core, peerID)
	}
	return nil
}

// LoadWithLimit runs core.LoadFromPeers under the maxInFlightLoads
// semaphore, blocking (respecting ctx) if the cap is already reached.
func (m *SyncManager) LoadWithLimit(ctx context.Context, core *CoValueCore, peers []PeerCapabilities) error {
	if err := m.maxInFlightLoads.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.maxInFlightLoads.Release(1)
	return core.LoadFromPeers(ctx, peers)
}

// broadcastKnownState advertises core's current KnownState to every
// connected peer except the one it was just received from, excluding
// peers that are closed — spec.md §4.5's broadcast-on-available policy.
// The advertisement is sent as a Load message (per spec.md §4.5 and
// scenario 3's wire example), so each recipient's serveRequest path
// treats it as a request and pushes back whatever content it is owed.
// Peers whose last-sent known-state for this id is unchanged are
// skipped via broadcastDedup.
func (m *SyncManager) broadcastKnownState(core *CoValueCore, excludePeerID string) {
	known := core.KnownState()
	total := sessionsTotal(known)
	for _, p := range m.node.Peers() {
		if p.ID() == excludePeerID {
			continue
		}
		select {
		case <-p.Done():
			continue
		default:
		}
		key := dedupKey{peerID: p.ID(), id: core.ID(), total: total}
		if _, seen := m.broadcastDedup.Get(key); seen {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := p.PushOutgoingMessage(ctx, LoadMessage(core.ID(), known))
		cancel()
		if err != nil {
			m.logger.Warnf("broadcast to peer %s failed: %v", p.ID(), err)
			continue
		}
		m.broadcastDedup.Add(key, struct{}{})
		if m.node.metrics != nil {
			m.node.metrics.RecordSyncBroadcast()
		}
	}
}

func sessionsTotal(k KnownState) uint64 {
	var total uint64
	for _, n := range k.Sessions {
		total += n
	}
	return total
}

// Status reports basic progress information for CLI/debug-HTTP use.
func (m *SyncManager) Status() map[string]any {
	m.mu.RLock()
	active := m.active
	m.mu.RUnlock()
	return map[string]any{
		"active":       active,
		"peers":        len(m.node.Peers()),
		"registered":   m.node.registeredCount(),
		"dedup_cached": m.broadcastDedup.Len(),
	}
}
