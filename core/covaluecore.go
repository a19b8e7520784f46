package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// CoValueState is one of the four lifecycle states a CoValueCore can be
// in. There is no separate "errored" state: a core that has exhausted
// every peer without ever becoming available settles in Unavailable
// instead of a distinct failure state, so it never needs a global
// failure transition of its own (see DESIGN.md's Open Question note).
type CoValueState int

const (
	StateUnknown CoValueState = iota
	StateLoading
	StateAvailable
	StateUnavailable
)

// String renders the state for logs and the Metrics state-gauge label.
func (s CoValueState) String() string {
	switch s {
	case StateUnknown:
		return string(labelUnknown)
	case StateLoading:
		return string(labelLoading)
	case StateAvailable:
		return string(labelAvailable)
	case StateUnavailable:
		return string(labelUnavailable)
	default:
		return "invalid"
	}
}

func (s CoValueState) label() coreStateLabel {
	return coreStateLabel(s.String())
}

// CoValueCore is the per-CoValue state machine: it owns the verified
// content, tracks which state it is in, and coordinates loading from
// peers. All exported methods are safe for concurrent use.
type CoValueCore struct {
	id      CoValueID
	crypto  CryptoContext
	storage StorageBackend
	metrics *Metrics

	loadDeadline time.Duration

	mu       sync.RWMutex
	state    CoValueState
	verified *VerifiedState
	pending  *pendingPeerTracker

	waitersMu sync.Mutex
	waiters   []chan struct{}
}

// newCoValueCore constructs a core for id in StateUnknown, or in
// StateAvailable when storage already holds a verified state for id.
func newCoValueCore(id CoValueID, crypto CryptoContext, storage StorageBackend, metrics *Metrics, loadDeadline time.Duration) *CoValueCore {
	c := &CoValueCore{
		id:           id,
		crypto:       crypto,
		storage:      storage,
		metrics:      metrics,
		loadDeadline: loadDeadline,
		state:        StateUnknown,
	}
	if loaded, err := storage.Load(id); err == nil {
		c.verified = loaded
		c.state = StateAvailable
	}
	if metrics != nil {
		metrics.RecordTransition("", c.state.label())
	}
	return c
}

// ID returns the CoValueID this core manages.
func (c *CoValueCore) ID() CoValueID { return c.id }

// State reports the current lifecycle state.
func (c *CoValueCore) State() CoValueState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// KnownState summarizes this core's verified content, or an empty vector
// with Header=false if nothing has been verified yet.
func (c *CoValueCore) KnownState() KnownState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.verified == nil {
		return NewKnownState(c.id)
	}
	return c.verified.knownState(c.id)
}

// transitionLocked moves the core to next, updates Metrics, and wakes
// any goroutine blocked in WaitAvailable. Caller must hold c.mu.
func (c *CoValueCore) transitionLocked(next CoValueState) {
	if c.state == next {
		return
	}
	prev := c.state
	c.state = next
	if c.metrics != nil {
		c.metrics.RecordTransition(prev.label(), next.label())
	}
	if next == StateAvailable || next == StateUnavailable {
		c.broadcastWaiters()
	}
}

func (c *CoValueCore) broadcastWaiters() {
	c.waitersMu.Lock()
	for _, ch := range c.waiters {
		close(ch)
	}
	c.waiters = nil
	c.waitersMu.Unlock()
}

// WaitAvailable blocks until the core becomes Available or Unavailable,
// ctx is canceled, or the configured load deadline elapses. It returns
// nil once the core is Available, ErrTimeout on deadline/ctx expiry, and
// ErrNotFound if every peer reported the CoValue unavailable.
func (c *CoValueCore) WaitAvailable(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateAvailable:
		c.mu.Unlock()
		return nil
	case StateUnavailable:
		c.mu.Unlock()
		return ErrNotFound
	}
	ch := make(chan struct{})
	c.waitersMu.Lock()
	c.waiters = append(c.waiters, ch)
	c.waitersMu.Unlock()
	c.mu.Unlock()

	var cancel context.CancelFunc
	if c.loadDeadline > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.loadDeadline)
		defer cancel()
	}

	select {
	case <-ch:
		c.mu.RLock()
		defer c.mu.RUnlock()
		if c.state == StateAvailable {
			return nil
		}
		return ErrNotFound
	case <-ctx.Done():
		return ErrTimeout
	}
}

// LoadFromPeers drives the unknown→loading transition and fans a Load
// request out to every supplied peer with an errgroup, exactly as
// spec.md §4.3 describes: each peer's send failure is local (recorded,
// never propagated as a group error) so one bad peer cannot abort the
// wait for the others. Content, Known, or Done replies arrive
// asynchronously via HandleIncoming and drive the eventual
// available/unavailable transition; LoadFromPeers itself only needs the
// sends to have been attempted before returning. When a load deadline is
// configured, every peer of this attempt is recorded as timed out once it
// elapses, so a core still loading then becomes Unavailable.
func (c *CoValueCore) LoadFromPeers(ctx context.Context, peers []PeerCapabilities) error {
	c.mu.Lock()
	if c.state == StateAvailable {
		c.mu.Unlock()
		return nil
	}
	if c.state == StateUnknown {
		c.transitionLocked(StateLoading)
	}
	ids := make([]string, len(peers))
	for i, p := range peers {
		ids[i] = p.ID()
	}
	c.pending = newPendingPeerTracker(ids)
	tracker := c.pending
	known := c.knownStateLocked()
	c.mu.Unlock()

	if len(peers) == 0 {
		c.mu.Lock()
		c.transitionLocked(StateUnavailable)
		c.mu.Unlock()
		return ErrNotFound
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range peers {
		p := p
		g.Go(func() error {
			err := p.PushOutgoingMessage(gctx, LoadMessage(c.id, known))
			if err != nil {
				c.recordPeerOutcome(p.ID(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	if c.loadDeadline > 0 {
		time.AfterFunc(c.loadDeadline, func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.pending != tracker {
				return
			}
			for _, id := range ids {
				c.recordPeerOutcomeLocked(id, ErrTimeout)
			}
		})
	}
	return nil
}

func (c *CoValueCore) knownStateLocked() KnownState {
	if c.verified == nil {
		return NewKnownState(c.id)
	}
	return c.verified.knownState(c.id)
}

// recordPeerOutcome records a terminal outcome for peerID and, if every
// tracked peer has now reached a terminal outcome with the core still
// not available, transitions to Unavailable. cause nil means the peer
// said it has nothing more to offer (a Done message), which is treated
// the same as not-found rather than as an error.
func (c *CoValueCore) recordPeerOutcome(peerID string, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordPeerOutcomeLocked(peerID, cause)
}

// recordPeerOutcomeLocked is recordPeerOutcome's body; callers that
// already hold c.mu (handleContent, on a verification failure) must use
// this instead to avoid relocking.
func (c *CoValueCore) recordPeerOutcomeLocked(peerID string, cause error) {
	if c.pending == nil {
		return
	}
	outcome := outcomeErrored
	switch {
	case cause == nil, cause == ErrNotFound:
		outcome = outcomeNotFound
	case cause == ErrPeerClosed:
		outcome = outcomeClosed
	case cause == ErrTimeout:
		outcome = outcomeTimedOut
	}
	c.pending.record(peerID, outcome)
	if c.state == StateLoading && c.pending.allTerminal() {
		c.transitionLocked(StateUnavailable)
	}
}

// HandleIncoming applies an inbound WireMessage from peerID and reports
// the reply, if any, the caller should push back to peerID. Content
// messages are verified and merged; Load/Known messages drive delta
// negotiation (spec.md §4.5): a Load carries the sender's known state
// and is served with whatever content this core has beyond it (or a
// Done if nothing is owed); a Known is an unsolicited advertisement that
// triggers a Load reply when the sender claims to hold more than this
// core does. Done messages mark peerID terminal.
func (c *CoValueCore) HandleIncoming(peerID string, msg WireMessage) (*WireMessage, error) {
	switch {
	case msg.IsContent():
		return nil, c.handleContent(peerID, msg.Content)
	case msg.IsDone():
		c.recordPeerOutcome(peerID, nil)
		return nil, nil
	case msg.IsLoad():
		return c.serveRequest(msg.ID, msg.Known), nil
	case msg.IsKnown():
		return c.requestMissing(msg.ID, msg.Known), nil
	default:
		return nil, fmt.Errorf("core: unexpected message kind in HandleIncoming")
	}
}

// serveRequest computes the header and transactions this core holds
// beyond remoteKnown and returns the Content reply to push back, or a
// Done reply if remoteKnown already covers everything this core has.
func (c *CoValueCore) serveRequest(id CoValueID, remoteKnown KnownState) *WireMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.verified == nil {
		msg := DoneMessage(id)
		return &msg
	}

	ours := c.verified.knownState(c.id)
	_, newer := ours.Diff(remoteKnown)

	batch := ContentBatch{Sessions: make(map[SessionID][]Transaction)}
	if !remoteKnown.Header {
		h := c.verified.Header
		batch.HasHeader = true
		batch.Header = &h
	}
	for session := range newer {
		fromIndex := remoteKnown.Sessions[session]
		if txs := c.verified.transactionsSince(session, fromIndex); len(txs) > 0 {
			batch.Sessions[session] = txs
		}
	}

	if !batch.HasHeader && len(batch.Sessions) == 0 {
		msg := DoneMessage(id)
		return &msg
	}
	msg := ContentMessage(id, batch)
	return &msg
}

// requestMissing compares an unsolicited Known advertisement against
// what this core already holds and, if remoteKnown claims data this
// core lacks, returns a Load reply carrying this core's own known state
// so the advertiser's serveRequest path pushes the delta back.
func (c *CoValueCore) requestMissing(id CoValueID, remoteKnown KnownState) *WireMessage {
	c.mu.RLock()
	ours := c.knownStateLocked()
	c.mu.RUnlock()

	missing, _ := ours.Diff(remoteKnown)
	if len(missing) == 0 && (ours.Header || !remoteKnown.Header) {
		return nil
	}
	msg := LoadMessage(id, ours)
	return &msg
}

func (c *CoValueCore) handleContent(peerID string, batch ContentBatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if batch.HasHeader && batch.Header != nil {
		if HeaderID(*batch.Header) != c.id {
			if c.metrics != nil {
				c.metrics.RecordVerificationFailure()
			}
			c.recordPeerOutcomeLocked(peerID, ErrHeaderMismatch)
			return ErrHeaderMismatch
		}
		if c.verified == nil {
			c.verified = fromHeader(*batch.Header)
		}
	}
	if c.verified == nil {
		// Content arrived with transactions but no header yet, and we
		// have none on file: nothing to verify against.
		c.recordPeerOutcomeLocked(peerID, ErrHeaderMismatch)
		return ErrHeaderMismatch
	}

	for session, txs := range batch.Sessions {
		if err := c.verified.tryAddTransactions(c.crypto, session, txs); err != nil {
			if c.metrics != nil {
				c.metrics.RecordVerificationFailure()
			}
			c.recordPeerOutcomeLocked(peerID, err)
			return err
		}
	}

	if err := c.storage.Store(c.id, c.verified); err != nil {
		return err
	}

	if c.state != StateAvailable {
		c.transitionLocked(StateAvailable)
	}
	return nil
}
