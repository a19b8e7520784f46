package core

import "sync"

// peerOutcome records how a single peer's load attempt for one CoValue
// concluded, used by CoValueCore to decide when to give up and
// transition to unavailable (spec.md §4.3's termination rule: once every
// peer has reported errored, not-found, or closed/timed-out, and none
// produced content, the core stops waiting rather than blocking forever).
type peerOutcome int

const (
	outcomePending peerOutcome = iota
	outcomeErrored
	outcomeNotFound
	outcomeClosed
	outcomeTimedOut
)

// pendingPeerTracker tallies per-peer load outcomes for one CoValue,
// adapting core/quorum_tracker.go's mutex+map vote-tally pattern from
// counting distinct validator votes to counting distinct terminal peer
// outcomes.
type pendingPeerTracker struct {
	mu       sync.Mutex
	outcomes map[string]peerOutcome
}

// newPendingPeerTracker returns a tracker pre-seeded with peerIDs, all
// marked pending.
func newPendingPeerTracker(peerIDs []string) *pendingPeerTracker {
	t := &pendingPeerTracker{outcomes: make(map[string]peerOutcome, len(peerIDs))}
	for _, id := range peerIDs {
		t.outcomes[id] = outcomePending
	}
	return t
}

// record sets the outcome for peerID. Calling it for a peer not in the
// original set adds it, so a peer discovered mid-load is still tracked.
func (t *pendingPeerTracker) record(peerID string, outcome peerOutcome) {
	t.mu.Lock()
	t.outcomes[peerID] = outcome
	t.mu.Unlock()
}

// allTerminal reports whether every tracked peer has reached a terminal
// (non-pending) outcome, meaning no peer can still produce content.
func (t *pendingPeerTracker) allTerminal() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.outcomes) == 0 {
		return true
	}
	for _, o := range t.outcomes {
		if o == outcomePending {
			return false
		}
	}
	return true
}

// pendingCount returns the number of peers still pending a response.
func (t *pendingPeerTracker) pendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, o := range t.outcomes {
		if o == outcomePending {
			n++
		}
	}
	return n
}
