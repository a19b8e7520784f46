package core

// KnownState is a per-session transaction-count vector: how many
// transactions of each session a peer claims to hold for one CoValue.
// It carries no ordering or content information, only counts, and is
// small enough to send on every sync round.
type KnownState struct {
	ID       CoValueID
	Header   bool
	Sessions map[SessionID]uint64
}

// NewKnownState returns an empty KnownState for id.
func NewKnownState(id CoValueID) KnownState {
	return KnownState{ID: id, Sessions: make(map[SessionID]uint64)}
}

// Clone returns a deep copy so callers can mutate the result without
// aliasing the receiver's map.
func (k KnownState) Clone() KnownState {
	out := KnownState{ID: k.ID, Header: k.Header, Sessions: make(map[SessionID]uint64, len(k.Sessions))}
	for s, n := range k.Sessions {
		out.Sessions[s] = n
	}
	return out
}

// Combine merges other into a copy of k by taking the per-session
// maximum transaction count. Combine is commutative, associative, and
// idempotent: combining a KnownState with itself or with a subset of
// itself yields the larger of the two, never an error.
func (k KnownState) Combine(other KnownState) KnownState {
	out := k.Clone()
	out.Header = out.Header || other.Header
	for s, n := range other.Sessions {
		if cur, ok := out.Sessions[s]; !ok || n > cur {
			out.Sessions[s] = n
		}
	}
	return out
}

// Diff compares have against remote and reports both sync directions:
// missing holds, for each session remote claims more of than have does,
// how many transactions have still needs to request; newer holds, for
// each session have holds more of than remote does, how many
// transactions have should send. A session present on only one side is
// reported in full on the appropriate side.
func (have KnownState) Diff(remote KnownState) (missing map[SessionID]uint64, newer map[SessionID]uint64) {
	missing = make(map[SessionID]uint64)
	newer = make(map[SessionID]uint64)
	for s, remoteN := range remote.Sessions {
		haveN := have.Sessions[s]
		if remoteN > haveN {
			missing[s] = remoteN - haveN
		}
	}
	for s, haveN := range have.Sessions {
		remoteN := remote.Sessions[s]
		if haveN > remoteN {
			newer[s] = haveN - remoteN
		}
	}
	return missing, newer
}

// Equal reports whether k and other describe the same header-known flag
// and identical per-session counts.
func (k KnownState) Equal(other KnownState) bool {
	if k.ID != other.ID || k.Header != other.Header {
		return false
	}
	if len(k.Sessions) != len(other.Sessions) {
		return false
	}
	for s, n := range k.Sessions {
		if other.Sessions[s] != n {
			return false
		}
	}
	return true
}
