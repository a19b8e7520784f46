package core

import "errors"

// Sentinel errors for the closed set of failure kinds a CoValueCore or
// PeerState can report. Callers compare with errors.Is; wrapping via
// fmt.Errorf("%w", ...) or pkg/utils.Wrap is expected at call sites that
// add context (peer id, covalue id, session id).
var (
	// ErrHeaderMismatch is returned when a peer-supplied header hashes to
	// a different CoValueID than the one requested.
	ErrHeaderMismatch = errors.New("core: header does not match requested id")

	// ErrBadSignature is returned when a transaction's signature does not
	// verify against the session's signing key.
	ErrBadSignature = errors.New("core: bad transaction signature")

	// ErrBadHashChain is returned when a transaction's hash-chain field
	// does not extend the session's prior transaction.
	ErrBadHashChain = errors.New("core: hash chain broken")

	// ErrGap is returned when a session log would contain a hole after
	// applying an incoming transaction batch.
	ErrGap = errors.New("core: gap in session log")

	// ErrOverlap is returned when an incoming transaction batch overlaps
	// transactions already present in the session log with different
	// content.
	ErrOverlap = errors.New("core: overlapping transaction with divergent content")

	// ErrPeerClosed is returned by PeerState operations once Close has
	// been called.
	ErrPeerClosed = errors.New("core: peer state closed")

	// ErrTimeout is returned when a load does not resolve before its
	// configured deadline.
	ErrTimeout = errors.New("core: load deadline exceeded")

	// ErrRegistryCollision names two headers hashing to the same
	// CoValueID. LocalNode's registry does not return it: concurrent
	// registrations of one id all receive the same CoValueCore.
	ErrRegistryCollision = errors.New("core: registry collision on id")

	// ErrUnknownPeer names a peer id with no registered PeerState.
	// SyncManager.Dispatch does not return it: it processes messages from
	// unregistered peers and drops any reply to them.
	ErrUnknownPeer = errors.New("core: unknown peer")

	// ErrNotFound is returned by a StorageBackend when no record exists
	// for a given CoValueID.
	ErrNotFound = errors.New("core: not found")
)
