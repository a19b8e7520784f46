package core

import (
	"crypto/sha256"
	"fmt"
)

// CoValueType enumerates the ruleset-bearing content shapes a CoValue
// header may declare. The sync engine never interprets payloads by type;
// this only flows through to storage and application callbacks.
type CoValueType string

const (
	TypeCoMap    CoValueType = "comap"
	TypeCoList   CoValueType = "colist"
	TypeCoStream CoValueType = "costream"
	TypeBinary   CoValueType = "binary"
	TypeGroup    CoValueType = "group"
	TypeAccount  CoValueType = "account"
)

// AccountOrAgentID names the signer of a session: either a Group-owned
// account or an ephemeral agent key. The sync engine treats both as an
// opaque string; only the Group/crypto collaborator interprets it.
type AccountOrAgentID string

// RulesetKind selects how a Group resolves write permission for a
// CoValue. The sync engine never evaluates a ruleset itself — this is
// carried for the application/Group collaborator.
type RulesetKind string

const (
	RulesetOwnedByGroup RulesetKind = "ownedByGroup"
	RulesetGroup        RulesetKind = "group"
	RulesetUnsafeAllowAll RulesetKind = "unsafeAllowAll"
)

// Ruleset pairs a RulesetKind with the Group CoValueID that governs
// writes, when the kind requires one.
type Ruleset struct {
	Kind  RulesetKind
	Group CoValueID
}

// CoValueHeader is the immutable, content-addressed root of a CoValue.
// Its hash over {Type, Ruleset, Meta, UniquenessNonce} is the CoValueID.
type CoValueHeader struct {
	Type            CoValueType
	Ruleset         Ruleset
	Meta            []byte
	UniquenessNonce [16]byte
}

// CoValueID is the content hash of a CoValueHeader. Two headers that
// serialize identically produce the same ID; the UniquenessNonce exists
// so that two otherwise-identical CoValues (e.g. two empty CoMaps with
// the same ruleset and no meta) still get distinct IDs.
type CoValueID [32]byte

// String renders the id as a short hex string for logs.
func (id CoValueID) String() string {
	return fmt.Sprintf("co_%x", id[:8])
}

// IsZero reports whether id is the zero value (never a valid CoValueID).
func (id CoValueID) IsZero() bool {
	return id == CoValueID{}
}

// HeaderID computes the CoValueID of a header. Field concatenation order
// is fixed and must never change without a corresponding ID-migration
// story; this is load-bearing for content addressing.
func HeaderID(h CoValueHeader) CoValueID {
	hasher := sha256.New()
	hasher.Write([]byte(h.Type))
	hasher.Write([]byte(h.Ruleset.Kind))
	hasher.Write(h.Ruleset.Group[:])
	hasher.Write(h.Meta)
	hasher.Write(h.UniquenessNonce[:])
	var id CoValueID
	copy(id[:], hasher.Sum(nil))
	return id
}

// SessionID names one append-only transaction log within a CoValue: the
// signer plus a monotonically increasing counter disambiguating sessions
// from the same signer across devices/process restarts.
type SessionID struct {
	Account AccountOrAgentID
	Counter uint64
}

// String renders a SessionID in the "account/counter" wire form.
func (s SessionID) String() string {
	return fmt.Sprintf("%s/%d", s.Account, s.Counter)
}

// Transaction is one signed, hash-chained entry in a session log.
type Transaction struct {
	// Index is this transaction's zero-based position within its session.
	Index uint64
	// HashChain is the hash of (previous HashChain || this Payload),
	// with the zero value as the chain root for Index 0.
	HashChain [32]byte
	// Signature authenticates HashChain under the session's signing key.
	Signature []byte
	// Payload is the opaque, application-defined transaction content.
	Payload []byte
}

// hashChainNext computes the HashChain value that should follow prev
// when appending a transaction carrying payload.
func hashChainNext(prev [32]byte, payload []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(prev[:])
	hasher.Write(payload)
	var next [32]byte
	copy(next[:], hasher.Sum(nil))
	return next
}
