package core

import (
	"bytes"

	"github.com/ethereum/go-ethereum/rlp"
)

// msgKind enumerates the four wire message kinds exchanged between
// PeerStates, matching spec.md §6's external wire format.
type msgKind uint8

const (
	msgLoad msgKind = iota
	msgKnown
	msgContent
	msgDone
)

// WireMessage is the envelope every PeerState sends and receives. Kind
// selects which of the payload fields is meaningful; the others are
// left zero. This mirrors the single-envelope-with-a-type-tag pattern
// core/replication.go used for its inv/getdata/block protocol, retargeted
// from blocks to CoValue sync actions.
type WireMessage struct {
	Kind    msgKind
	ID      CoValueID
	Known   KnownState
	Content ContentBatch
}

// LoadMessage requests that the receiving peer begin syncing id,
// optionally supplying the sender's own KnownState so the peer can skip
// sending transactions the sender already has.
func LoadMessage(id CoValueID, known KnownState) WireMessage {
	return WireMessage{Kind: msgLoad, ID: id, Known: known}
}

// KnownMessage advertises the sender's current KnownState for id,
// without requesting any transactions.
func KnownMessage(id CoValueID, known KnownState) WireMessage {
	return WireMessage{Kind: msgKnown, ID: id, Known: known}
}

// ContentMessage carries a batch of transactions plus (optionally) the
// header, for CoValues the receiver does not yet have.
func ContentMessage(id CoValueID, batch ContentBatch) WireMessage {
	return WireMessage{Kind: msgContent, ID: id, Content: batch}
}

// DoneMessage signals that the sender has no further transactions to
// send for id in this sync round.
func DoneMessage(id CoValueID) WireMessage {
	return WireMessage{Kind: msgDone, ID: id}
}

// IsLoad, IsKnown, IsContent, IsDone classify a received WireMessage.
func (m WireMessage) IsLoad() bool    { return m.Kind == msgLoad }
func (m WireMessage) IsKnown() bool   { return m.Kind == msgKnown }
func (m WireMessage) IsContent() bool { return m.Kind == msgContent }
func (m WireMessage) IsDone() bool    { return m.Kind == msgDone }

// sessionBatch is the RLP-encodable form of one session's transactions
// within a ContentBatch.
type sessionBatch struct {
	Account string
	Counter uint64
	Txs     []rlpTransaction
}

type rlpTransaction struct {
	Index     uint64
	HashChain []byte
	Signature []byte
	Payload   []byte
}

// ContentBatch carries an optional header plus zero or more per-session
// transaction batches, the payload of a ContentMessage.
type ContentBatch struct {
	Header    *CoValueHeader
	HasHeader bool
	Sessions  map[SessionID][]Transaction
}

// rlpContentBatch is the wire-shape used for RLP encode/decode; RLP has
// no native map support so sessions are flattened to a slice, the way
// core/replication.go flattened block transaction lists for its RLP
// envelopes.
type rlpContentBatch struct {
	HasHeader bool
	HeaderRaw []byte
	Batches   []sessionBatch
}

// EncodeContentBatch adapts core/replication.go's Block.EncodeRLP to a
// header-plus-per-session-transactions shape.
func EncodeContentBatch(b ContentBatch) ([]byte, error) {
	wire := rlpContentBatch{HasHeader: b.HasHeader}
	if b.HasHeader && b.Header != nil {
		hdrBytes, err := rlp.EncodeToBytes(headerWireForm(*b.Header))
		if err != nil {
			return nil, err
		}
		wire.HeaderRaw = hdrBytes
	}
	for sid, txs := range b.Sessions {
		sb := sessionBatch{Account: string(sid.Account), Counter: sid.Counter}
		for _, tx := range txs {
			sb.Txs = append(sb.Txs, rlpTransaction{
				Index:     tx.Index,
				HashChain: tx.HashChain[:],
				Signature: tx.Signature,
				Payload:   tx.Payload,
			})
		}
		wire.Batches = append(wire.Batches, sb)
	}
	var buf bytes.Buffer
	if err := rlp.Encode(&buf, wire); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeContentBatch reverses EncodeContentBatch, the counterpart to
// core/replication.go's DecodeBlockRLP.
func DecodeContentBatch(raw []byte) (ContentBatch, error) {
	var wire rlpContentBatch
	if err := rlp.DecodeBytes(raw, &wire); err != nil {
		return ContentBatch{}, err
	}
	out := ContentBatch{HasHeader: wire.HasHeader, Sessions: make(map[SessionID][]Transaction)}
	if wire.HasHeader && len(wire.HeaderRaw) > 0 {
		var hw headerWire
		if err := rlp.DecodeBytes(wire.HeaderRaw, &hw); err != nil {
			return ContentBatch{}, err
		}
		h := hw.toHeader()
		out.Header = &h
	}
	for _, sb := range wire.Batches {
		sid := SessionID{Account: AccountOrAgentID(sb.Account), Counter: sb.Counter}
		txs := make([]Transaction, 0, len(sb.Txs))
		for _, t := range sb.Txs {
			var chain [32]byte
			copy(chain[:], t.HashChain)
			txs = append(txs, Transaction{Index: t.Index, HashChain: chain, Signature: t.Signature, Payload: t.Payload})
		}
		out.Sessions[sid] = txs
	}
	return out, nil
}

// headerWire is the RLP-encodable form of CoValueHeader.
type headerWire struct {
	Type      string
	RuleKind  string
	RuleGroup []byte
	Meta      []byte
	Nonce     []byte
}

func headerWireForm(h CoValueHeader) headerWire {
	return headerWire{
		Type:      string(h.Type),
		RuleKind:  string(h.Ruleset.Kind),
		RuleGroup: h.Ruleset.Group[:],
		Meta:      h.Meta,
		Nonce:     h.UniquenessNonce[:],
	}
}

func (hw headerWire) toHeader() CoValueHeader {
	var group CoValueID
	copy(group[:], hw.RuleGroup)
	var nonce [16]byte
	copy(nonce[:], hw.Nonce)
	return CoValueHeader{
		Type:            CoValueType(hw.Type),
		Ruleset:         Ruleset{Kind: RulesetKind(hw.RuleKind), Group: group},
		Meta:            hw.Meta,
		UniquenessNonce: nonce,
	}
}

// knownWire is the RLP-encodable form of KnownState.
type knownWire struct {
	ID       []byte
	Header   bool
	Accounts []string
	Counters []uint64
	Counts   []uint64
}

func knownWireForm(k KnownState) knownWire {
	w := knownWire{ID: k.ID[:], Header: k.Header}
	for sid, n := range k.Sessions {
		w.Accounts = append(w.Accounts, string(sid.Account))
		w.Counters = append(w.Counters, sid.Counter)
		w.Counts = append(w.Counts, n)
	}
	return w
}

func (w knownWire) toKnown() KnownState {
	var id CoValueID
	copy(id[:], w.ID)
	k := NewKnownState(id)
	k.Header = w.Header
	for i := range w.Accounts {
		sid := SessionID{Account: AccountOrAgentID(w.Accounts[i]), Counter: w.Counters[i]}
		k.Sessions[sid] = w.Counts[i]
	}
	return k
}

// rlpWireMessage is the on-wire envelope for a whole WireMessage, used
// by transport adapters that need to move one self-describing frame per
// message (libp2p pubsub, websocket) rather than a typed RPC call.
type rlpWireMessage struct {
	Kind        uint8
	ID          []byte
	KnownRaw    []byte
	ContentRaw  []byte
	HasContent  bool
}

// EncodeWireMessage serializes a full WireMessage envelope for transport.
func EncodeWireMessage(m WireMessage) ([]byte, error) {
	knownRaw, err := rlp.EncodeToBytes(knownWireForm(m.Known))
	if err != nil {
		return nil, err
	}
	wire := rlpWireMessage{Kind: uint8(m.Kind), ID: m.ID[:], KnownRaw: knownRaw}
	if m.IsContent() {
		contentRaw, err := EncodeContentBatch(m.Content)
		if err != nil {
			return nil, err
		}
		wire.ContentRaw = contentRaw
		wire.HasContent = true
	}
	var buf bytes.Buffer
	if err := rlp.Encode(&buf, wire); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeWireMessage reverses EncodeWireMessage.
func DecodeWireMessage(raw []byte) (WireMessage, error) {
	var wire rlpWireMessage
	if err := rlp.DecodeBytes(raw, &wire); err != nil {
		return WireMessage{}, err
	}
	var known knownWire
	if len(wire.KnownRaw) > 0 {
		if err := rlp.DecodeBytes(wire.KnownRaw, &known); err != nil {
			return WireMessage{}, err
		}
	}
	m := WireMessage{Kind: msgKind(wire.Kind), Known: known.toKnown()}
	copy(m.ID[:], wire.ID)
	if wire.HasContent {
		batch, err := DecodeContentBatch(wire.ContentRaw)
		if err != nil {
			return WireMessage{}, err
		}
		m.Content = batch
	}
	return m, nil
}
