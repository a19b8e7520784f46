package core

import (
	"context"
	"testing"
	"time"
)

// fakePeer is a minimal PeerCapabilities double: when pushErr is set it
// fails every outgoing push with it, otherwise it queues the message on
// outbound. Used to exercise CoValueCore's termination rule without a
// real transport.
type fakePeer struct {
	id       string
	pushErr  error
	outbound chan WireMessage
	done     chan struct{}
}

func newFakePeer(id string, pushErr error) *fakePeer {
	return &fakePeer{id: id, pushErr: pushErr, outbound: make(chan WireMessage, 8), done: make(chan struct{})}
}

func (p *fakePeer) ID() string   { return p.id }
func (p *fakePeer) Role() PeerRole { return PeerRoleClient }
func (p *fakePeer) PushOutgoingMessage(ctx context.Context, msg WireMessage) error {
	if p.pushErr != nil {
		return p.pushErr
	}
	p.outbound <- msg
	return nil
}
func (p *fakePeer) Receive() <-chan WireMessage { return make(chan WireMessage) }
func (p *fakePeer) Close() error                { close(p.done); return nil }
func (p *fakePeer) Done() <-chan struct{}       { return p.done }

func TestCoValueCoreBecomesUnavailableWhenAllPeersFail(t *testing.T) {
	id := CoValueID{9}
	core := newCoValueCore(id, nil, NewMemoryStorage(), nil, 0)

	peers := []PeerCapabilities{
		newFakePeer("p1", ErrNotFound),
		newFakePeer("p2", ErrPeerClosed),
	}
	if err := core.LoadFromPeers(context.Background(), peers); err != nil {
		t.Fatalf("LoadFromPeers: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := core.WaitAvailable(ctx)
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound once all peers exhausted, got %v", err)
	}
	if core.State() != StateUnavailable {
		t.Fatalf("expected StateUnavailable, got %v", core.State())
	}
}

func TestCoValueCoreBecomesAvailableOnContent(t *testing.T) {
	header := CoValueHeader{Type: TypeCoMap}
	id := HeaderID(header)
	core := newCoValueCore(id, nil, NewMemoryStorage(), nil, 0)

	peer := newFakePeer("p1", nil)
	if err := core.LoadFromPeers(context.Background(), []PeerCapabilities{peer}); err != nil {
		t.Fatalf("LoadFromPeers: %v", err)
	}
	if core.State() != StateLoading {
		t.Fatalf("expected StateLoading after fan-out, got %v", core.State())
	}

	session := sid("alice", 0)
	batch := ContentBatch{
		HasHeader: true,
		Header:    &header,
		Sessions:  map[SessionID][]Transaction{session: buildSession(t, []byte("hello"))},
	}
	if _, err := core.HandleIncoming(peer.ID(), ContentMessage(id, batch)); err != nil {
		t.Fatalf("HandleIncoming: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := core.WaitAvailable(ctx); err != nil {
		t.Fatalf("WaitAvailable: %v", err)
	}
	if core.State() != StateAvailable {
		t.Fatalf("expected StateAvailable, got %v", core.State())
	}
	known := core.KnownState()
	if known.Sessions[session] != 1 {
		t.Fatalf("expected 1 known tx for session, got %d", known.Sessions[session])
	}
}

func TestCoValueCoreRejectsHeaderMismatch(t *testing.T) {
	id := CoValueID{42}
	core := newCoValueCore(id, nil, NewMemoryStorage(), nil, 0)

	otherHeader := CoValueHeader{Type: TypeCoList}
	batch := ContentBatch{HasHeader: true, Header: &otherHeader}
	_, err := core.HandleIncoming("p1", ContentMessage(id, batch))
	if err != ErrHeaderMismatch {
		t.Fatalf("expected ErrHeaderMismatch, got %v", err)
	}
}

func TestCoValueCoreServesLoadRequestWithNewerContent(t *testing.T) {
	header := CoValueHeader{Type: TypeCoMap}
	id := HeaderID(header)
	core := newCoValueCore(id, nil, NewMemoryStorage(), nil, 0)

	session := sid("alice", 0)
	seed := ContentBatch{
		HasHeader: true,
		Header:    &header,
		Sessions:  map[SessionID][]Transaction{session: buildSession(t, []byte("x"), []byte("y"))},
	}
	if _, err := core.HandleIncoming("seed", ContentMessage(id, seed)); err != nil {
		t.Fatalf("seed content: %v", err)
	}

	requesterKnown := NewKnownState(id)
	reply, err := core.HandleIncoming("requester", LoadMessage(id, requesterKnown))
	if err != nil {
		t.Fatalf("HandleIncoming load: %v", err)
	}
	if reply == nil || !reply.IsContent() {
		t.Fatalf("expected a content reply serving the requester, got %+v", reply)
	}
	if reply.Content.Header == nil || HeaderID(*reply.Content.Header) != id {
		t.Fatalf("expected header in reply since requester had none")
	}
	txs := reply.Content.Sessions[session]
	if len(txs) != 2 {
		t.Fatalf("expected both transactions served, got %d", len(txs))
	}
}

func TestCoValueCoreRepliesDoneWhenRequesterAlreadyCurrent(t *testing.T) {
	header := CoValueHeader{Type: TypeCoMap}
	id := HeaderID(header)
	core := newCoValueCore(id, nil, NewMemoryStorage(), nil, 0)

	session := sid("alice", 0)
	seed := ContentBatch{
		HasHeader: true,
		Header:    &header,
		Sessions:  map[SessionID][]Transaction{session: buildSession(t, []byte("x"))},
	}
	if _, err := core.HandleIncoming("seed", ContentMessage(id, seed)); err != nil {
		t.Fatalf("seed content: %v", err)
	}

	requesterKnown := core.KnownState()
	reply, err := core.HandleIncoming("requester", LoadMessage(id, requesterKnown))
	if err != nil {
		t.Fatalf("HandleIncoming load: %v", err)
	}
	if reply == nil || !reply.IsDone() {
		t.Fatalf("expected a done reply when requester is already current, got %+v", reply)
	}
}

func TestCoValueCoreRequestsMissingOnKnownAdvertisement(t *testing.T) {
	id := CoValueID{11}
	core := newCoValueCore(id, nil, NewMemoryStorage(), nil, 0)

	advertised := NewKnownState(id)
	advertised.Header = true
	advertised.Sessions[sid("alice", 0)] = 3

	reply, err := core.HandleIncoming("advertiser", KnownMessage(id, advertised))
	if err != nil {
		t.Fatalf("HandleIncoming known: %v", err)
	}
	if reply == nil || !reply.IsLoad() || reply.ID != id {
		t.Fatalf("expected a load request back to the advertiser, got %+v", reply)
	}
}

func TestCoValueCoreNoReplyWhenAdvertiserHasNothingNew(t *testing.T) {
	header := CoValueHeader{Type: TypeCoMap}
	id := HeaderID(header)
	core := newCoValueCore(id, nil, NewMemoryStorage(), nil, 0)
	session := sid("alice", 0)
	seed := ContentBatch{
		HasHeader: true,
		Header:    &header,
		Sessions:  map[SessionID][]Transaction{session: buildSession(t, []byte("x"))},
	}
	if _, err := core.HandleIncoming("seed", ContentMessage(id, seed)); err != nil {
		t.Fatalf("seed content: %v", err)
	}

	advertised := core.KnownState()
	reply, err := core.HandleIncoming("advertiser", KnownMessage(id, advertised))
	if err != nil {
		t.Fatalf("HandleIncoming known: %v", err)
	}
	if reply != nil {
		t.Fatalf("expected no reply when the advertiser has nothing this core lacks, got %+v", reply)
	}
}

func TestCoValueCoreBecomesUnavailableOnVerificationFailure(t *testing.T) {
	header := CoValueHeader{Type: TypeCoMap}
	id := HeaderID(header)
	core := newCoValueCore(id, nil, NewMemoryStorage(), nil, 0)

	peer := newFakePeer("p1", nil)
	if err := core.LoadFromPeers(context.Background(), []PeerCapabilities{peer}); err != nil {
		t.Fatalf("LoadFromPeers: %v", err)
	}

	session := sid("alice", 0)
	txs := buildSession(t, []byte("x"))
	txs[0].HashChain[0] ^= 0xFF // corrupt the hash chain
	batch := ContentBatch{
		HasHeader: true,
		Header:    &header,
		Sessions:  map[SessionID][]Transaction{session: txs},
	}
	if _, err := core.HandleIncoming(peer.ID(), ContentMessage(id, batch)); err == nil {
		t.Fatalf("expected verification failure")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := core.WaitAvailable(ctx); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound once the sole peer is marked errored, got %v", err)
	}
	if core.State() != StateUnavailable {
		t.Fatalf("expected StateUnavailable after the sole peer's content fails verification, got %v", core.State())
	}
}

func TestCoValueCoreLoadFromNoPeersIsImmediatelyUnavailable(t *testing.T) {
	id := CoValueID{7}
	core := newCoValueCore(id, nil, NewMemoryStorage(), nil, 0)
	err := core.LoadFromPeers(context.Background(), nil)
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound with zero peers, got %v", err)
	}
	if core.State() != StateUnavailable {
		t.Fatalf("expected StateUnavailable, got %v", core.State())
	}
}
