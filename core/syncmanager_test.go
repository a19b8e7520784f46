package core

import (
	"context"
	"testing"
	"time"
)

func TestSyncManagerDispatchCreatesCoreAndBroadcastsOnAvailable(t *testing.T) {
	node := NewLocalNode(nil, NewMemoryStorage(), nil, 0, nil)
	sm, err := NewSyncManager(node, 4, 16, nil)
	if err != nil {
		t.Fatalf("NewSyncManager: %v", err)
	}

	header := CoValueHeader{Type: TypeCoMap}
	id := HeaderID(header)
	sender := newFakePeer("sender", nil)
	other := newFakePeer("other", nil)
	node.AddPeer(sender)
	node.AddPeer(other)

	session := sid("alice", 0)
	batch := ContentBatch{
		HasHeader: true,
		Header:    &header,
		Sessions:  map[SessionID][]Transaction{session: buildSession(t, []byte("z"))},
	}
	if err := sm.Dispatch(sender.ID(), ContentMessage(id, batch)); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	c, ok := node.Get(id)
	if !ok || c.State() != StateAvailable {
		t.Fatalf("expected core to be created and available")
	}

	select {
	case msg := <-other.outbound:
		if !msg.IsLoad() || msg.ID != id {
			t.Fatalf("expected a load broadcast to the other peer, got %+v", msg)
		}
	default:
		t.Fatalf("expected broadcast to reach the non-sending peer")
	}

	select {
	case <-sender.outbound:
		t.Fatalf("sender should not receive its own broadcast back")
	default:
	}
}

func TestLoadWithLimitRespectsSemaphore(t *testing.T) {
	node := NewLocalNode(nil, NewMemoryStorage(), nil, 0, nil)
	sm, err := NewSyncManager(node, 1, 16, nil)
	if err != nil {
		t.Fatalf("NewSyncManager: %v", err)
	}
	id := CoValueID{8}
	core := node.getOrCreate(id)
	peer := newFakePeer("p1", ErrNotFound)

	if err := sm.LoadWithLimit(context.Background(), core, []PeerCapabilities{peer}); err != nil {
		t.Fatalf("LoadWithLimit: %v", err)
	}
	if core.State() != StateUnavailable {
		t.Fatalf("expected StateUnavailable, got %v", core.State())
	}

	// With the only slot held, a further load must wait and give up with ctx.
	if err := sm.maxInFlightLoads.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := sm.LoadWithLimit(ctx, core, []PeerCapabilities{peer}); err != context.DeadlineExceeded {
		t.Fatalf("expected context.DeadlineExceeded while the cap is reached, got %v", err)
	}
	sm.maxInFlightLoads.Release(1)
}
