package core

import (
	"context"
	"testing"
	"time"
)

func TestPeerStateBackPressureBlocksAtHighWaterMark(t *testing.T) {
	p := NewPeerState("p1", PeerRoleClient, 1)
	msg := DoneMessage(CoValueID{1})

	if err := p.PushOutgoingMessage(context.Background(), msg); err != nil {
		t.Fatalf("first push: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := p.PushOutgoingMessage(ctx, msg)
	if err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded while queue full, got %v", err)
	}

	<-p.Outbound()
	if err := p.PushOutgoingMessage(context.Background(), msg); err != nil {
		t.Fatalf("push after drain: %v", err)
	}
}

func TestPeerStateCloseIsIdempotent(t *testing.T) {
	p := NewPeerState("p1", PeerRoleClient, 1)
	if err := p.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second close must not panic or error: %v", err)
	}
	if err := p.PushOutgoingMessage(context.Background(), DoneMessage(CoValueID{1})); err != ErrPeerClosed {
		t.Fatalf("expected ErrPeerClosed after close, got %v", err)
	}
	if err := p.Deliver(context.Background(), DoneMessage(CoValueID{1})); err != ErrPeerClosed {
		t.Fatalf("expected ErrPeerClosed after close, got %v", err)
	}
}

func TestPeerStateDeliverRoundTrip(t *testing.T) {
	p := NewPeerState("p1", PeerRoleServer, 4)
	msg := KnownMessage(CoValueID{2}, NewKnownState(CoValueID{2}))
	if err := p.Deliver(context.Background(), msg); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	got := <-p.Receive()
	if !got.IsKnown() {
		t.Fatalf("expected known message, got kind %v", got.Kind)
	}
}
