package core

import (
	"context"
	"sync"
)

// PeerRole distinguishes a server-like peer (e.g. a sync server a client
// always trusts to eventually have the latest state) from an ordinary
// client peer. It is reported by the CLI and debug HTTP peer listings;
// SyncManager's broadcast policy does not consult it.
type PeerRole string

const (
	PeerRoleServer PeerRole = "server"
	PeerRoleClient PeerRole = "client"
)

// PeerCapabilities is the duck-typed set of operations SyncManager and
// CoValueCore need from a connected peer. Any transport — libp2p,
// websocket, or an in-process test double — satisfies this interface by
// implementing these six methods; nothing in core depends on how
// bytes actually move, per spec.md §9's design note.
type PeerCapabilities interface {
	ID() string
	Role() PeerRole
	PushOutgoingMessage(ctx context.Context, msg WireMessage) error
	Receive() <-chan WireMessage
	Close() error
	Done() <-chan struct{}
}

// PeerState wraps one connection's outbound queue and inbound stream,
// providing the back-pressure and idempotent-close semantics spec.md
// §4.4 requires on top of whatever transport actually moves bytes.
type PeerState struct {
	id   string
	role PeerRole

	outbound chan WireMessage
	inbound  chan WireMessage

	closeOnce sync.Once
	closed    chan struct{}
}

// NewPeerState constructs a PeerState with an outbound queue bounded at
// highWaterMark messages; PushOutgoingMessage blocks (respecting ctx)
// once the queue is full, giving SyncManager back-pressure against a
// slow peer instead of unbounded memory growth.
func NewPeerState(id string, role PeerRole, highWaterMark int) *PeerState {
	if highWaterMark <= 0 {
		highWaterMark = 1
	}
	return &PeerState{
		id:       id,
		role:     role,
		outbound: make(chan WireMessage, highWaterMark),
		inbound:  make(chan WireMessage, 1),
		closed:   make(chan struct{}),
	}
}

// ID returns the peer's stable identifier.
func (p *PeerState) ID() string { return p.id }

// Role reports whether this peer was registered as a server or client.
func (p *PeerState) Role() PeerRole { return p.role }

// PushOutgoingMessage enqueues msg for delivery. It returns ErrPeerClosed
// once Close has been called, and respects ctx cancellation while
// waiting for queue space.
func (p *PeerState) PushOutgoingMessage(ctx context.Context, msg WireMessage) error {
	select {
	case <-p.closed:
		return ErrPeerClosed
	default:
	}
	select {
	case p.outbound <- msg:
		return nil
	case <-p.closed:
		return ErrPeerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Outbound exposes the send queue for a transport adapter's write loop
// to drain. Only one goroutine should ever read from this channel.
func (p *PeerState) Outbound() <-chan WireMessage {
	return p.outbound
}

// Deliver queues an inbound WireMessage on the channel Receive returns.
// Once the PeerState is closed it queues nothing and returns
// ErrPeerClosed.
func (p *PeerState) Deliver(ctx context.Context, msg WireMessage) error {
	select {
	case <-p.closed:
		return ErrPeerClosed
	default:
	}
	select {
	case p.inbound <- msg:
		return nil
	case <-p.closed:
		return ErrPeerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns the channel Deliver feeds. SyncManager does not read
// it: the transport adapters pass inbound messages to
// SyncManager.Dispatch directly.
func (p *PeerState) Receive() <-chan WireMessage {
	return p.inbound
}

// Done returns a channel closed once Close has run, letting callers
// select on peer closure alongside other events.
func (p *PeerState) Done() <-chan struct{} {
	return p.closed
}

// Close is idempotent: calling it more than once, concurrently or not,
// has the same effect as calling it once. Outstanding PushOutgoingMessage
// and Deliver calls unblock with ErrPeerClosed.
func (p *PeerState) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
	})
	return nil
}

var _ PeerCapabilities = (*PeerState)(nil)
