// Package wstransport implements a second core.PeerCapabilities-
// satisfying transport over gorilla/websocket, demonstrating spec.md
// §9's duck-typed peer design note: anything exposing the same six
// methods as libp2ptransport.Transport's peers can stand in as a
// SyncManager peer. The dial-rate limiter is adapted from
// core/connection_pool.go's idle-reaping pool, repurposed here to bound
// concurrent *outbound dial attempts* rather than pooling idle
// connections, so a flapping remote address cannot spin up unbounded
// goroutines (SPEC_FULL.md §12).
package wstransport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"cosync/core"
)

// DialLimiter bounds the number of concurrent outbound dial attempts,
// adapted from core/connection_pool.go's ConnPool (same acquire/release
// shape, repurposed from idle-connection reuse to dial-rate limiting).
type DialLimiter struct {
	mu      sync.Mutex
	inFlux  int
	maxDial int
}

// NewDialLimiter returns a limiter allowing at most maxDial concurrent
// Dial calls.
func NewDialLimiter(maxDial int) *DialLimiter {
	if maxDial <= 0 {
		maxDial = 8
	}
	return &DialLimiter{maxDial: maxDial}
}

// acquire blocks until a dial slot is free or ctx is canceled.
func (l *DialLimiter) acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		if l.inFlux < l.maxDial {
			l.inFlux++
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()
		select {
		case <-time.After(10 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *DialLimiter) release() {
	l.mu.Lock()
	l.inFlux--
	l.mu.Unlock()
}

// Dispatcher is called once per inbound WireMessage.
type Dispatcher func(peerID string, msg core.WireMessage)

// Transport manages outbound websocket dials and the resulting
// core.PeerStates.
type Transport struct {
	logger   *logrus.Logger
	dialer   *websocket.Dialer
	limiter  *DialLimiter
	hwm      int
	dispatch Dispatcher

	mu    sync.Mutex
	peers map[string]*core.PeerState
}

// New constructs a Transport. maxConcurrentDials bounds the DialLimiter;
// outboundHWM bounds each PeerState's outbound queue (spec.md §6's
// outboundQueueHighWater knob).
func New(maxConcurrentDials, outboundHWM int, logger *logrus.Logger, dispatch Dispatcher) *Transport {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Transport{
		logger:   logger,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second, NetDial: (&net.Dialer{Timeout: 10 * time.Second}).Dial},
		limiter:  NewDialLimiter(maxConcurrentDials),
		hwm:      outboundHWM,
		dispatch: dispatch,
		peers:    make(map[string]*core.PeerState),
	}
}

// Dial connects to a remote cosync websocket endpoint and wires the
// resulting connection into a core.PeerState keyed by peerID (typically
// the remote address until a handshake assigns a stable identity).
func (t *Transport) Dial(ctx context.Context, peerID, url string) (*core.PeerState, error) {
	if err := t.limiter.acquire(ctx); err != nil {
		return nil, err
	}
	defer t.limiter.release()

	conn, _, err := t.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("wstransport: dial %s: %w", url, err)
	}

	hwm := t.hwm
	if hwm <= 0 {
		hwm = 64
	}
	ps := core.NewPeerState(peerID, core.PeerRoleServer, hwm)

	t.mu.Lock()
	t.peers[peerID] = ps
	t.mu.Unlock()

	go t.writeLoop(ps, conn)
	go t.readLoop(ps, conn)
	return ps, nil
}

// Accept wraps an already-upgraded *websocket.Conn (from an
// http.Handler) into a core.PeerState, for the server side of a
// connection.
func (t *Transport) Accept(peerID string, conn *websocket.Conn) *core.PeerState {
	hwm := t.hwm
	if hwm <= 0 {
		hwm = 64
	}
	ps := core.NewPeerState(peerID, core.PeerRoleClient, hwm)

	t.mu.Lock()
	t.peers[peerID] = ps
	t.mu.Unlock()

	go t.writeLoop(ps, conn)
	go t.readLoop(ps, conn)
	return ps
}

func (t *Transport) writeLoop(ps *core.PeerState, conn *websocket.Conn) {
	defer conn.Close()
	for {
		select {
		case msg, ok := <-ps.Outbound():
			if !ok {
				return
			}
			raw, err := core.EncodeWireMessage(msg)
			if err != nil {
				t.logger.Warnf("wstransport: encode failed: %v", err)
				continue
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, raw); err != nil {
				t.logger.Warnf("wstransport: write failed: %v", err)
				_ = ps.Close()
				return
			}
		case <-ps.Done():
			return
		}
	}
}

func (t *Transport) readLoop(ps *core.PeerState, conn *websocket.Conn) {
	for {
		kind, raw, err := conn.ReadMessage()
		if err != nil {
			_ = ps.Close()
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		msg, err := core.DecodeWireMessage(raw)
		if err != nil {
			t.logger.Warnf("wstransport: decode failed: %v", err)
			continue
		}
		if t.dispatch != nil {
			t.dispatch(ps.ID(), msg)
		}
	}
}

// Peers returns every currently connected peer.
func (t *Transport) Peers() []core.PeerCapabilities {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]core.PeerCapabilities, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, p)
	}
	return out
}

// Upgrader is the shared websocket.Upgrader for server-side accepts.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}
