// Package libp2ptransport adapts a libp2p host and gossipsub into the
// core.PeerCapabilities duck-typed interface, grounded on
// core/network.go's NewNode/Broadcast/Subscribe/HandlePeerFound/DialSeed
// and core/peer_management.go's connect/sample/send shape, retargeted
// from gossiping arbitrary ledger messages to carrying
// core.WireMessage envelopes for the CoValue sync protocol.
package libp2ptransport

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/libp2p/go-libp2p"
	host "github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/sirupsen/logrus"

	"cosync/core"
)

// Config carries the libp2p-specific settings needed to bring up a
// Transport, mirroring core/common_structs.go's Config shape.
type Config struct {
	ListenAddr     string
	BootstrapPeers []string
	DiscoveryTag   string
	OutboundHWM    int
}

// Dispatcher is called once per inbound WireMessage, after the owning
// Transport has wrapped the sender in a core.PeerState. Transport does
// not register peers with LocalNode; callers do that with
// LocalNode.AddPeer. Transport never calls into SyncManager directly so
// that core stays importable without pulling in libp2p.
type Dispatcher func(peerID string, msg core.WireMessage)

// Transport owns one libp2p host and one gossipsub router, multiplexing
// every connected peer's sync traffic over a per-peer topic named
// "cosync/<peerID>".
type Transport struct {
	host   host.Host
	pubsub *pubsub.PubSub
	logger *logrus.Logger
	cfg    Config

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	states map[string]*core.PeerState

	dispatch Dispatcher
}

// New brings up a libp2p host, joins gossipsub, bootstraps from
// cfg.BootstrapPeers, and starts mDNS discovery — the same sequence as
// core/network.go's NewNode.
func New(cfg Config, logger *logrus.Logger, dispatch Dispatcher) (*Transport, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.ListenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("libp2ptransport: create host: %w", err)
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("libp2ptransport: create pubsub: %w", err)
	}

	t := &Transport{
		host:     h,
		pubsub:   ps,
		logger:   logger,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		topics:   make(map[string]*pubsub.Topic),
		states:   make(map[string]*core.PeerState),
		dispatch: dispatch,
	}

	if err := t.dialSeeds(cfg.BootstrapPeers); err != nil {
		logger.Warnf("libp2ptransport: dial seed warning: %v", err)
	}
	if err := mdns.NewMdnsService(h, cfg.DiscoveryTag, t).Start(); err != nil {
		logger.Warnf("libp2ptransport: start mdns discovery: %v", err)
	}
	return t, nil
}

var _ mdns.Notifee = (*Transport)(nil)

// HandlePeerFound implements mdns.Notifee: connect to a LAN-discovered
// peer and wire it into a core.PeerState, exactly as
// core/network.go's HandlePeerFound does for its own Peer map.
func (t *Transport) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == t.host.ID() {
		return
	}
	t.mu.Lock()
	_, exists := t.states[info.ID.String()]
	t.mu.Unlock()
	if exists {
		return
	}
	if err := t.host.Connect(t.ctx, info); err != nil {
		t.logger.Warnf("libp2ptransport: connect to %s failed: %v", info.ID, err)
		return
	}
	if err := t.wirePeer(info.ID.String()); err != nil {
		t.logger.Warnf("libp2ptransport: wire peer %s failed: %v", info.ID, err)
	}
}

func (t *Transport) dialSeeds(seeds []string) error {
	var errs []string
	for _, addr := range seeds {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid addr %s: %v", addr, err))
			continue
		}
		if err := t.host.Connect(t.ctx, *pi); err != nil {
			errs = append(errs, fmt.Sprintf("connect %s: %v", addr, err))
			continue
		}
		if err := t.wirePeer(pi.ID.String()); err != nil {
			errs = append(errs, fmt.Sprintf("wire %s: %v", addr, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("dial errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// wirePeer joins the per-peer topic, constructs a core.PeerState, and
// starts its read/write loops.
func (t *Transport) wirePeer(peerID string) error {
	topicName := "cosync/" + peerID
	topic, err := t.pubsub.Join(topicName)
	if err != nil {
		return fmt.Errorf("join topic %s: %w", topicName, err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribe topic %s: %w", topicName, err)
	}

	hwm := t.cfg.OutboundHWM
	if hwm <= 0 {
		hwm = 64
	}
	ps := core.NewPeerState(peerID, core.PeerRoleClient, hwm)

	t.mu.Lock()
	t.topics[topicName] = topic
	t.states[peerID] = ps
	t.mu.Unlock()

	go t.writeLoop(ps, topic)
	go t.readLoop(ps, sub)
	return nil
}

func (t *Transport) writeLoop(ps *core.PeerState, topic *pubsub.Topic) {
	for {
		select {
		case msg, ok := <-ps.Outbound():
			if !ok {
				return
			}
			raw, err := core.EncodeWireMessage(msg)
			if err != nil {
				t.logger.Warnf("libp2ptransport: encode failed: %v", err)
				continue
			}
			if err := topic.Publish(t.ctx, raw); err != nil {
				t.logger.Warnf("libp2ptransport: publish failed: %v", err)
			}
		case <-ps.Done():
			return
		case <-t.ctx.Done():
			return
		}
	}
}

func (t *Transport) readLoop(ps *core.PeerState, sub *pubsub.Subscription) {
	for {
		raw, err := sub.Next(t.ctx)
		if err != nil {
			_ = ps.Close()
			return
		}
		if raw.GetFrom() == t.host.ID() {
			continue
		}
		msg, err := core.DecodeWireMessage(raw.Data)
		if err != nil {
			t.logger.Warnf("libp2ptransport: decode failed: %v", err)
			continue
		}
		if t.dispatch != nil {
			t.dispatch(ps.ID(), msg)
		}
	}
}

// Peer returns the core.PeerState for an already-wired peer.
func (t *Transport) Peer(peerID string) (*core.PeerState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.states[peerID]
	return p, ok
}

// Peers returns every currently wired peer as a core.PeerCapabilities.
func (t *Transport) Peers() []core.PeerCapabilities {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]core.PeerCapabilities, 0, len(t.states))
	for _, p := range t.states {
		out = append(out, p)
	}
	return out
}

// Close tears down every peer state and the underlying libp2p host,
// mirroring core/network.go's Close.
func (t *Transport) Close() error {
	t.cancel()
	t.mu.Lock()
	for _, p := range t.states {
		_ = p.Close()
	}
	t.mu.Unlock()
	return t.host.Close()
}
