package local

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"xdao.co/boards/keys"
	"xdao.co/boards/node"
	"xdao.co/boards/storage"
	"xdao.co/boards/storage/memcas"
)

// Node is an in-process storage node.
type Node struct {
	net    *Network
	key    *keys.Key
	id     string
	addrs  []string
	opts   node.Options
	blocks storage.CAS
	log    *logrus.Entry

	mu      sync.RWMutex
	closed  bool
	peers   map[string]*Node
	via     map[string]string // peer ID -> relay peer ID, for relayed connections
	own     *nameRecord
	records map[string]nameRecord
	topics  map[string][]func(node.Message)
}

var (
	_ node.Node      = (*Node)(nil)
	_ node.Publisher = (*Node)(nil)
	_ node.PubSub    = (*Node)(nil)
)

// Config holds what a local node needs beyond node.Options.
type Config struct {
	// Network the node attaches to; DefaultNetwork when nil.
	Network *Network
	// Keys persists the node key under Options.Repo; ephemeral keys when nil.
	Keys *keys.KeyStore
}

// Factory returns a node.Factory building local nodes with cfg.
func Factory(cfg Config) node.Factory {
	return func(ctx context.Context, opts node.Options) (node.Node, error) {
		return New(ctx, cfg, opts)
	}
}

// New starts a node, attaches it to the network and dials the bootstrap peers.
// Bootstrap failures are logged and otherwise ignored.
func New(ctx context.Context, cfg Config, opts node.Options) (*Node, error) {
	network := cfg.Network
	if network == nil {
		network = DefaultNetwork()
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	key, err := nodeKey(cfg.Keys, opts.Repo)
	if err != nil {
		return nil, err
	}
	blocks := opts.Blockstore
	if blocks == nil {
		blocks = memcas.New()
	}

	n := &Node{
		net:     network,
		key:     key,
		id:      key.PeerID(),
		opts:    opts,
		blocks:  blocks,
		peers:   map[string]*Node{},
		via:     map[string]string{},
		records: map[string]nameRecord{},
		topics:  map[string][]func(node.Message){},
	}
	n.log = log.WithField("peer", n.id)

	listen := opts.Listen
	if len(listen) == 0 {
		listen = []string{fmt.Sprintf("/ip4/127.0.0.1/tcp/%d", network.allocPort())}
	}
	for _, l := range listen {
		a, err := node.WithPeerID(l, n.id)
		if err != nil {
			return nil, err
		}
		n.addrs = append(n.addrs, a)
	}

	if err := network.attach(n); err != nil {
		return nil, err
	}

	n.log.WithFields(logrus.Fields{
		"addrs":    n.addrs,
		"relayHop": opts.Relay.Enabled && opts.Relay.Hop,
		"dialable": opts.Dialable,
	}).Info("storage node started")

	for _, b := range opts.Bootstrap {
		if err := n.ConnectPeer(ctx, b); err != nil {
			n.log.WithError(err).WithField("addr", b).Debug("bootstrap dial failed")
		}
	}
	return n, nil
}

func nodeKey(ks *keys.KeyStore, repo string) (*keys.Key, error) {
	if ks == nil || repo == "" {
		return keys.Generate()
	}
	return ks.LoadOrCreate(repo)
}

func (n *Node) ID() string { return n.id }

func (n *Node) Addrs() []string { return append([]string(nil), n.addrs...) }

// Blockstore exposes the node's local block store.
func (n *Node) Blockstore() storage.CAS { return n.blocks }

func (n *Node) isRelayHop() bool { return n.opts.Relay.Enabled && n.opts.Relay.Hop }

func (n *Node) ConnectPeer(ctx context.Context, addr string) error {
	if err := n.check(ctx); err != nil {
		return err
	}
	id, err := node.PeerIDFromAddr(addr)
	if err != nil {
		return err
	}
	if id == n.id {
		return nil
	}
	target := n.net.lookup(id)
	if target == nil || !target.hasAddr(addr) {
		return fmt.Errorf("%w: %s", node.ErrUnreachable, addr)
	}
	if n.connectedTo(id) {
		return nil
	}

	relay := ""
	if !target.opts.Dialable {
		relay = n.findRelayTo(target)
		if relay == "" {
			return fmt.Errorf("%w: %s accepts no inbound connections and no shared relay hop", node.ErrUnreachable, id)
		}
	}
	n.link(target, relay)
	target.link(n, relay)
	n.log.WithFields(logrus.Fields{"remote": id, "relay": relay}).Debug("peer connected")
	return nil
}

// Disconnect drops the connection to peer id, in both directions.
func (n *Node) Disconnect(id string) {
	n.mu.Lock()
	other := n.peers[id]
	delete(n.peers, id)
	delete(n.via, id)
	n.mu.Unlock()
	if other != nil {
		other.mu.Lock()
		delete(other.peers, n.id)
		delete(other.via, n.id)
		other.mu.Unlock()
	}
}

func (n *Node) hasAddr(addr string) bool {
	for _, a := range n.addrs {
		if a == addr {
			return true
		}
	}
	return false
}

func (n *Node) link(other *Node, relay string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers[other.id] = other
	if relay != "" {
		n.via[other.id] = relay
	}
}

func (n *Node) connectedTo(id string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.peers[id]
	return ok
}

func (n *Node) findRelayTo(target *Node) string {
	for _, p := range n.connected() {
		if p.isRelayHop() && p.connectedTo(target.id) {
			return p.id
		}
	}
	return ""
}

func (n *Node) connected() []*Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Node, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// reachable lists connected peers followed by their peers, without
// duplicates and without n itself.
func (n *Node) reachable() []*Node {
	direct := n.connected()
	seen := map[string]bool{n.id: true}
	out := make([]*Node, 0, len(direct))
	for _, p := range direct {
		seen[p.id] = true
		out = append(out, p)
	}
	for _, p := range direct {
		for _, pp := range p.connected() {
			if !seen[pp.id] {
				seen[pp.id] = true
				out = append(out, pp)
			}
		}
	}
	return out
}

func (n *Node) Peers(ctx context.Context) ([]string, error) {
	if err := n.check(ctx); err != nil {
		return nil, err
	}
	ps := n.connected()
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.id)
	}
	return out, nil
}

func (n *Node) Subscriptions(ctx context.Context) ([]string, error) {
	if err := n.check(ctx); err != nil {
		return nil, err
	}
	if !n.opts.Pubsub {
		return nil, node.ErrPubsubDisabled
	}
	n.mu.RLock()
	out := make([]string, 0, len(n.topics))
	for t := range n.topics {
		out = append(out, t)
	}
	n.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

func (n *Node) Subscribers(ctx context.Context, topic string) ([]string, error) {
	if err := n.check(ctx); err != nil {
		return nil, err
	}
	if !n.opts.Pubsub {
		return nil, node.ErrPubsubDisabled
	}
	var out []string
	for _, p := range n.connected() {
		if p.subscribed(topic) {
			out = append(out, p.id)
		}
	}
	return out, nil
}

func (n *Node) subscribed(topic string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.topics[topic]) > 0
}

func (n *Node) Subscribe(ctx context.Context, topic string, handler func(node.Message)) error {
	if err := n.check(ctx); err != nil {
		return err
	}
	if !n.opts.Pubsub {
		return node.ErrPubsubDisabled
	}
	if strings.TrimSpace(topic) == "" || handler == nil {
		return fmt.Errorf("local: subscribe needs a topic and a handler")
	}
	n.mu.Lock()
	n.topics[topic] = append(n.topics[topic], handler)
	n.mu.Unlock()
	return nil
}

func (n *Node) Unsubscribe(topic string) error {
	n.mu.Lock()
	delete(n.topics, topic)
	n.mu.Unlock()
	return nil
}

// Publish delivers data to every connected peer subscribed to topic.
// Handlers run on the caller's goroutine, after all node locks are released.
func (n *Node) Publish(ctx context.Context, topic string, data []byte) error {
	if err := n.check(ctx); err != nil {
		return err
	}
	if !n.opts.Pubsub {
		return node.ErrPubsubDisabled
	}
	msg := node.Message{From: n.id, Topic: topic, Data: append([]byte(nil), data...)}
	for _, p := range n.connected() {
		p.mu.RLock()
		handlers := append([]func(node.Message){}, p.topics[topic]...)
		p.mu.RUnlock()
		for _, h := range handlers {
			h(msg)
		}
	}
	return nil
}

func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	peers := make([]string, 0, len(n.peers))
	for id := range n.peers {
		peers = append(peers, id)
	}
	n.mu.Unlock()

	for _, id := range peers {
		n.Disconnect(id)
	}
	n.net.detach(n)
	n.log.Info("storage node stopped")
	return nil
}

func (n *Node) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return node.ErrClosed
	}
	return nil
}
