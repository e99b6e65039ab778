// Package nodetest provides a scriptable node.Node for tests.
package nodetest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"xdao.co/boards/cidutil"
	"xdao.co/boards/node"
)

// Node answers from in-memory tables. Paths are matched verbatim after
// trimming a trailing "/".
type Node struct {
	PeerID    string
	Addresses []string
	Opts      node.Options

	Resolves atomic.Int32
	Fetches  atomic.Int32

	mu          sync.Mutex
	files       map[string][]byte
	dirs        map[string][]node.Link
	names       map[string]string
	nameErrs    map[string]error
	resolveGate chan struct{}
	peers       []string
	topics      map[string][]string
	peersErr    error
	subsErr     error
	connectErr  map[string]error
	connected   []string
	closed      bool
}

var _ node.Node = (*Node)(nil)

func New(id string) *Node {
	return &Node{
		PeerID:     id,
		Addresses:  []string{"/ip4/127.0.0.1/tcp/4001/p2p/" + id},
		files:      map[string][]byte{},
		dirs:       map[string][]node.Link{},
		names:      map[string]string{},
		nameErrs:   map[string]error{},
		topics:     map[string][]string{},
		connectErr: map[string]error{},
	}
}

func clean(p string) string { return strings.TrimSuffix(p, "/") }

func (n *Node) SetFile(path string, data []byte) {
	n.mu.Lock()
	n.files[clean(path)] = data
	n.mu.Unlock()
}

func (n *Node) SetDir(path string, links []node.Link) {
	n.mu.Lock()
	n.dirs[clean(path)] = links
	n.mu.Unlock()
}

// SetName points name at path and clears any scripted failure.
func (n *Node) SetName(name, path string) {
	n.mu.Lock()
	n.names[name] = path
	delete(n.nameErrs, name)
	n.mu.Unlock()
}

func (n *Node) FailName(name string, err error) {
	n.mu.Lock()
	n.nameErrs[name] = err
	n.mu.Unlock()
}

// GateResolve makes ResolveName block until the returned func is called.
func (n *Node) GateResolve() (release func()) {
	ch := make(chan struct{})
	n.mu.Lock()
	n.resolveGate = ch
	n.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			n.resolveGate = nil
			n.mu.Unlock()
			close(ch)
		})
	}
}

func (n *Node) SetPeers(ids []string, err error) {
	n.mu.Lock()
	n.peers, n.peersErr = ids, err
	n.mu.Unlock()
}

func (n *Node) SetTopic(topic string, subscribers []string) {
	n.mu.Lock()
	n.topics[topic] = subscribers
	n.mu.Unlock()
}

func (n *Node) FailSubscriptions(err error) {
	n.mu.Lock()
	n.subsErr = err
	n.mu.Unlock()
}

func (n *Node) FailConnect(addr string, err error) {
	n.mu.Lock()
	n.connectErr[addr] = err
	n.mu.Unlock()
}

// Connected returns addresses passed to successful ConnectPeer calls.
func (n *Node) Connected() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.connected...)
}

func (n *Node) Closed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

func (n *Node) ID() string      { return n.PeerID }
func (n *Node) Addrs() []string { return append([]string(nil), n.Addresses...) }

func (n *Node) ConnectPeer(ctx context.Context, addr string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if err, ok := n.connectErr[addr]; ok {
		return err
	}
	n.connected = append(n.connected, addr)
	return nil
}

func (n *Node) Peers(ctx context.Context) ([]string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.peers...), n.peersErr
}

func (n *Node) Subscriptions(ctx context.Context) ([]string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subsErr != nil {
		return nil, n.subsErr
	}
	out := make([]string, 0, len(n.topics))
	for t := range n.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

func (n *Node) Subscribers(ctx context.Context, topic string) ([]string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subsErr != nil {
		return nil, n.subsErr
	}
	return append([]string(nil), n.topics[topic]...), nil
}

func (n *Node) ResolveName(ctx context.Context, name string) (string, error) {
	n.Resolves.Add(1)
	name = strings.TrimPrefix(name, cidutil.IPNSPrefix)
	n.mu.Lock()
	gate := n.resolveGate
	n.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if err, ok := n.nameErrs[name]; ok {
		return "", err
	}
	p, ok := n.names[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", node.ErrNameNotFound, name)
	}
	return p, nil
}

func (n *Node) Fetch(ctx context.Context, path string) ([]byte, error) {
	n.Fetches.Add(1)
	n.mu.Lock()
	defer n.mu.Unlock()
	b, ok := n.files[clean(path)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", node.ErrNotFound, path)
	}
	return append([]byte(nil), b...), nil
}

func (n *Node) ListDirectory(ctx context.Context, path string) ([]node.Link, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.dirs[clean(path)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", node.ErrNotFound, path)
	}
	return append([]node.Link(nil), l...), nil
}

func (n *Node) Close() error {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	return nil
}
