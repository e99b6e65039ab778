package local

import (
	"fmt"
	"sync"
)

// Network is the in-process transport shared by local nodes. Nodes attached
// to the same Network can dial each other by multiaddr; nodes on different
// Networks cannot.
type Network struct {
	mu       sync.RWMutex
	nodes    map[string]*Node
	nextPort int
}

func NewNetwork() *Network {
	return &Network{nodes: map[string]*Node{}, nextPort: 4001}
}

var defaultNetwork = NewNetwork()

// DefaultNetwork is the process-wide network used when none is configured.
func DefaultNetwork() *Network { return defaultNetwork }

func (n *Network) attach(nd *Node) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.nodes[nd.id]; exists {
		return fmt.Errorf("local: peer id %s already attached", nd.id)
	}
	n.nodes[nd.id] = nd
	return nil
}

func (n *Network) detach(nd *Node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.nodes[nd.id] == nd {
		delete(n.nodes, nd.id)
	}
}

func (n *Network) lookup(id string) *Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.nodes[id]
}

func (n *Network) allocPort() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	p := n.nextPort
	n.nextPort++
	return p
}
