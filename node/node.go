// Package node defines the storage node a board process talks to: a
// peer-to-peer, content-addressed block network with name records and
// publish/subscribe.
//
// Two implementations live in subpackages: node/local runs a node inside
// the process, node/grpcnode attaches to a node hosted by another process.
package node

import (
	"context"

	"github.com/sirupsen/logrus"

	"xdao.co/boards/storage"
)

// Node is the storage node contract used by the bootstrap and identity layers.
type Node interface {
	// ID returns the node's peer ID.
	ID() string
	// Addrs returns the multiaddrs other peers can dial.
	Addrs() []string

	// ConnectPeer dials the peer behind a multiaddr ending in /p2p/<id>.
	ConnectPeer(ctx context.Context, addr string) error
	// Peers lists connected peer IDs.
	Peers(ctx context.Context) ([]string, error)
	// Subscriptions lists pubsub topics this node is subscribed to.
	Subscriptions(ctx context.Context) ([]string, error)
	// Subscribers lists connected peers subscribed to topic.
	Subscribers(ctx context.Context, topic string) ([]string, error)

	// ResolveName resolves a name (a peer ID) to an "/ipfs/<cid>" path.
	ResolveName(ctx context.Context, name string) (string, error)
	// Fetch returns the bytes of the file at a content path.
	Fetch(ctx context.Context, path string) ([]byte, error)
	// ListDirectory returns the links of the directory at a content path.
	ListDirectory(ctx context.Context, path string) ([]Link, error)

	Close() error
}

// Link is one directory entry.
type Link struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Publisher is implemented by nodes that accept new content.
type Publisher interface {
	// Add stores a file and returns its "/ipfs/<cid>" path.
	Add(ctx context.Context, data []byte) (string, error)
	// AddDirectory stores a directory of existing paths.
	AddDirectory(ctx context.Context, links []Link) (string, error)
	// PublishName points this node's name record at path.
	PublishName(ctx context.Context, path string) error
}

// Message is one pubsub delivery.
type Message struct {
	From  string
	Topic string
	Data  []byte
}

// PubSub is implemented by nodes with publish/subscribe enabled.
type PubSub interface {
	Subscribe(ctx context.Context, topic string, handler func(Message)) error
	Unsubscribe(topic string) error
	Publish(ctx context.Context, topic string, data []byte) error
}

// RelayOptions mirrors the circuit relay switches of a node.
type RelayOptions struct {
	Enabled bool
	// Hop lets the node forward connections for peers that cannot be dialled.
	Hop bool
	// Active makes the node dial the destination of a relayed connection itself.
	Active bool
}

// Options configures node construction.
type Options struct {
	Relay  RelayOptions
	Pubsub bool

	// Bootstrap multiaddrs are dialled once the node is up.
	Bootstrap []string
	// Listen multiaddrs the node advertises.
	Listen []string
	// Dialable is false for nodes that cannot accept inbound connections
	// (browser-like clients); they are reachable only through a relay hop.
	Dialable bool

	// Repo names the key in the node key store; empty means an ephemeral key.
	Repo string
	// Blockstore holds the node's blocks; an in-memory store when nil.
	Blockstore storage.CAS

	Log *logrus.Entry
}

// Factory constructs a node.
type Factory func(ctx context.Context, opts Options) (Node, error)
