// Package bootstrap constructs the process's storage node and database on
// first use, at most once at a time, and shares them through state.State.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"xdao.co/boards/node"
	"xdao.co/boards/orbit"
	"xdao.co/boards/state"
	"xdao.co/boards/storage"
)

// Context selects the node construction policy.
type Context int

const (
	// ClientContext nodes cannot accept inbound connections and seed their
	// peer list from the status endpoint.
	ClientContext Context = iota
	// ServerContext nodes accept connections and act as relay hops.
	ServerContext
)

func (c Context) String() string {
	if c == ServerContext {
		return "server"
	}
	return "client"
}

// ParseContext accepts "server" or "client".
func ParseContext(s string) (Context, error) {
	switch s {
	case "server":
		return ServerContext, nil
	case "client", "":
		return ClientContext, nil
	default:
		return ClientContext, fmt.Errorf("bootstrap: unknown execution context %q", s)
	}
}

// Hints supplies bootstrap multiaddrs. Any error means no hints.
type Hints interface {
	Multiaddrs(ctx context.Context) ([]string, error)
}

// Config wires the bootstrapper.
type Config struct {
	Context Context

	NodeFactory node.Factory
	DBFactory   orbit.Factory

	// Hints is consulted by client-like construction and ConnectToBackend.
	Hints Hints

	// Listen, Bootstrap, Repo and Blockstore are passed through to the node.
	Listen     []string
	Bootstrap  []string
	Repo       string
	Blockstore storage.CAS

	Log *logrus.Entry
}

// Bootstrapper hands out the process's node and database.
type Bootstrapper struct {
	st  *state.State
	cfg Config
	log *logrus.Entry
}

func New(st *state.State, cfg Config) (*Bootstrapper, error) {
	if st == nil {
		return nil, errors.New("bootstrap: nil state")
	}
	if cfg.NodeFactory == nil || cfg.DBFactory == nil {
		return nil, errors.New("bootstrap: node and database factories are required")
	}
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Bootstrapper{
		st:  st,
		cfg: cfg,
		log: log.WithFields(logrus.Fields{"component": "bootstrap", "context": cfg.Context.String()}),
	}, nil
}

// Context returns the configured execution context.
func (b *Bootstrapper) Context() Context { return b.cfg.Context }

// State returns the process state the bootstrapper fills.
func (b *Bootstrapper) State() *state.State { return b.st }

// Node returns the storage node, constructing it if no construction has
// succeeded yet. Concurrent callers share one construction.
func (b *Bootstrapper) Node(ctx context.Context) (node.Node, error) {
	return b.st.Node.Get(ctx, b.buildNode)
}

// Database returns the database, constructing it (and the node) if needed.
func (b *Bootstrapper) Database(ctx context.Context) (orbit.DB, error) {
	return b.st.DB.Get(ctx, b.buildDB)
}

func (b *Bootstrapper) buildNode(ctx context.Context) (node.Node, error) {
	opts := b.nodeOptions(ctx)
	n, err := b.cfg.NodeFactory(ctx, opts)
	if err != nil {
		return nil, b.fail(state.StorageNode, err)
	}
	b.log.WithFields(logrus.Fields{"peer": n.ID(), "bootstrap": len(opts.Bootstrap)}).Info("storage node ready")
	return n, nil
}

func (b *Bootstrapper) buildDB(ctx context.Context) (orbit.DB, error) {
	n, err := b.Node(ctx)
	if err != nil {
		return nil, &InitializationError{Resource: state.Database, Err: err}
	}
	db, err := b.cfg.DBFactory(ctx, n)
	if err != nil {
		return nil, b.fail(state.Database, err)
	}
	b.log.WithField("identity", db.Identity()).Info("database ready")
	return db, nil
}

func (b *Bootstrapper) fail(resource string, err error) error {
	b.log.WithError(err).WithField("resource", resource).Error("resource construction failed")
	return &InitializationError{Resource: resource, Err: err}
}

func (b *Bootstrapper) nodeOptions(ctx context.Context) node.Options {
	opts := node.Options{
		Pubsub:     true,
		Listen:     append([]string(nil), b.cfg.Listen...),
		Bootstrap:  append([]string(nil), b.cfg.Bootstrap...),
		Repo:       b.cfg.Repo,
		Blockstore: b.cfg.Blockstore,
		Log:        b.log.WithField("component", "node"),
	}
	if b.cfg.Context == ServerContext {
		opts.Relay = node.RelayOptions{Enabled: true, Hop: true, Active: true}
		opts.Dialable = true
		return opts
	}
	opts.Bootstrap = append(opts.Bootstrap, b.hints(ctx)...)
	return opts
}

// hints returns the valid advertised multiaddrs, or nil when none are available.
func (b *Bootstrapper) hints(ctx context.Context) []string {
	if b.cfg.Hints == nil {
		return nil
	}
	addrs, err := b.cfg.Hints.Multiaddrs(ctx)
	if err != nil {
		b.log.WithError(err).Debug("no bootstrap hints")
		return nil
	}
	valid, invalid := node.ValidAddrs(addrs)
	if len(invalid) > 0 {
		b.log.WithField("invalid", invalid).Debug("ignoring malformed bootstrap hints")
	}
	return valid
}

// ConnectToBackend dials every multiaddr advertised by the status endpoint
// and returns once one dial succeeds. It returns nil when there is nothing
// to dial and the last dial error when every dial fails.
func (b *Bootstrapper) ConnectToBackend(ctx context.Context) error {
	n, err := b.Node(ctx)
	if err != nil {
		return err
	}
	addrs := b.hints(ctx)
	if len(addrs) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan error, len(addrs))
	var wg sync.WaitGroup
	for _, a := range addrs {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			err := n.ConnectPeer(ctx, addr)
			if err == nil {
				b.log.WithField("addr", addr).Info("connected to backend")
			}
			results <- err
		}(a)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var last error
	for err := range results {
		if err == nil {
			return nil
		}
		last = err
	}
	return fmt.Errorf("bootstrap: connect to backend: %w", last)
}
