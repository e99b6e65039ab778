// Package logdb implements orbit.DB as append-only logs kept in the storage
// node's block store.
//
// A store's manifest and each of its entries are blocks. The current heads
// are persisted in a kv.Store and announced on a pubsub topic named after
// the store address; announcements from peers are merged by fetching the
// entries they reference.
package logdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"xdao.co/boards/cidutil"
	"xdao.co/boards/kv"
	"xdao.co/boards/node"
	"xdao.co/boards/orbit"
)

// DefaultType is used when a store is created without a type.
const DefaultType = "eventlog"

// Config holds optional collaborators.
type Config struct {
	// Heads persists store heads; an in-memory store when nil.
	Heads kv.Store
	Log   *logrus.Entry
}

// DB is an orbit.DB over a node that can publish content and use pubsub.
type DB struct {
	node  node.Node
	pub   node.Publisher
	ps    node.PubSub
	heads kv.Store
	log   *logrus.Entry

	mu     sync.Mutex
	closed bool
	stores map[string]*Store
}

var _ orbit.DB = (*DB)(nil)

// Factory returns an orbit.Factory building logdb instances with cfg.
func Factory(cfg Config) orbit.Factory {
	return func(ctx context.Context, n node.Node) (orbit.DB, error) {
		return New(ctx, n, cfg)
	}
}

// New creates a DB. The node must implement node.Publisher and node.PubSub.
func New(ctx context.Context, n node.Node, cfg Config) (*DB, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n == nil {
		return nil, errors.New("logdb: nil node")
	}
	pub, ok := n.(node.Publisher)
	if !ok {
		return nil, fmt.Errorf("logdb: node %s cannot publish content", n.ID())
	}
	ps, ok := n.(node.PubSub)
	if !ok {
		return nil, fmt.Errorf("logdb: node %s has no pubsub", n.ID())
	}
	heads := cfg.Heads
	if heads == nil {
		heads = kv.NewEmptyMemory()
	}
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &DB{
		node:   n,
		pub:    pub,
		ps:     ps,
		heads:  heads,
		log:    log.WithField("component", "logdb"),
		stores: map[string]*Store{},
	}, nil
}

func (db *DB) Identity() string { return db.node.ID() }

type manifest struct {
	Name  string   `json:"name"`
	Type  string   `json:"type"`
	Write []string `json:"write"`
}

func manifestKey(address string) string { return "logdb/manifest/" + address }
func headsKey(address string) string    { return "logdb/heads/" + address }

// Open implements orbit.DB. Opening an address that is already open returns
// the same Store.
func (db *DB) Open(ctx context.Context, storeID string, opts orbit.OpenOptions) (orbit.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, err := orbit.ParseStoreID(storeID)
	if err != nil {
		return nil, err
	}

	var m manifest
	var address string
	if id.IsAddress() {
		address = id.String()
		m, err = db.fetchManifest(ctx, id)
		if err != nil {
			return nil, err
		}
	} else {
		m = manifest{Name: id.Name, Type: opts.Type, Write: opts.Write}
		if m.Type == "" {
			m.Type = DefaultType
		}
		if len(m.Write) == 0 {
			m.Write = []string{db.Identity()}
		}
		address, err = db.manifestAddress(m)
		if err != nil {
			return nil, err
		}
		if _, known := db.heads.GetItem(manifestKey(address)); !known && !opts.Create {
			return nil, fmt.Errorf("%w: %s", orbit.ErrNotFound, address)
		}
		if err := db.putManifest(ctx, m); err != nil {
			return nil, err
		}
		if err := db.heads.SetItem(manifestKey(address), "1"); err != nil {
			return nil, err
		}
	}
	if opts.Type != "" && m.Type != opts.Type {
		return nil, fmt.Errorf("%w: %s is %q, not %q", orbit.ErrTypeMismatch, address, m.Type, opts.Type)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, orbit.ErrClosed
	}
	if s, ok := db.stores[address]; ok {
		return s, nil
	}
	s := newStore(db, address, m)
	db.stores[address] = s
	db.log.WithFields(logrus.Fields{"address": address, "type": m.Type}).Debug("store opened")
	return s, nil
}

func encodeManifest(m manifest) ([]byte, error) { return json.Marshal(m) }

func (db *DB) manifestAddress(m manifest) (string, error) {
	b, err := encodeManifest(m)
	if err != nil {
		return "", err
	}
	c, err := cidutil.CIDv1RawSHA256CID(b)
	if err != nil {
		return "", err
	}
	return orbit.FormatAddress(c, m.Name), nil
}

func (db *DB) putManifest(ctx context.Context, m manifest) error {
	b, err := encodeManifest(m)
	if err != nil {
		return err
	}
	_, err = db.pub.Add(ctx, b)
	return err
}

func (db *DB) fetchManifest(ctx context.Context, id orbit.StoreID) (manifest, error) {
	b, err := db.node.Fetch(ctx, cidutil.FormatIPFS(id.Manifest))
	if err != nil {
		if node.IsNotFound(err) {
			return manifest{}, fmt.Errorf("%w: %s: %v", orbit.ErrNotFound, id, err)
		}
		return manifest{}, err
	}
	var m manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return manifest{}, fmt.Errorf("%w: %s: manifest: %v", orbit.ErrInvalidAddress, id, err)
	}
	if m.Name != id.Name {
		return manifest{}, fmt.Errorf("%w: %s: manifest names %q", orbit.ErrInvalidAddress, id, m.Name)
	}
	return m, nil
}

func (db *DB) forget(address string) {
	db.mu.Lock()
	delete(db.stores, address)
	db.mu.Unlock()
}

// Close closes every open store. The node is left running.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	stores := make([]*Store, 0, len(db.stores))
	for _, s := range db.stores {
		stores = append(stores, s)
	}
	db.mu.Unlock()

	var errs []error
	for _, s := range stores {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
