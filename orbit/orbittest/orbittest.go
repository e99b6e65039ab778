// Package orbittest provides an orbit.DB that counts opens and loads and can
// be gated or made to fail, for exercising callers' concurrency behaviour.
package orbittest

import (
	"context"
	"sync"
	"sync/atomic"

	"xdao.co/boards/cidutil"
	"xdao.co/boards/orbit"
)

// DB is a scriptable orbit.DB.
type DB struct {
	ID string

	Opens atomic.Int32

	// OpenGate, when set, blocks Open until closed.
	OpenGate chan struct{}
	// OpenErr fails every Open.
	OpenErr error
	// LoadErr is handed to stores created by later Opens.
	LoadErr error
	// LoadGate is handed to stores created by later Opens.
	LoadGate chan struct{}

	mu     sync.Mutex
	stores []*Store
	closed bool
}

var _ orbit.DB = (*DB)(nil)

func New(id string) *DB { return &DB{ID: id} }

func (db *DB) Identity() string { return db.ID }

func (db *DB) Open(ctx context.Context, storeID string, opts orbit.OpenOptions) (orbit.Store, error) {
	db.Opens.Add(1)
	if db.OpenGate != nil {
		select {
		case <-db.OpenGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if db.OpenErr != nil {
		return nil, db.OpenErr
	}
	id, err := orbit.ParseStoreID(storeID)
	if err != nil {
		return nil, err
	}
	address := id.String()
	if !id.IsAddress() {
		m, err := cidutil.CIDv1RawSHA256CID([]byte(id.Name + "\x00" + opts.Type))
		if err != nil {
			return nil, err
		}
		address = orbit.FormatAddress(m, id.Name)
	}
	s := &Store{
		db:       db,
		address:  address,
		name:     id.Name,
		typ:      opts.Type,
		write:    append([]string(nil), opts.Write...),
		Opts:     opts,
		loadErr:  db.LoadErr,
		loadGate: db.LoadGate,
	}
	db.mu.Lock()
	db.stores = append(db.stores, s)
	db.mu.Unlock()
	return s, nil
}

// Stores returns every store handed out so far.
func (db *DB) Stores() []*Store {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]*Store(nil), db.stores...)
}

func (db *DB) Close() error {
	db.mu.Lock()
	db.closed = true
	db.mu.Unlock()
	return nil
}

func (db *DB) Closed() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.closed
}

// Store is an in-memory orbit.Store.
type Store struct {
	db      *DB
	address string
	name    string
	typ     string
	write   []string
	Opts    orbit.OpenOptions

	Loads atomic.Int32

	loadErr  error
	loadGate chan struct{}

	mu      sync.Mutex
	entries []orbit.Entry
	closed  bool
}

var _ orbit.Store = (*Store)(nil)

func (s *Store) Address() string  { return s.address }
func (s *Store) Name() string     { return s.name }
func (s *Store) Type() string     { return s.typ }
func (s *Store) Access() []string { return append([]string(nil), s.write...) }
func (s *Store) Writable() bool   { return orbit.CanWrite(s.write, s.db.ID) }

func (s *Store) Load(ctx context.Context) error {
	s.Loads.Add(1)
	if s.loadGate != nil {
		select {
		case <-s.loadGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.loadErr
}

func (s *Store) Add(ctx context.Context, payload []byte) (string, error) {
	if !s.Writable() {
		return "", orbit.ErrNotWritable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", orbit.ErrClosed
	}
	h := cidutil.CIDv1RawSHA256(append([]byte(s.address), payload...))
	s.entries = append(s.entries, orbit.Entry{
		Hash:    h,
		Store:   s.address,
		Author:  s.db.ID,
		Payload: append([]byte(nil), payload...),
		Clock:   uint64(len(s.entries) + 1),
	})
	return h, nil
}

func (s *Store) Entries() []orbit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]orbit.Entry(nil), s.entries...)
}

func (s *Store) OpLogLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
