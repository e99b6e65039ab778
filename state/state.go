// Package state holds the per-process record of lazily created resources:
// the storage node, the database, opened board stores and the identity
// cache. Components receive a *State and look handles up on every call
// rather than keeping their own copies.
package state

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"xdao.co/boards/kv"
	"xdao.co/boards/lazy"
	"xdao.co/boards/node"
	"xdao.co/boards/orbit"
)

// Resource keys used in logs and errors.
const (
	StorageNode = "storageNode"
	Database    = "database"
)

// Config holds optional collaborators.
type Config struct {
	// Settings is the persisted key/value shim; in-memory with defaults when nil.
	Settings kv.Store
	Log      *logrus.Entry
}

// State is created once at startup and torn down with Close.
type State struct {
	Session uuid.UUID
	Started time.Time

	Node lazy.Cell[node.Node]
	DB   lazy.Cell[orbit.DB]

	Identities *IdentityCache
	Settings   kv.Store

	log *logrus.Entry

	mu     sync.Mutex
	closed bool
	boards map[string]*BoardSlot
}

func New(cfg Config) *State {
	settings := cfg.Settings
	if settings == nil {
		settings = kv.NewMemory()
	}
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	session := uuid.New()
	return &State{
		Session:    session,
		Started:    time.Now().UTC(),
		Identities: NewIdentityCache(),
		Settings:   settings,
		log:        log.WithFields(logrus.Fields{"component": "state", "session": session.String()}),
		boards:     map[string]*BoardSlot{},
	}
}

// BoardSlot is the registry entry for one board. Its cell becomes ready once
// the store is opened and loaded; the handle is registered as soon as the
// database has opened it.
type BoardSlot struct {
	ID    string
	Store lazy.Cell[orbit.Store]

	mu     sync.Mutex
	handle orbit.Store
}

// Register records an opened store.
func (b *BoardSlot) Register(s orbit.Store) {
	b.mu.Lock()
	b.handle = s
	b.mu.Unlock()
}

// Deregister clears and returns the registered store.
func (b *BoardSlot) Deregister() orbit.Store {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.handle
	b.handle = nil
	return s
}

// Handle returns the registered store, loaded or not.
func (b *BoardSlot) Handle() (orbit.Store, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handle, b.handle != nil
}

// Board returns the slot for id, creating an empty one if needed. After
// Close it returns a detached slot whose cell is already closed.
func (s *State) Board(id string) *BoardSlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		b := &BoardSlot{ID: id}
		b.Store.Close(nil)
		return b
	}
	b, ok := s.boards[id]
	if !ok {
		b = &BoardSlot{ID: id}
		s.boards[id] = b
	}
	return b
}

// DropBoard removes slot if it is still the entry for its ID and holds
// nothing: no registered store and no construction in progress. The dropped
// slot's cell is closed, so a caller still holding it gets lazy.ErrClosed
// and anything built on it is closed.
func (s *State) DropBoard(slot *BoardSlot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.boards[slot.ID] != slot || slot.Store.State() != lazy.Unset {
		return false
	}
	if _, ok := slot.Handle(); ok {
		return false
	}
	delete(s.boards, slot.ID)
	slot.Store.Close(func(st orbit.Store) {
		slot.Deregister()
		s.closeLate("board "+slot.ID, st.Close)
	})
	return true
}

// Closed reports whether Close has been called.
func (s *State) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// LookupBoard returns the slot for id without creating one.
func (s *State) LookupBoard(id string) (*BoardSlot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.boards[id]
	return b, ok
}

// OpenBoard describes one registered board store.
type OpenBoard struct {
	ID     string
	Store  orbit.Store
	Loaded bool
}

// OpenBoards lists boards with a registered store, sorted by ID.
func (s *State) OpenBoards() []OpenBoard {
	s.mu.Lock()
	slots := make([]*BoardSlot, 0, len(s.boards))
	for _, b := range s.boards {
		slots = append(slots, b)
	}
	s.mu.Unlock()

	out := make([]OpenBoard, 0, len(slots))
	for _, b := range slots {
		h, ok := b.Handle()
		if !ok {
			continue
		}
		out = append(out, OpenBoard{ID: b.ID, Store: h, Loaded: b.Store.State() == lazy.Ready})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close closes every registered board store, then the database, then the
// node, and closes their cells. A construction still in flight is not
// waited for; whatever it produces is closed when it finishes and never
// stored. Later requests for any resource fail with lazy.ErrClosed.
func (s *State) Close() error {
	s.mu.Lock()
	s.closed = true
	slots := make([]*BoardSlot, 0, len(s.boards))
	for _, b := range s.boards {
		slots = append(slots, b)
	}
	s.mu.Unlock()
	sort.Slice(slots, func(i, j int) bool { return slots[i].ID < slots[j].ID })

	var errs []error
	for _, b := range slots {
		b.Store.Close(func(st orbit.Store) {
			b.Deregister()
			s.closeLate("board "+b.ID, st.Close)
		})
		h := b.Deregister()
		if h == nil {
			continue
		}
		if err := h.Close(); err != nil {
			errs = append(errs, fmt.Errorf("state: close board %q: %w", b.ID, err))
		}
	}
	if db, ok := s.DB.Close(func(db orbit.DB) { s.closeLate(Database, db.Close) }); ok {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("state: close %s: %w", Database, err))
		}
	}
	if n, ok := s.Node.Close(func(n node.Node) { s.closeLate(StorageNode, n.Close) }); ok {
		if err := n.Close(); err != nil {
			errs = append(errs, fmt.Errorf("state: close %s: %w", StorageNode, err))
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		s.log.WithError(err).Warn("teardown incomplete")
	} else {
		s.log.WithField("boards", len(slots)).Info("process state closed")
	}
	return err
}

// closeLate closes a resource whose construction finished after Close.
func (s *State) closeLate(what string, closeFn func() error) {
	log := s.log.WithField("resource", what)
	if err := closeFn(); err != nil {
		log.WithError(err).Warn("closing resource built after teardown failed")
		return
	}
	log.Info("resource built after teardown closed")
}
