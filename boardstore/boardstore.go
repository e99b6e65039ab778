// Package boardstore opens board stores on the shared database and caches
// them per board ID for the life of the process.
package boardstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"xdao.co/boards/lazy"
	"xdao.co/boards/orbit"
	"xdao.co/boards/state"
)

// Type is the store type every board is opened with.
const Type = "discussion-board"

// StoreOpenError reports that the database refused to open a board's store.
// The board is not registered and its slot is dropped.
type StoreOpenError struct {
	Board string
	Err   error
}

func (e *StoreOpenError) Error() string {
	return fmt.Sprintf("boardstore: open board %q: %v", e.Board, e.Err)
}

func (e *StoreOpenError) Unwrap() error { return e.Err }

func IsStoreOpen(err error) bool {
	var se *StoreOpenError
	return errors.As(err, &se)
}

// Databases supplies the shared database.
type Databases interface {
	Database(ctx context.Context) (orbit.DB, error)
}

// Registry hands out one loaded store per board ID.
type Registry struct {
	st  *state.State
	dbs Databases
	log *logrus.Entry
}

func New(st *state.State, dbs Databases, log *logrus.Entry) *Registry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{st: st, dbs: dbs, log: log.WithField("component", "boardstore")}
}

// Options is the open policy for boards: create when absent, anyone may write.
func Options() orbit.OpenOptions {
	return orbit.OpenOptions{Create: true, Type: Type, Write: []string{orbit.Anyone}}
}

// Open returns the loaded store for board. The first caller opens and loads
// it; concurrent callers wait for that result, later callers get the cached
// store without touching the database.
func (r *Registry) Open(ctx context.Context, board string) (orbit.Store, error) {
	for {
		slot := r.st.Board(board)
		s, err := slot.Store.Get(ctx, func(ctx context.Context) (orbit.Store, error) {
			return r.openAndLoad(ctx, slot)
		})
		switch {
		case IsStoreOpen(err):
			r.st.DropBoard(slot)
		case errors.Is(err, lazy.ErrClosed) && !r.st.Closed():
			// The slot was dropped after a rejected open; use a fresh one.
			continue
		}
		return s, err
	}
}

func (r *Registry) openAndLoad(ctx context.Context, slot *state.BoardSlot) (orbit.Store, error) {
	db, err := r.dbs.Database(ctx)
	if err != nil {
		return nil, err
	}
	s, err := db.Open(ctx, slot.ID, Options())
	if err != nil {
		r.log.WithError(err).WithField("board", slot.ID).Warn("store open rejected")
		return nil, &StoreOpenError{Board: slot.ID, Err: err}
	}
	slot.Register(s)

	if err := s.Load(ctx); err != nil {
		slot.Deregister()
		if cerr := s.Close(); cerr != nil {
			r.log.WithError(cerr).WithField("board", slot.ID).Debug("closing unloaded store failed")
		}
		return nil, fmt.Errorf("boardstore: load board %q: %w", slot.ID, err)
	}
	r.log.WithFields(logrus.Fields{"board": slot.ID, "address": s.Address(), "entries": s.OpLogLength()}).Info("board opened")
	return s, nil
}

// Lookup returns a loaded store without opening anything.
func (r *Registry) Lookup(board string) (orbit.Store, bool) {
	slot, ok := r.st.LookupBoard(board)
	if !ok {
		return nil, false
	}
	return slot.Store.Peek()
}
