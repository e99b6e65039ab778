package boardstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"xdao.co/boards/bootstrap"
	"xdao.co/boards/lazy"
	"xdao.co/boards/node/local"
	"xdao.co/boards/orbit"
	"xdao.co/boards/orbit/logdb"
	"xdao.co/boards/orbit/orbittest"
	"xdao.co/boards/state"
)

type staticDB struct{ db orbit.DB }

func (s staticDB) Database(context.Context) (orbit.DB, error) { return s.db, nil }

type failingDB struct{ err error }

func (f failingDB) Database(context.Context) (orbit.DB, error) { return nil, f.err }

func TestOpen_ConcurrentCallersShareOneOpenAndLoad(t *testing.T) {
	gate := make(chan struct{})
	db := orbittest.New("me")
	db.LoadGate = gate
	st := state.New(state.Config{})
	r := New(st, staticDB{db}, nil)

	const callers = 2
	results := make(chan orbit.Store, callers)
	for i := 0; i < callers; i++ {
		go func() {
			s, err := r.Open(context.Background(), "general")
			if err != nil {
				t.Errorf("Open: %v", err)
			}
			results <- s
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(st.OpenBoards()) == 0 || st.Board("general").Store.Waiters() != callers {
		if time.Now().After(deadline) {
			t.Fatalf("registered=%d waiting=%d, want both callers blocked on the load",
				len(st.OpenBoards()), st.Board("general").Store.Waiters())
		}
		time.Sleep(time.Millisecond)
	}
	if got := st.OpenBoards(); got[0].Loaded {
		t.Fatalf("board reported loaded before Load returned")
	}
	if _, ok := r.Lookup("general"); ok {
		t.Fatalf("Lookup returned a store that is still loading")
	}
	close(gate)

	a, b := <-results, <-results
	if a == nil || a != b {
		t.Fatalf("callers got different stores")
	}
	stores := db.Stores()
	if db.Opens.Load() != 1 || len(stores) != 1 || stores[0].Loads.Load() != 1 {
		t.Fatalf("opens=%d loads=%d, want 1/1", db.Opens.Load(), stores[0].Loads.Load())
	}
	opts := stores[0].Opts
	if !opts.Create || opts.Type != Type || len(opts.Write) != 1 || opts.Write[0] != orbit.Anyone {
		t.Fatalf("open options = %+v", opts)
	}

	again, err := r.Open(context.Background(), "general")
	if err != nil || again != a {
		t.Fatalf("cached open = %v, %v", again, err)
	}
	if db.Opens.Load() != 1 || stores[0].Loads.Load() != 1 {
		t.Fatalf("cached open touched the database")
	}
	if got, ok := r.Lookup("general"); !ok || got != a {
		t.Fatalf("Lookup after load = %v, %v", got, ok)
	}
}

func TestOpen_RejectedStoreIsNotRegistered(t *testing.T) {
	db := orbittest.New("me")
	st := state.New(state.Config{})
	r := New(st, staticDB{db}, nil)

	_, err := r.Open(context.Background(), "bad/board")
	var se *StoreOpenError
	if !errors.As(err, &se) || se.Board != "bad/board" || !errors.Is(err, orbit.ErrInvalidAddress) {
		t.Fatalf("err = %v, want StoreOpenError wrapping ErrInvalidAddress", err)
	}
	if !IsStoreOpen(err) {
		t.Fatalf("IsStoreOpen = false")
	}
	if len(st.OpenBoards()) != 0 {
		t.Fatalf("rejected board registered: %+v", st.OpenBoards())
	}
	if _, ok := r.Lookup("bad/board"); ok {
		t.Fatalf("rejected board cached")
	}
	if _, ok := st.LookupBoard("bad/board"); ok {
		t.Fatalf("rejected board left a slot behind")
	}

	for _, id := range []string{"x/1", "x/2", "x/3"} {
		if _, err := r.Open(context.Background(), id); !IsStoreOpen(err) {
			t.Fatalf("Open(%q) = %v", id, err)
		}
		if _, ok := st.LookupBoard(id); ok {
			t.Fatalf("slot for %q retained", id)
		}
	}
}

func TestOpen_DroppedSlotIsReplaced(t *testing.T) {
	db := orbittest.New("me")
	st := state.New(state.Config{})
	r := New(st, staticDB{db}, nil)

	stale := st.Board("general")
	if !st.DropBoard(stale) {
		t.Fatalf("DropBoard refused an empty slot")
	}
	s, err := r.Open(context.Background(), "general")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got := st.OpenBoards()
	if len(got) != 1 || got[0].Store != s || !got[0].Loaded {
		t.Fatalf("OpenBoards = %+v", got)
	}
	if st.Board("general") == stale {
		t.Fatalf("registry still uses the dropped slot")
	}
}

func TestOpen_AfterTeardown(t *testing.T) {
	db := orbittest.New("me")
	st := state.New(state.Config{})
	r := New(st, staticDB{db}, nil)
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := r.Open(context.Background(), "general"); !errors.Is(err, lazy.ErrClosed) {
		t.Fatalf("Open after Close: %v", err)
	}
	if db.Opens.Load() != 0 {
		t.Fatalf("database opened a store after teardown")
	}
}

func TestOpen_LoadFailureDeregistersAndRetries(t *testing.T) {
	db := orbittest.New("me")
	db.LoadErr = errors.New("heads corrupt")
	st := state.New(state.Config{})
	r := New(st, staticDB{db}, nil)

	if _, err := r.Open(context.Background(), "general"); !errors.Is(err, db.LoadErr) {
		t.Fatalf("err = %v, want load failure", err)
	}
	if len(st.OpenBoards()) != 0 {
		t.Fatalf("board registered after failed load")
	}
	if !db.Stores()[0].Closed() {
		t.Fatalf("unloaded store left open")
	}

	db.LoadErr = nil
	if _, err := r.Open(context.Background(), "general"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if db.Opens.Load() != 2 {
		t.Fatalf("opens = %d, want 2", db.Opens.Load())
	}
}

func TestOpen_DatabaseUnavailable(t *testing.T) {
	boom := &bootstrap.InitializationError{Resource: state.Database, Err: errors.New("no node")}
	st := state.New(state.Config{})
	r := New(st, failingDB{boom}, nil)
	_, err := r.Open(context.Background(), "general")
	if !bootstrap.IsInitialization(err) {
		t.Fatalf("err = %v, want InitializationError", err)
	}
	if IsStoreOpen(err) {
		t.Fatalf("database failure reported as StoreOpenError")
	}
	if st.Board("general").Store.State() != lazy.Unset {
		t.Fatalf("slot not reset after failure")
	}
}

func TestOpen_OverLocalNode(t *testing.T) {
	net := local.NewNetwork()
	st := state.New(state.Config{})
	b, err := bootstrap.New(st, bootstrap.Config{
		Context:     bootstrap.ServerContext,
		NodeFactory: local.Factory(local.Config{Network: net}),
		DBFactory:   logdb.Factory(logdb.Config{}),
	})
	if err != nil {
		t.Fatalf("bootstrap.New: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	r := New(st, b, nil)

	var wg sync.WaitGroup
	stores := make([]orbit.Store, 4)
	for i := range stores {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := r.Open(context.Background(), "general")
			if err != nil {
				t.Errorf("Open: %v", err)
			}
			stores[i] = s
		}(i)
	}
	wg.Wait()
	for _, s := range stores[1:] {
		if s != stores[0] {
			t.Fatalf("callers got different stores")
		}
	}
	s := stores[0]
	if s.Type() != Type || !s.Writable() {
		t.Fatalf("store type=%q writable=%v", s.Type(), s.Writable())
	}
	if _, err := s.Add(context.Background(), []byte(`{"title":"hello"}`)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if s.OpLogLength() != 1 {
		t.Fatalf("OpLogLength = %d", s.OpLogLength())
	}
}
