package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"xdao.co/boards/kv"
	"xdao.co/boards/lazy"
	"xdao.co/boards/node"
	"xdao.co/boards/node/nodetest"
	"xdao.co/boards/orbit"
	"xdao.co/boards/orbit/orbittest"
)

func TestNew_Defaults(t *testing.T) {
	s := New(Config{})
	if s.Session.String() == "" || s.Started.IsZero() {
		t.Fatalf("session not initialised")
	}
	if v, ok := s.Settings.GetItem(kv.FavouriteBoardsKey); !ok || v != `["general","test"]` {
		t.Fatalf("default settings = %q, %v", v, ok)
	}
	if New(Config{}).Session == s.Session {
		t.Fatalf("two states share a session id")
	}
	if s.Node.State() != lazy.Unset || s.DB.State() != lazy.Unset {
		t.Fatalf("resources must start unset")
	}
}

func TestBoardSlots(t *testing.T) {
	s := New(Config{})
	if s.Board("general") != s.Board("general") {
		t.Fatalf("Board must return the same slot for an id")
	}
	if got := s.OpenBoards(); len(got) != 0 {
		t.Fatalf("empty slots must not be listed: %+v", got)
	}

	db := orbittest.New("me")
	st, err := db.Open(context.Background(), "general", orbit.OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Board("general").Register(st)
	s.Board("abc")

	got := s.OpenBoards()
	if len(got) != 1 || got[0].ID != "general" || got[0].Loaded {
		t.Fatalf("OpenBoards = %+v", got)
	}
	_, _ = s.Board("general").Store.Get(context.Background(), func(context.Context) (orbit.Store, error) { return st, nil })
	if got := s.OpenBoards(); !got[0].Loaded {
		t.Fatalf("board not reported loaded")
	}
}

func TestClose_Order(t *testing.T) {
	ctx := context.Background()
	s := New(Config{})

	n := nodetest.New("peer")
	if _, err := s.Node.Get(ctx, func(context.Context) (node.Node, error) { return n, nil }); err != nil {
		t.Fatalf("Node.Get: %v", err)
	}
	db := orbittest.New("peer")
	if _, err := s.DB.Get(ctx, func(context.Context) (orbit.DB, error) { return db, nil }); err != nil {
		t.Fatalf("DB.Get: %v", err)
	}
	for _, id := range []string{"general", "test"} {
		st, err := db.Open(ctx, id, orbit.OpenOptions{})
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		s.Board(id).Register(st)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for _, st := range db.Stores() {
		if !st.Closed() {
			t.Fatalf("store %s left open", st.Name())
		}
	}
	if !db.Closed() || !n.Closed() {
		t.Fatalf("db closed=%v node closed=%v", db.Closed(), n.Closed())
	}
	if s.Node.State() != lazy.Unset || s.DB.State() != lazy.Unset || len(s.OpenBoards()) != 0 {
		t.Fatalf("state not cleared after Close")
	}
}

func TestClose_NodeBuiltAfterCloseIsClosed(t *testing.T) {
	s := New(Config{})
	n := nodetest.New("late")
	release := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		_, err := s.Node.Get(context.Background(), func(context.Context) (node.Node, error) {
			<-release
			return n, nil
		})
		errc <- err
	}()
	waitPending(t, s.Node.State)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	close(release)

	if err := <-errc; !errors.Is(err, lazy.ErrClosed) {
		t.Fatalf("waiter: got %v want lazy.ErrClosed", err)
	}
	if !n.Closed() {
		t.Fatalf("node finished after Close was left open")
	}
	if _, ok := s.Node.Peek(); ok {
		t.Fatalf("closed state holds a node")
	}
}

func TestClose_DatabaseBuiltAfterCloseIsClosed(t *testing.T) {
	s := New(Config{})
	db := orbittest.New("late")
	release := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		_, err := s.DB.Get(context.Background(), func(context.Context) (orbit.DB, error) {
			<-release
			return db, nil
		})
		errc <- err
	}()
	waitPending(t, s.DB.State)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	close(release)
	if err := <-errc; !errors.Is(err, lazy.ErrClosed) {
		t.Fatalf("waiter: got %v want lazy.ErrClosed", err)
	}
	if !db.Closed() {
		t.Fatalf("database finished after Close was left open")
	}
}

func TestClose_BoardOpenedAfterCloseIsClosed(t *testing.T) {
	ctx := context.Background()
	s := New(Config{})
	db := orbittest.New("me")
	st, err := db.Open(ctx, "general", orbit.OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	slot := s.Board("general")
	release := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		_, err := slot.Store.Get(ctx, func(context.Context) (orbit.Store, error) {
			<-release
			slot.Register(st)
			return st, nil
		})
		errc <- err
	}()
	waitPending(t, slot.Store.State)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	close(release)
	if err := <-errc; !errors.Is(err, lazy.ErrClosed) {
		t.Fatalf("waiter: got %v want lazy.ErrClosed", err)
	}
	if !db.Stores()[0].Closed() {
		t.Fatalf("store opened after Close was left open")
	}
	if got := s.OpenBoards(); len(got) != 0 {
		t.Fatalf("store registered after Close: %+v", got)
	}
}

func TestClose_NothingBuiltAfterClose(t *testing.T) {
	ctx := context.Background()
	s := New(Config{})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !s.Closed() {
		t.Fatalf("Closed = false")
	}

	built := false
	_, err := s.Node.Get(ctx, func(context.Context) (node.Node, error) {
		built = true
		return nodetest.New("x"), nil
	})
	if !errors.Is(err, lazy.ErrClosed) || built {
		t.Fatalf("Node.Get after Close: err=%v built=%v", err, built)
	}
	if _, err := s.DB.Get(ctx, func(context.Context) (orbit.DB, error) {
		built = true
		return orbittest.New("x"), nil
	}); !errors.Is(err, lazy.ErrClosed) || built {
		t.Fatalf("DB.Get after Close: err=%v built=%v", err, built)
	}
	if _, err := s.Board("general").Store.Get(ctx, func(context.Context) (orbit.Store, error) {
		built = true
		return nil, nil
	}); !errors.Is(err, lazy.ErrClosed) || built {
		t.Fatalf("board Get after Close: err=%v built=%v", err, built)
	}
	if _, ok := s.LookupBoard("general"); ok {
		t.Fatalf("Board after Close added a slot")
	}
}

func TestDropBoard(t *testing.T) {
	s := New(Config{})
	empty := s.Board("a/b")
	if !s.DropBoard(empty) {
		t.Fatalf("empty slot not dropped")
	}
	if _, ok := s.LookupBoard("a/b"); ok {
		t.Fatalf("slot still present")
	}
	if s.DropBoard(empty) {
		t.Fatalf("stale slot dropped twice")
	}
	if _, err := empty.Store.Get(context.Background(), func(context.Context) (orbit.Store, error) {
		t.Fatalf("dropped slot started a construction")
		return nil, nil
	}); !errors.Is(err, lazy.ErrClosed) {
		t.Fatalf("Get on dropped slot: %v", err)
	}
	if s.Board("a/b") == empty {
		t.Fatalf("Board returned the dropped slot")
	}

	db := orbittest.New("me")
	st, err := db.Open(context.Background(), "general", orbit.OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	busy := s.Board("general")
	busy.Register(st)
	if s.DropBoard(busy) {
		t.Fatalf("slot with a registered store dropped")
	}
}

func waitPending(t *testing.T, state func() lazy.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for state() != lazy.Pending {
		if time.Now().After(deadline) {
			t.Fatalf("construction never started")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestIdentityCache(t *testing.T) {
	c := NewIdentityCache()
	if r := c.Lookup("alice"); r.Status != Unresolved || r.Address != "" {
		t.Fatalf("absent handle = %+v", r)
	}
	if !c.SetAddress("alice", "/ipfs/a") {
		t.Fatalf("first SetAddress must report a change")
	}
	if c.SetAddress("alice", "/ipfs/a") {
		t.Fatalf("same address reported as a change")
	}
	if r := c.Lookup("alice"); r.Status != Unknown || r.Address != "/ipfs/a" {
		t.Fatalf("resolved handle = %+v", r)
	}
	c.Classify("/ipfs/a", func(Compat) Compat { return Compatible })
	if r := c.Lookup("alice"); r.Status != Compatible {
		t.Fatalf("status = %v", r.Status)
	}
	recs := c.Records()
	if len(recs) != 1 || recs[0].Handle != "alice" {
		t.Fatalf("Records = %+v", recs)
	}
	if b, _ := Compatible.MarshalText(); string(b) != "verified-compatible" {
		t.Fatalf("MarshalText = %s", b)
	}
	var back Compat
	if err := back.UnmarshalText([]byte("verified-incompatible")); err != nil || back != Incompatible {
		t.Fatalf("UnmarshalText = %v, %v", back, err)
	}
	if err := back.UnmarshalText([]byte("trusted")); err == nil {
		t.Fatalf("expected error for unknown classification")
	}
}
