package logdb

import (
	"context"
	"errors"
	"testing"

	"xdao.co/boards/kv"
	"xdao.co/boards/node"
	"xdao.co/boards/node/local"
	"xdao.co/boards/orbit"
)

func startNode(t *testing.T, net *local.Network) *local.Node {
	t.Helper()
	n, err := local.New(context.Background(), local.Config{Network: net}, node.Options{Pubsub: true, Dialable: true})
	if err != nil {
		t.Fatalf("local.New: %v", err)
	}
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func newDB(t *testing.T, n node.Node, heads kv.Store) *DB {
	t.Helper()
	db, err := New(context.Background(), n, Config{Heads: heads})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func openLoaded(t *testing.T, db *DB, id string, opts orbit.OpenOptions) orbit.Store {
	t.Helper()
	ctx := context.Background()
	s, err := db.Open(ctx, id, opts)
	if err != nil {
		t.Fatalf("Open(%q): %v", id, err)
	}
	if err := s.Load(ctx); err != nil {
		t.Fatalf("Load(%q): %v", id, err)
	}
	return s
}

var board = orbit.OpenOptions{Create: true, Type: "discussion-board", Write: []string{orbit.Anyone}}

func TestNew_RequiresPublisherAndPubSub(t *testing.T) {
	n := startNode(t, local.NewNetwork())
	readOnly := struct{ node.Node }{n}
	if _, err := New(context.Background(), readOnly, Config{}); err == nil {
		t.Fatalf("expected error for a node without publish support")
	}
}

func TestNew_DefaultHeadsStoreIsEmpty(t *testing.T) {
	db := newDB(t, startNode(t, local.NewNetwork()), nil)
	if _, ok := db.heads.GetItem(kv.FavouriteBoardsKey); ok {
		t.Fatalf("heads store carries settings keys")
	}
	s := openLoaded(t, db, "general", orbit.OpenOptions{Create: true})
	if _, err := s.Add(context.Background(), []byte("x")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, ok := db.heads.GetItem(headsKey(s.Address())); !ok {
		t.Fatalf("heads not recorded in the default store")
	}
}

func TestOpen_AddressingAndOptions(t *testing.T) {
	ctx := context.Background()
	n := startNode(t, local.NewNetwork())
	db := newDB(t, n, nil)

	if _, err := db.Open(ctx, "general", orbit.OpenOptions{Type: "discussion-board", Write: []string{orbit.Anyone}}); !errors.Is(err, orbit.ErrNotFound) {
		t.Fatalf("Open without Create err = %v, want ErrNotFound", err)
	}

	s, err := db.Open(ctx, "general", board)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Name() != "general" || s.Type() != "discussion-board" {
		t.Fatalf("store = %s/%s", s.Name(), s.Type())
	}
	id, err := orbit.ParseStoreID(s.Address())
	if err != nil || !id.IsAddress() {
		t.Fatalf("Address %q is not a full address: %v", s.Address(), err)
	}

	again, err := db.Open(ctx, s.Address(), orbit.OpenOptions{})
	if err != nil {
		t.Fatalf("Open(address): %v", err)
	}
	if again != s {
		t.Fatalf("opening an open address must return the same store")
	}

	if _, err := db.Open(ctx, "bad/name", board); !errors.Is(err, orbit.ErrInvalidAddress) {
		t.Fatalf("Open(bad/name) err = %v, want ErrInvalidAddress", err)
	}
	if _, err := db.Open(ctx, s.Address(), orbit.OpenOptions{Type: "keyvalue"}); !errors.Is(err, orbit.ErrTypeMismatch) {
		t.Fatalf("type mismatch err = %v", err)
	}

	private, err := db.Open(ctx, "mine", orbit.OpenOptions{Create: true})
	if err != nil {
		t.Fatalf("Open(mine): %v", err)
	}
	if got := private.Access(); len(got) != 1 || got[0] != n.ID() {
		t.Fatalf("default write list = %v, want [%s]", got, n.ID())
	}
	if private.Type() != DefaultType {
		t.Fatalf("default type = %q", private.Type())
	}
}

func TestStore_AddAndOrder(t *testing.T) {
	ctx := context.Background()
	db := newDB(t, startNode(t, local.NewNetwork()), nil)
	s := openLoaded(t, db, "general", board)

	for _, p := range []string{"one", "two", "three"} {
		if _, err := s.Add(ctx, []byte(p)); err != nil {
			t.Fatalf("Add(%s): %v", p, err)
		}
	}
	entries := s.Entries()
	if len(entries) != 3 || s.OpLogLength() != 3 {
		t.Fatalf("len = %d/%d, want 3", len(entries), s.OpLogLength())
	}
	for i, want := range []string{"one", "two", "three"} {
		if string(entries[i].Payload) != want || entries[i].Clock != uint64(i+1) {
			t.Fatalf("entry %d = %q@%d", i, entries[i].Payload, entries[i].Clock)
		}
	}
	if heads := s.(*Store).Heads(); len(heads) != 1 || heads[0] != entries[2].Hash {
		t.Fatalf("heads = %v", heads)
	}
}

func TestStore_ReplicatesBetweenPeers(t *testing.T) {
	ctx := context.Background()
	net := local.NewNetwork()
	a := startNode(t, net)
	b := startNode(t, net)
	if err := b.ConnectPeer(ctx, a.Addrs()[0]); err != nil {
		t.Fatalf("ConnectPeer: %v", err)
	}

	sa := openLoaded(t, newDB(t, a, nil), "general", board)
	if _, err := sa.Add(ctx, []byte("before b loaded")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	sb := openLoaded(t, newDB(t, b, nil), "general", board)
	if sa.Address() != sb.Address() {
		t.Fatalf("addresses differ: %s vs %s", sa.Address(), sb.Address())
	}
	if sb.OpLogLength() != 1 {
		t.Fatalf("late joiner has %d entries, want 1", sb.OpLogLength())
	}

	if _, err := sb.Add(ctx, []byte("from b")); err != nil {
		t.Fatalf("Add(b): %v", err)
	}
	if sa.OpLogLength() != 2 {
		t.Fatalf("a has %d entries, want 2", sa.OpLogLength())
	}
	if got := sa.Entries()[1]; string(got.Payload) != "from b" || got.Author != b.ID() {
		t.Fatalf("replicated entry = %+v", got)
	}
}

func TestStore_HeadsPersist(t *testing.T) {
	ctx := context.Background()
	n := startNode(t, local.NewNetwork())
	heads := kv.NewMemory()

	first := newDB(t, n, heads)
	s := openLoaded(t, first, "general", board)
	if _, err := s.Add(ctx, []byte("kept")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.Add(ctx, []byte("late")); !errors.Is(err, orbit.ErrClosed) {
		t.Fatalf("Add after close err = %v, want ErrClosed", err)
	}

	second := newDB(t, n, heads)
	if _, err := second.Open(ctx, "general", orbit.OpenOptions{Type: "discussion-board", Write: []string{orbit.Anyone}}); err != nil {
		t.Fatalf("reopen without Create: %v", err)
	}
	reopened := openLoaded(t, second, "general", board)
	if reopened.OpLogLength() != 1 || string(reopened.Entries()[0].Payload) != "kept" {
		t.Fatalf("reloaded entries = %+v", reopened.Entries())
	}
}

func TestStore_WriteAccess(t *testing.T) {
	ctx := context.Background()
	net := local.NewNetwork()
	a := startNode(t, net)
	b := startNode(t, net)
	if err := b.ConnectPeer(ctx, a.Addrs()[0]); err != nil {
		t.Fatalf("ConnectPeer: %v", err)
	}

	owned := openLoaded(t, newDB(t, a, nil), "owned", orbit.OpenOptions{Create: true})
	if !owned.Writable() {
		t.Fatalf("owner cannot write")
	}
	if _, err := owned.Add(ctx, []byte("mine")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	remote := openLoaded(t, newDB(t, b, nil), owned.Address(), orbit.OpenOptions{})
	if remote.Writable() {
		t.Fatalf("non-owner reported writable")
	}
	if _, err := remote.Add(ctx, []byte("intrusion")); !errors.Is(err, orbit.ErrNotWritable) {
		t.Fatalf("Add err = %v, want ErrNotWritable", err)
	}
	if remote.OpLogLength() != 1 {
		t.Fatalf("remote replica has %d entries, want 1", remote.OpLogLength())
	}
}
