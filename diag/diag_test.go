package diag

import (
	"context"
	"errors"
	"testing"

	"xdao.co/boards/bootstrap"
	"xdao.co/boards/node"
	"xdao.co/boards/node/nodetest"
	"xdao.co/boards/orbit"
	"xdao.co/boards/orbit/orbittest"
	"xdao.co/boards/state"
)

func TestSnapshot_Empty(t *testing.T) {
	st := state.New(state.Config{})
	r := New(st, bootstrap.ClientContext, nil)
	if _, ok := r.Last(); ok {
		t.Fatalf("Last before any snapshot")
	}

	s := r.Snapshot(context.Background())
	if s.IsServer || s.NodeReady || s.NodeLoading || s.DBReady || s.DBLoading {
		t.Fatalf("flags = %+v", s)
	}
	if s.Session != st.Session.String() {
		t.Fatalf("session = %q", s.Session)
	}
	if s.Peers == nil || s.Pubsub == nil || s.OpenBoards == nil || s.Multiaddrs == nil {
		t.Fatalf("empty fields must be non-nil: %+v", s)
	}
	if last, ok := r.Last(); !ok || !last.Taken.Equal(s.Taken) {
		t.Fatalf("Last = %+v, %v", last, ok)
	}
}

func TestSnapshot_ReadyNodeAndBoards(t *testing.T) {
	ctx := context.Background()
	st := state.New(state.Config{})
	n := nodetest.New("self")
	n.SetPeers([]string{"p1", "p2"}, nil)
	if _, err := st.Node.Get(ctx, func(context.Context) (node.Node, error) { return n, nil }); err != nil {
		t.Fatalf("Node.Get: %v", err)
	}
	db := orbittest.New("self")
	if _, err := st.DB.Get(ctx, func(context.Context) (orbit.DB, error) { return db, nil }); err != nil {
		t.Fatalf("DB.Get: %v", err)
	}
	store, err := db.Open(ctx, "general", orbit.OpenOptions{Create: true, Type: "discussion-board", Write: []string{orbit.Anyone}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := store.Add(ctx, []byte("post")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	slot := st.Board("general")
	slot.Register(store)
	if _, err := slot.Store.Get(ctx, func(context.Context) (orbit.Store, error) { return store, nil }); err != nil {
		t.Fatalf("Store.Get: %v", err)
	}
	n.SetTopic(store.Address(), []string{"p2", "p1"})
	n.SetTopic("other", nil)
	st.Identities.SetAddress("alice", "/ipfs/a")

	s := New(st, bootstrap.ServerContext, nil).Snapshot(ctx)
	if !s.IsServer || !s.NodeReady || !s.DBReady || s.NodeLoading || s.DBLoading {
		t.Fatalf("flags = %+v", s)
	}
	if s.NodeID != "self" || len(s.Multiaddrs) != 1 {
		t.Fatalf("node = %q %v", s.NodeID, s.Multiaddrs)
	}
	if len(s.Peers) != 2 {
		t.Fatalf("Peers = %v", s.Peers)
	}
	if got := s.Pubsub[store.Address()]; len(got) != 2 || got[0] != "p1" {
		t.Fatalf("Pubsub = %v", s.Pubsub)
	}
	if got, ok := s.Pubsub["other"]; !ok || len(got) != 0 {
		t.Fatalf("topic without subscribers = %v, %v", got, ok)
	}
	if len(s.OpenBoards) != 1 || s.OpenBoards[0] != "general" {
		t.Fatalf("OpenBoards = %v", s.OpenBoards)
	}
	b := s.Boards[0]
	if !b.Loaded || b.OpLogLength != 1 || !b.Writeable || len(b.Access) != 1 || len(b.Peers) != 2 || b.Type != "discussion-board" {
		t.Fatalf("board = %+v", b)
	}
	if len(s.Identities) != 1 || s.Identities[0].Handle != "alice" {
		t.Fatalf("Identities = %+v", s.Identities)
	}

	s.Peers[0] = "mutated"
	if again := New(st, bootstrap.ServerContext, nil).Snapshot(ctx); again.Peers[0] == "mutated" {
		t.Fatalf("snapshot aliases live data")
	}
}

func TestSnapshot_SubQueryFailuresDegrade(t *testing.T) {
	ctx := context.Background()
	st := state.New(state.Config{})
	n := nodetest.New("self")
	n.SetPeers(nil, errors.New("swarm down"))
	n.FailSubscriptions(errors.New("pubsub down"))
	if _, err := st.Node.Get(ctx, func(context.Context) (node.Node, error) { return n, nil }); err != nil {
		t.Fatalf("Node.Get: %v", err)
	}

	s := New(st, bootstrap.ServerContext, nil).Snapshot(ctx)
	if !s.NodeReady || s.NodeID != "self" {
		t.Fatalf("node fields = %+v", s)
	}
	if len(s.Peers) != 0 || len(s.Pubsub) != 0 {
		t.Fatalf("failed queries not degraded: peers=%v pubsub=%v", s.Peers, s.Pubsub)
	}
}
