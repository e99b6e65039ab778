package bootstrap

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"xdao.co/boards/keys"
	"xdao.co/boards/lazy"
	"xdao.co/boards/node"
	"xdao.co/boards/node/nodetest"
	"xdao.co/boards/orbit"
	"xdao.co/boards/orbit/orbittest"
	"xdao.co/boards/state"
)

var (
	serverAddr = peerAddr("10.0.0.1")
	otherAddr  = peerAddr("10.0.0.2")
)

func peerAddr(ip string) string {
	k, err := keys.Generate()
	if err != nil {
		panic(err)
	}
	return "/ip4/" + ip + "/tcp/4001/p2p/" + k.PeerID()
}

type hintsFunc func(context.Context) ([]string, error)

func (f hintsFunc) Multiaddrs(ctx context.Context) ([]string, error) { return f(ctx) }

// recorder is a node.Factory that counts constructions and remembers options.
type recorder struct {
	calls atomic.Int32
	gate  chan struct{}
	err   error

	mu   sync.Mutex
	opts []node.Options
	last *nodetest.Node
}

func (r *recorder) factory(ctx context.Context, opts node.Options) (node.Node, error) {
	r.calls.Add(1)
	r.mu.Lock()
	r.opts = append(r.opts, opts)
	gate, err := r.gate, r.err
	r.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	n := nodetest.New("peer")
	r.mu.Lock()
	r.last = n
	r.mu.Unlock()
	return n, nil
}

func (r *recorder) lastOptions(t *testing.T) node.Options {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.opts) == 0 {
		t.Fatalf("factory never called")
	}
	return r.opts[len(r.opts)-1]
}

func newBootstrapper(t *testing.T, cfg Config) *Bootstrapper {
	t.Helper()
	if cfg.DBFactory == nil {
		cfg.DBFactory = func(ctx context.Context, n node.Node) (orbit.DB, error) {
			return orbittest.New(n.ID()), nil
		}
	}
	b, err := New(state.New(state.Config{}), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func waitPending(t *testing.T, b *Bootstrapper) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for b.State().Node.State() != lazy.Pending {
		if time.Now().After(deadline) {
			t.Fatalf("node construction never started")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, Config{}); err == nil {
		t.Fatalf("expected error for nil state")
	}
	if _, err := New(state.New(state.Config{}), Config{}); err == nil {
		t.Fatalf("expected error for missing factories")
	}
}

func TestParseContext(t *testing.T) {
	for in, want := range map[string]Context{"server": ServerContext, "client": ClientContext, "": ClientContext} {
		got, err := ParseContext(in)
		if err != nil || got != want {
			t.Fatalf("ParseContext(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseContext("browser"); err == nil {
		t.Fatalf("expected error for unknown context")
	}
}

func TestNode_ServerConcurrentCallersShareConstruction(t *testing.T) {
	rec := &recorder{gate: make(chan struct{})}
	b := newBootstrapper(t, Config{Context: ServerContext, NodeFactory: rec.factory})

	results := make(chan node.Node, 2)
	for i := 0; i < 2; i++ {
		go func() {
			n, err := b.Node(context.Background())
			if err != nil {
				t.Errorf("Node: %v", err)
			}
			results <- n
		}()
	}
	waitPending(t, b)
	close(rec.gate)

	first, second := <-results, <-results
	if first == nil || first != second {
		t.Fatalf("callers got different handles: %v vs %v", first, second)
	}
	if got := rec.calls.Load(); got != 1 {
		t.Fatalf("factory called %d times, want 1", got)
	}
	opts := rec.lastOptions(t)
	if !opts.Relay.Enabled || !opts.Relay.Hop || !opts.Relay.Active {
		t.Fatalf("server node built without relay hop: %+v", opts.Relay)
	}
	if !opts.Dialable || !opts.Pubsub {
		t.Fatalf("server node options = %+v", opts)
	}

	again, err := b.Node(context.Background())
	if err != nil || again != first || rec.calls.Load() != 1 {
		t.Fatalf("ready node not reused: %v, %v, calls=%d", again, err, rec.calls.Load())
	}
}

func TestNode_ServerIgnoresHints(t *testing.T) {
	rec := &recorder{}
	asked := false
	b := newBootstrapper(t, Config{
		Context:     ServerContext,
		NodeFactory: rec.factory,
		Hints: hintsFunc(func(context.Context) ([]string, error) {
			asked = true
			return []string{serverAddr}, nil
		}),
	})
	if _, err := b.Node(context.Background()); err != nil {
		t.Fatalf("Node: %v", err)
	}
	if asked || len(rec.lastOptions(t).Bootstrap) != 0 {
		t.Fatalf("server construction consulted bootstrap hints")
	}
}

func TestNode_ClientSeedsBootstrapFromHints(t *testing.T) {
	rec := &recorder{}
	b := newBootstrapper(t, Config{
		Context:     ClientContext,
		NodeFactory: rec.factory,
		Bootstrap:   []string{otherAddr},
		Hints: hintsFunc(func(context.Context) ([]string, error) {
			return []string{serverAddr, "not a multiaddr"}, nil
		}),
	})
	if _, err := b.Node(context.Background()); err != nil {
		t.Fatalf("Node: %v", err)
	}
	opts := rec.lastOptions(t)
	if len(opts.Bootstrap) != 2 || opts.Bootstrap[0] != otherAddr || opts.Bootstrap[1] != serverAddr {
		t.Fatalf("Bootstrap = %v", opts.Bootstrap)
	}
	if opts.Relay.Enabled || opts.Dialable {
		t.Fatalf("client node options = %+v", opts)
	}
	if !opts.Pubsub {
		t.Fatalf("client node built without pubsub")
	}
}

func TestNode_ClientWithoutHintsProceeds(t *testing.T) {
	rec := &recorder{}
	b := newBootstrapper(t, Config{
		Context:     ClientContext,
		NodeFactory: rec.factory,
		Hints: hintsFunc(func(context.Context) ([]string, error) {
			return nil, errors.New("status endpoint: 404 Not Found")
		}),
	})
	if _, err := b.Node(context.Background()); err != nil {
		t.Fatalf("Node: %v", err)
	}
	if got := rec.lastOptions(t).Bootstrap; len(got) != 0 {
		t.Fatalf("Bootstrap = %v, want none", got)
	}
}

func TestNode_FailureIsSharedAndRetryable(t *testing.T) {
	boom := errors.New("repo locked")
	rec := &recorder{err: boom}
	b := newBootstrapper(t, Config{Context: ServerContext, NodeFactory: rec.factory})

	_, err := b.Node(context.Background())
	var ie *InitializationError
	if !errors.As(err, &ie) || ie.Resource != state.StorageNode || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want InitializationError wrapping %v", err, boom)
	}
	if !IsInitialization(err) {
		t.Fatalf("IsInitialization = false")
	}
	if b.State().Node.State() != lazy.Unset {
		t.Fatalf("failed node left state %s", b.State().Node.State())
	}

	rec.mu.Lock()
	rec.err = nil
	rec.mu.Unlock()
	if _, err := b.Node(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := rec.calls.Load(); got != 2 {
		t.Fatalf("factory called %d times, want 2", got)
	}
}

func TestDatabase_BuildsNodeOnce(t *testing.T) {
	rec := &recorder{}
	var dbCalls atomic.Int32
	b := newBootstrapper(t, Config{
		Context:     ServerContext,
		NodeFactory: rec.factory,
		DBFactory: func(ctx context.Context, n node.Node) (orbit.DB, error) {
			dbCalls.Add(1)
			return orbittest.New(n.ID()), nil
		},
	})

	var wg sync.WaitGroup
	dbs := make([]orbit.DB, 8)
	for i := range dbs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			db, err := b.Database(context.Background())
			if err != nil {
				t.Errorf("Database: %v", err)
			}
			dbs[i] = db
		}(i)
	}
	wg.Wait()
	for _, db := range dbs[1:] {
		if db != dbs[0] {
			t.Fatalf("callers observed different databases")
		}
	}
	if rec.calls.Load() != 1 || dbCalls.Load() != 1 {
		t.Fatalf("node calls=%d db calls=%d, want 1/1", rec.calls.Load(), dbCalls.Load())
	}
	if dbs[0].Identity() != "peer" {
		t.Fatalf("database identity = %q", dbs[0].Identity())
	}
}

func TestDatabase_NodeFailurePropagates(t *testing.T) {
	rec := &recorder{err: errors.New("no network")}
	b := newBootstrapper(t, Config{Context: ServerContext, NodeFactory: rec.factory})
	_, err := b.Database(context.Background())
	var ie *InitializationError
	if !errors.As(err, &ie) || ie.Resource != state.Database {
		t.Fatalf("err = %v, want database InitializationError", err)
	}
	if b.State().DB.State() != lazy.Unset {
		t.Fatalf("database left %s after failure", b.State().DB.State())
	}
}

func TestNode_InterruptedBootstrapIsClosedOnTeardown(t *testing.T) {
	rec := &recorder{gate: make(chan struct{})}
	b := newBootstrapper(t, Config{Context: ServerContext, NodeFactory: rec.factory})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := b.Node(ctx)
		errc <- err
	}()
	waitPending(t, b)
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("interrupted caller: %v", err)
	}

	if err := b.State().Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	close(rec.gate)

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec.mu.Lock()
		n := rec.last
		rec.mu.Unlock()
		if n != nil && n.Closed() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("node built after teardown was never closed")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := b.Node(context.Background()); !errors.Is(err, lazy.ErrClosed) {
		t.Fatalf("Node after Close: %v", err)
	}
	if _, err := b.Database(context.Background()); !errors.Is(err, lazy.ErrClosed) {
		t.Fatalf("Database after Close: %v", err)
	}
	if got := rec.calls.Load(); got != 1 {
		t.Fatalf("factory calls = %d, want 1", got)
	}
}

func TestConnectToBackend(t *testing.T) {
	t.Run("no hints", func(t *testing.T) {
		rec := &recorder{}
		b := newBootstrapper(t, Config{NodeFactory: rec.factory})
		if err := b.ConnectToBackend(context.Background()); err != nil {
			t.Fatalf("ConnectToBackend: %v", err)
		}
	})

	t.Run("first success wins", func(t *testing.T) {
		rec := &recorder{}
		b := newBootstrapper(t, Config{
			NodeFactory: rec.factory,
			Hints: hintsFunc(func(context.Context) ([]string, error) {
				return []string{serverAddr, otherAddr}, nil
			}),
		})
		n, err := b.Node(context.Background())
		if err != nil {
			t.Fatalf("Node: %v", err)
		}
		n.(*nodetest.Node).FailConnect(otherAddr, node.ErrUnreachable)
		if err := b.ConnectToBackend(context.Background()); err != nil {
			t.Fatalf("ConnectToBackend: %v", err)
		}
	})

	t.Run("all fail", func(t *testing.T) {
		rec := &recorder{}
		b := newBootstrapper(t, Config{
			NodeFactory: rec.factory,
			Hints: hintsFunc(func(context.Context) ([]string, error) {
				return []string{serverAddr}, nil
			}),
		})
		n, err := b.Node(context.Background())
		if err != nil {
			t.Fatalf("Node: %v", err)
		}
		n.(*nodetest.Node).FailConnect(serverAddr, node.ErrUnreachable)
		if err := b.ConnectToBackend(context.Background()); !errors.Is(err, node.ErrUnreachable) {
			t.Fatalf("err = %v, want ErrUnreachable", err)
		}
	})
}
