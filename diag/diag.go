// Package diag builds point-in-time snapshots of the process state for
// status pages and the info endpoint. It never constructs or changes
// anything.
package diag

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"xdao.co/boards/bootstrap"
	"xdao.co/boards/lazy"
	"xdao.co/boards/node"
	"xdao.co/boards/state"
)

// Snapshot is a copy of the process state. Fields never alias live data.
type Snapshot struct {
	Session  string    `json:"session"`
	Taken    time.Time `json:"taken"`
	Uptime   string    `json:"uptime"`
	IsServer bool      `json:"isServer"`

	NodeReady   bool     `json:"ipfsReady"`
	NodeLoading bool     `json:"ipfsLoading"`
	DBReady     bool     `json:"orbitDbReady"`
	DBLoading   bool     `json:"orbitDbLoading"`
	OpenBoards  []string `json:"openBoards"`

	NodeID     string              `json:"nodeId,omitempty"`
	Multiaddrs []string            `json:"multiaddrs"`
	Peers      []string            `json:"ipfsPeers"`
	Pubsub     map[string][]string `json:"pubsub"`

	Boards     []Board                `json:"boards"`
	Identities []state.IdentityRecord `json:"identities"`
}

// Board describes one registered board store.
type Board struct {
	ID          string   `json:"id"`
	Address     string   `json:"address"`
	Type        string   `json:"type"`
	Loaded      bool     `json:"loaded"`
	OpLogLength int      `json:"opLogLength"`
	Access      []string `json:"access"`
	Writeable   bool     `json:"writeable"`
	Peers       []string `json:"peers"`
}

// Reporter builds snapshots and remembers the latest one.
type Reporter struct {
	st       *state.State
	isServer bool
	log      *logrus.Entry

	mu   sync.Mutex
	last *Snapshot
}

func New(st *state.State, ec bootstrap.Context, log *logrus.Entry) *Reporter {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Reporter{st: st, isServer: ec == bootstrap.ServerContext, log: log.WithField("component", "diag")}
}

// Snapshot reads the state flags, then queries the node (when ready) for
// peers and pubsub membership concurrently. A failed query leaves its
// field empty.
func (r *Reporter) Snapshot(ctx context.Context) Snapshot {
	now := time.Now().UTC()
	s := Snapshot{
		Session:     r.st.Session.String(),
		Taken:       now,
		Uptime:      now.Sub(r.st.Started).Round(time.Second).String(),
		IsServer:    r.isServer,
		NodeReady:   r.st.Node.State() == lazy.Ready,
		NodeLoading: r.st.Node.State() == lazy.Pending,
		DBReady:     r.st.DB.State() == lazy.Ready,
		DBLoading:   r.st.DB.State() == lazy.Pending,
		OpenBoards:  []string{},
		Multiaddrs:  []string{},
		Peers:       []string{},
		Pubsub:      map[string][]string{},
		Boards:      []Board{},
		Identities:  r.st.Identities.Records(),
	}

	open := r.st.OpenBoards()
	for _, b := range open {
		s.OpenBoards = append(s.OpenBoards, b.ID)
	}

	if n, ok := r.st.Node.Peek(); ok {
		s.NodeID = n.ID()
		s.Multiaddrs = n.Addrs()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			s.Peers = r.peers(gctx, n)
			return nil
		})
		g.Go(func() error {
			s.Pubsub = r.pubsub(gctx, n)
			return nil
		})
		_ = g.Wait()
	}

	for _, b := range open {
		peers := append([]string{}, s.Pubsub[b.Store.Address()]...)
		s.Boards = append(s.Boards, Board{
			ID:          b.ID,
			Address:     b.Store.Address(),
			Type:        b.Store.Type(),
			Loaded:      b.Loaded,
			OpLogLength: b.Store.OpLogLength(),
			Access:      b.Store.Access(),
			Writeable:   b.Store.Writable(),
			Peers:       peers,
		})
	}

	r.mu.Lock()
	cp := s
	r.last = &cp
	r.mu.Unlock()
	return s
}

// Last returns the most recent snapshot.
func (r *Reporter) Last() (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Snapshot{}, false
	}
	return *r.last, true
}

func (r *Reporter) peers(ctx context.Context, n node.Node) []string {
	ps, err := n.Peers(ctx)
	if err != nil {
		r.log.WithError(err).Debug("peer list unavailable")
		return []string{}
	}
	return append([]string{}, ps...)
}

func (r *Reporter) pubsub(ctx context.Context, n node.Node) map[string][]string {
	out := map[string][]string{}
	topics, err := n.Subscriptions(ctx)
	if err != nil {
		r.log.WithError(err).Debug("pubsub topics unavailable")
		return out
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, topic := range topics {
		topic := topic
		g.Go(func() error {
			subs, err := n.Subscribers(gctx, topic)
			if err != nil {
				r.log.WithError(err).WithField("topic", topic).Debug("topic subscribers unavailable")
				subs = nil
			}
			subs = append([]string{}, subs...)
			sort.Strings(subs)
			mu.Lock()
			out[topic] = subs
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
