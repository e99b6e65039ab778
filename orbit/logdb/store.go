package logdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"xdao.co/boards/cidutil"
	"xdao.co/boards/kv"
	"xdao.co/boards/node"
	"xdao.co/boards/orbit"
)

// Store is one append-only log.
type Store struct {
	db      *DB
	address string
	m       manifest
	log     *logrus.Entry

	mu         sync.Mutex
	closed     bool
	subscribed bool
	entries    map[string]orbit.Entry
	heads      []string
}

var _ orbit.Store = (*Store)(nil)

type announcement struct {
	Heads []string `json:"heads"`
}

func newStore(db *DB, address string, m manifest) *Store {
	return &Store{
		db:      db,
		address: address,
		m:       m,
		log:     db.log.WithField("store", address),
		entries: map[string]orbit.Entry{},
	}
}

func (s *Store) Address() string { return s.address }
func (s *Store) Name() string    { return s.m.Name }
func (s *Store) Type() string    { return s.m.Type }

func (s *Store) Access() []string { return append([]string(nil), s.m.Write...) }

func (s *Store) Writable() bool { return orbit.CanWrite(s.m.Write, s.db.Identity()) }

// Load reads the persisted heads and their history, subscribes to the
// store topic and announces the local heads to peers.
func (s *Store) Load(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	var heads []string
	if _, err := kv.GetJSON(s.db.heads, headsKey(s.address), &heads); err != nil {
		return fmt.Errorf("logdb: %s: persisted heads: %w", s.address, err)
	}
	if err := s.merge(ctx, heads, true); err != nil {
		return err
	}

	s.mu.Lock()
	needSub := !s.subscribed
	s.mu.Unlock()
	if needSub {
		if err := s.db.ps.Subscribe(ctx, s.address, s.onAnnouncement); err != nil {
			return fmt.Errorf("logdb: %s: subscribe: %w", s.address, err)
		}
		s.mu.Lock()
		s.subscribed = true
		s.mu.Unlock()
	}
	s.announce(ctx)
	s.log.WithField("entries", s.OpLogLength()).Debug("store loaded")
	return nil
}

// Add appends payload authored by the DB identity.
func (s *Store) Add(ctx context.Context, payload []byte) (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}
	if !s.Writable() {
		return "", fmt.Errorf("%w: %s on %s", orbit.ErrNotWritable, s.db.Identity(), s.address)
	}

	s.mu.Lock()
	e := orbit.Entry{
		Store:   s.address,
		Author:  s.db.Identity(),
		Payload: append([]byte(nil), payload...),
		Next:    append([]string(nil), s.heads...),
		Clock:   s.maxClockLocked() + 1,
	}
	s.mu.Unlock()

	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	path, err := s.db.pub.Add(ctx, b)
	if err != nil {
		return "", err
	}
	p, err := cidutil.ParsePath(path)
	if err != nil {
		return "", err
	}
	e.Hash = p.Root.String()

	s.mu.Lock()
	s.entries[e.Hash] = e
	s.recomputeHeadsLocked()
	err = s.persistHeadsLocked()
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	s.announce(ctx)
	return e.Hash, nil
}

// Entries returns entries ordered by clock, ties broken by hash.
func (s *Store) Entries() []orbit.Entry {
	s.mu.Lock()
	out := make([]orbit.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Clock != out[j].Clock {
			return out[i].Clock < out[j].Clock
		}
		return out[i].Hash < out[j].Hash
	})
	return out
}

func (s *Store) OpLogLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Heads returns the current log heads.
func (s *Store) Heads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.heads...)
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sub := s.subscribed
	s.subscribed = false
	s.mu.Unlock()

	s.db.forget(s.address)
	if sub {
		if err := s.db.ps.Unsubscribe(s.address); err != nil {
			return fmt.Errorf("logdb: %s: unsubscribe: %w", s.address, err)
		}
	}
	return nil
}

func (s *Store) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return orbit.ErrClosed
	}
	return nil
}

// merge fetches every entry reachable from heads that is not yet known.
// With strict set, a missing or invalid entry fails the merge; otherwise
// it is skipped.
func (s *Store) merge(ctx context.Context, heads []string, strict bool) error {
	s.mu.Lock()
	known := make(map[string]bool, len(s.entries))
	for h := range s.entries {
		known[h] = true
	}
	s.mu.Unlock()

	fetched := map[string]orbit.Entry{}
	queue := append([]string(nil), heads...)
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if known[h] {
			continue
		}
		known[h] = true

		e, err := s.fetchEntry(ctx, h)
		if err != nil {
			if strict {
				return err
			}
			s.log.WithError(err).WithField("entry", h).Debug("skipping entry")
			continue
		}
		fetched[h] = e
		queue = append(queue, e.Next...)
	}
	if len(fetched) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for h, e := range fetched {
		s.entries[h] = e
	}
	s.recomputeHeadsLocked()
	return s.persistHeadsLocked()
}

func (s *Store) fetchEntry(ctx context.Context, hash string) (orbit.Entry, error) {
	b, err := s.db.node.Fetch(ctx, cidutil.IPFSPrefix+hash)
	if err != nil {
		return orbit.Entry{}, fmt.Errorf("logdb: entry %s: %w", hash, err)
	}
	var e orbit.Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return orbit.Entry{}, fmt.Errorf("logdb: entry %s: %w", hash, err)
	}
	if e.Store != s.address {
		return orbit.Entry{}, fmt.Errorf("logdb: entry %s belongs to %q", hash, e.Store)
	}
	if !orbit.CanWrite(s.m.Write, e.Author) {
		return orbit.Entry{}, fmt.Errorf("%w: entry %s by %s", orbit.ErrNotWritable, hash, e.Author)
	}
	e.Hash = hash
	return e, nil
}

func (s *Store) onAnnouncement(msg node.Message) {
	if s.check() != nil {
		return
	}
	var a announcement
	if err := json.Unmarshal(msg.Data, &a); err != nil {
		s.log.WithError(err).WithField("from", msg.From).Debug("bad head announcement")
		return
	}
	ctx := context.Background()
	if err := s.merge(ctx, a.Heads, false); err != nil {
		s.log.WithError(err).WithField("from", msg.From).Debug("merging heads failed")
		return
	}
	if !sameSet(a.Heads, s.Heads()) {
		s.announce(ctx)
	}
}

func (s *Store) announce(ctx context.Context) {
	b, err := json.Marshal(announcement{Heads: s.Heads()})
	if err != nil {
		return
	}
	if err := s.db.ps.Publish(ctx, s.address, b); err != nil {
		s.log.WithError(err).Debug("announcing heads failed")
	}
}

func (s *Store) maxClockLocked() uint64 {
	var hi uint64
	for _, e := range s.entries {
		if e.Clock > hi {
			hi = e.Clock
		}
	}
	return hi
}

func (s *Store) recomputeHeadsLocked() {
	referenced := map[string]bool{}
	for _, e := range s.entries {
		for _, n := range e.Next {
			referenced[n] = true
		}
	}
	heads := make([]string, 0, 1)
	for h := range s.entries {
		if !referenced[h] {
			heads = append(heads, h)
		}
	}
	sort.Strings(heads)
	s.heads = heads
}

func (s *Store) persistHeadsLocked() error {
	return kv.SetJSON(s.db.heads, headsKey(s.address), s.heads)
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	m := make(map[string]bool, len(a))
	for _, x := range a {
		m[x] = true
	}
	for _, x := range b {
		if !m[x] {
			return false
		}
	}
	return true
}
