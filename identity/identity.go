// Package identity resolves user handles to content addresses and checks
// whether the content behind an address was published by a compatible
// version of the application.
package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"xdao.co/boards/cidutil"
	"xdao.co/boards/node"
	"xdao.co/boards/state"
)

// VersionFile is the marker every user root carries.
const VersionFile = "ipfs-boards-version.txt"

// DefaultVersion is used when Config.Version is empty.
const DefaultVersion = "dev"

const defaultTimeout = 30 * time.Second

// Nodes supplies the storage node.
type Nodes interface {
	Node(ctx context.Context) (node.Node, error)
}

type Config struct {
	// Version is compared with peers' version markers.
	Version string
	// Timeout bounds each background resolution and probe.
	Timeout time.Duration
	Log     *logrus.Entry
}

// Resolver resolves handles and classifies peers, caching results in the
// process state's identity cache.
type Resolver struct {
	st      *state.State
	nodes   Nodes
	version string
	timeout time.Duration
	log     *logrus.Entry

	revalidate singleflight.Group
	bg         sync.WaitGroup
}

func New(st *state.State, nodes Nodes, cfg Config) *Resolver {
	version := strings.TrimSpace(cfg.Version)
	if version == "" {
		version = DefaultVersion
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Resolver{
		st:      st,
		nodes:   nodes,
		version: version,
		timeout: timeout,
		log:     log.WithField("component", "identity"),
	}
}

func (r *Resolver) Version() string { return r.version }

// Lookup returns the cached record for handle without any network access.
func (r *Resolver) Lookup(handle string) state.IdentityRecord {
	return r.st.Identities.Lookup(normalize(handle))
}

func normalize(handle string) string {
	return strings.TrimPrefix(strings.TrimSpace(handle), cidutil.IPNSPrefix)
}

// Resolve returns the address for handle. A cached address is returned at
// once and refreshed in the background; otherwise the node's name records
// are consulted and the result cached.
func (r *Resolver) Resolve(ctx context.Context, handle string) (string, error) {
	handle = normalize(handle)
	if addr, ok := r.st.Identities.Address(handle); ok {
		r.refresh(ctx, handle)
		return addr, nil
	}

	n, err := r.nodes.Node(ctx)
	if err != nil {
		return "", &ResolutionError{Handle: handle, Err: err}
	}
	addr, err := n.ResolveName(ctx, handle)
	if err != nil {
		return "", &ResolutionError{Handle: handle, Err: err}
	}
	r.st.Identities.SetAddress(handle, addr)
	r.log.WithFields(logrus.Fields{"handle": handle, "address": addr}).Debug("handle resolved")
	return addr, nil
}

// refresh re-resolves handle in the background. At most one refresh per
// handle runs at a time.
func (r *Resolver) refresh(ctx context.Context, handle string) {
	r.bg.Add(1)
	go func() {
		defer r.bg.Done()
		_, _, _ = r.revalidate.Do(handle, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
			defer cancel()

			n, ok := r.st.Node.Peek()
			if !ok {
				return nil, nil
			}
			addr, err := n.ResolveName(ctx, handle)
			if err != nil {
				r.log.WithError(err).WithField("handle", handle).Debug("revalidation failed, keeping cached address")
				return nil, nil
			}
			if r.st.Identities.SetAddress(handle, addr) {
				r.log.WithFields(logrus.Fields{"handle": handle, "address": addr}).Info("handle moved to a new address")
			}
			return nil, nil
		})
	}()
}

// ClassifyPeer reads the version marker under address and records whether
// it matches this process's version. A marker that cannot be read marks the
// address incompatible unless it was already verified compatible. It reports
// whether the address is now recorded as compatible.
func (r *Resolver) ClassifyPeer(ctx context.Context, address string) bool {
	address = strings.TrimSuffix(strings.TrimSpace(address), "/")
	v, err := r.probe(ctx, address)
	if err != nil {
		r.log.WithError(err).Debug("version probe failed")
		got := r.st.Identities.Classify(address, func(cur state.Compat) state.Compat {
			if cur == state.Compatible {
				return cur
			}
			return state.Incompatible
		})
		return got == state.Compatible
	}

	status := state.Incompatible
	if v == r.version {
		status = state.Compatible
	}
	r.st.Identities.Classify(address, func(state.Compat) state.Compat { return status })
	r.log.WithFields(logrus.Fields{"address": address, "version": v, "status": status}).Debug("peer classified")
	return status == state.Compatible
}

func (r *Resolver) probe(ctx context.Context, address string) (string, error) {
	n, err := r.nodes.Node(ctx)
	if err != nil {
		return "", &ProbeFailure{Address: address, Err: err}
	}
	b, err := n.Fetch(ctx, address+"/"+VersionFile)
	if err != nil {
		return "", &ProbeFailure{Address: address, Err: err}
	}
	return strings.TrimSpace(string(b)), nil
}

// DiscoverPeers resolves and classifies every connected peer in the
// background. A failure for one peer affects no other. The returned count
// is the number of peers queued.
func (r *Resolver) DiscoverPeers(ctx context.Context) (int, error) {
	n, err := r.nodes.Node(ctx)
	if err != nil {
		return 0, err
	}
	peers, err := n.Peers(ctx)
	if err != nil {
		return 0, err
	}
	base := context.WithoutCancel(ctx)
	for _, p := range peers {
		r.bg.Add(1)
		go func(peer string) {
			defer r.bg.Done()
			ctx, cancel := context.WithTimeout(base, r.timeout)
			defer cancel()
			addr, err := r.Resolve(ctx, peer)
			if err != nil {
				r.log.WithError(err).WithField("peer", peer).Debug("peer has no resolvable name")
				return
			}
			r.ClassifyPeer(ctx, addr)
		}(p)
	}
	return len(peers), nil
}

// Wait blocks until background resolutions and probes have finished.
func (r *Resolver) Wait() { r.bg.Wait() }
