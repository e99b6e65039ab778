package storage

import (
	"fmt"

	"github.com/ipfs/go-cid"

	"xdao.co/boards/cidutil"
)

// Named pairs a block store with the backend name it was opened from.
type Named struct {
	Name string
	CAS  CAS
}

// Fallback writes to the first backend and reads from each backend in order.
//
// Order is the slice order; a node typically lists its fast local store
// first and slower shared stores after it.
type Fallback struct {
	Backends []Named
}

var _ CAS = Fallback{}

func (f Fallback) Put(b []byte) (cid.Cid, error) {
	if len(f.Backends) == 0 {
		return cid.Undef, ErrNoBackends
	}
	return f.Backends[0].CAS.Put(b)
}

func (f Fallback) Get(id cid.Cid) ([]byte, error) { return getInOrder(f.Backends, id) }

func (f Fallback) Has(id cid.Cid) bool { return hasAny(f.Backends, id) }

// Mirror writes every block to all backends and insists they agree on the CID.
type Mirror struct {
	Backends []Named
}

var _ CAS = Mirror{}

// PutAll writes b to every backend and returns the per-backend CIDs.
func (m Mirror) PutAll(b []byte) (cid.Cid, map[string]cid.Cid, error) {
	if len(m.Backends) == 0 {
		return cid.Undef, nil, ErrNoBackends
	}
	want, err := cidutil.CIDv1RawSHA256CID(b)
	if err != nil {
		return cid.Undef, nil, err
	}
	got := make(map[string]cid.Cid, len(m.Backends))
	for _, n := range m.Backends {
		if n.CAS == nil {
			return cid.Undef, nil, fmt.Errorf("storage: backend %q is nil", n.Name)
		}
		id, err := n.CAS.Put(b)
		if err != nil {
			return cid.Undef, got, fmt.Errorf("storage: backend %q: %w", n.Name, err)
		}
		got[n.Name] = id
		if id != want {
			return cid.Undef, got, ErrCIDMismatch
		}
	}
	return want, got, nil
}

func (m Mirror) Put(b []byte) (cid.Cid, error) {
	id, _, err := m.PutAll(b)
	return id, err
}

func (m Mirror) Get(id cid.Cid) ([]byte, error) { return getInOrder(m.Backends, id) }

func (m Mirror) Has(id cid.Cid) bool { return hasAny(m.Backends, id) }

func getInOrder(backends []Named, id cid.Cid) ([]byte, error) {
	for _, n := range backends {
		if n.CAS == nil {
			continue
		}
		b, err := n.CAS.Get(id)
		if err == nil {
			return b, nil
		}
		if !IsNotFound(err) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func hasAny(backends []Named, id cid.Cid) bool {
	for _, n := range backends {
		if n.CAS != nil && n.CAS.Has(id) {
			return true
		}
	}
	return false
}
