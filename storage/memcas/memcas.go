package memcas

import (
	"sync"

	"github.com/ipfs/go-cid"

	"xdao.co/boards/cidutil"
	"xdao.co/boards/storage"
)

// CAS keeps blocks in process memory. It backs client-like nodes, which have
// no durable repository, and tests.
type CAS struct {
	mu     sync.RWMutex
	blocks map[cid.Cid][]byte
}

var _ storage.CAS = (*CAS)(nil)

func New() *CAS {
	return &CAS{blocks: map[cid.Cid][]byte{}}
}

func (c *CAS) Put(b []byte) (cid.Cid, error) {
	id, err := cidutil.CIDv1RawSHA256CID(b)
	if err != nil {
		return cid.Undef, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.blocks[id]; ok {
		if string(existing) != string(b) {
			return cid.Undef, storage.ErrImmutable
		}
		return id, nil
	}
	c.blocks[id] = append([]byte(nil), b...)
	return id, nil
}

func (c *CAS) Get(id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	c.mu.RLock()
	b, ok := c.blocks[id]
	c.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (c *CAS) Has(id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.blocks[id]
	return ok
}

// Len returns the number of stored blocks.
func (c *CAS) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blocks)
}
