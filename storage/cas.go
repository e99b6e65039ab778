package storage

import "github.com/ipfs/go-cid"

// CAS is the block store behind a storage node.
//
// Contract:
// - Put MUST be idempotent.
// - Stored blocks MUST be immutable.
// - Block CIDs are CIDv1 raw + sha2-256 of the stored bytes.
// - Get MUST return ErrNotFound when the CID is absent.
type CAS interface {
	Put(bytes []byte) (cid.Cid, error)
	Get(id cid.Cid) ([]byte, error)
	Has(id cid.Cid) bool
}
