// Package orbit defines the replicated database layered on a storage node:
// named, append-only, access-controlled stores that converge across peers.
package orbit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"

	"xdao.co/boards/node"
)

// AddressPrefix starts every full store address.
const AddressPrefix = "/orbitdb/"

// Anyone in a write list grants write access to every identity.
const Anyone = "*"

var (
	ErrInvalidAddress = errors.New("orbit: invalid store address")
	ErrNotFound       = errors.New("orbit: store not found")
	ErrTypeMismatch   = errors.New("orbit: store type mismatch")
	ErrNotWritable    = errors.New("orbit: identity has no write access")
	ErrClosed         = errors.New("orbit: closed")
)

// DB opens stores on behalf of one identity.
type DB interface {
	// Identity is the ID entries written through this DB are authored by.
	Identity() string
	// Open opens (and with Create, creates) the store named by storeID,
	// which is either a plain name or a full address.
	Open(ctx context.Context, storeID string, opts OpenOptions) (Store, error)
	Close() error
}

// OpenOptions controls Open.
type OpenOptions struct {
	Create bool
	// Type the store must have. Empty accepts any existing type; on create
	// it defaults to "eventlog".
	Type string
	// Write lists identities allowed to append. Empty means only the
	// opening identity.
	Write []string
}

// Store is one opened replicated log.
type Store interface {
	Address() string
	Name() string
	Type() string

	// Load reads the persisted log and starts replicating with peers.
	Load(ctx context.Context) error
	// Add appends payload and returns the new entry hash.
	Add(ctx context.Context, payload []byte) (string, error)
	// Entries returns the log in causal order.
	Entries() []Entry
	OpLogLength() int

	// Access returns the write list.
	Access() []string
	// Writable reports whether the DB identity may append.
	Writable() bool

	Close() error
}

// Entry is one log record.
type Entry struct {
	Hash    string   `json:"-"`
	Store   string   `json:"store"`
	Author  string   `json:"author"`
	Payload []byte   `json:"payload"`
	Next    []string `json:"next,omitempty"`
	Clock   uint64   `json:"clock"`
}

// Factory builds a DB over a storage node.
type Factory func(ctx context.Context, n node.Node) (DB, error)

// StoreID is a parsed store identifier. Manifest is undefined for plain names.
type StoreID struct {
	Manifest cid.Cid
	Name     string
}

func (id StoreID) IsAddress() bool { return id.Manifest.Defined() }

func (id StoreID) String() string {
	if !id.IsAddress() {
		return id.Name
	}
	return FormatAddress(id.Manifest, id.Name)
}

// FormatAddress renders "/orbitdb/<manifest>/<name>".
func FormatAddress(manifest cid.Cid, name string) string {
	return AddressPrefix + manifest.String() + "/" + name
}

// ParseStoreID accepts a plain name (no "/") or a full address.
func ParseStoreID(s string) (StoreID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return StoreID{}, fmt.Errorf("%w: empty identifier", ErrInvalidAddress)
	}
	if !strings.Contains(s, "/") {
		return StoreID{Name: s}, nil
	}
	if !strings.HasPrefix(s, AddressPrefix) {
		return StoreID{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	parts := strings.Split(strings.TrimPrefix(s, AddressPrefix), "/")
	if len(parts) != 2 || parts[1] == "" {
		return StoreID{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	c, err := cid.Decode(parts[0])
	if err != nil {
		return StoreID{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, s, err)
	}
	return StoreID{Manifest: c, Name: parts[1]}, nil
}

// CanWrite reports whether identity appears in write, directly or via Anyone.
func CanWrite(write []string, identity string) bool {
	for _, w := range write {
		if w == Anyone || w == identity {
			return true
		}
	}
	return false
}
