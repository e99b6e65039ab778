package state

import (
	"fmt"
	"sort"
	"sync"
)

// Compat is the outcome of a peer's version handshake.
type Compat int

const (
	Unknown Compat = iota
	Compatible
	Incompatible
	Unresolved
)

func (c Compat) String() string {
	switch c {
	case Unknown:
		return "unknown"
	case Compatible:
		return "verified-compatible"
	case Incompatible:
		return "verified-incompatible"
	case Unresolved:
		return "unresolved"
	default:
		return "invalid"
	}
}

func (c Compat) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Compat) UnmarshalText(b []byte) error {
	for v := Unknown; v <= Unresolved; v++ {
		if v.String() == string(b) {
			*c = v
			return nil
		}
	}
	return fmt.Errorf("state: unknown classification %q", b)
}

// IdentityRecord maps a handle to its resolved address and that address's
// classification.
type IdentityRecord struct {
	Handle  string `json:"handle"`
	Address string `json:"address"`
	Status  Compat `json:"status"`
}

// IdentityCache keeps handle -> address mappings and per-address
// classifications. Failures are never stored as mappings.
type IdentityCache struct {
	mu      sync.RWMutex
	addrs   map[string]string
	classes map[string]Compat
}

func NewIdentityCache() *IdentityCache {
	return &IdentityCache{addrs: map[string]string{}, classes: map[string]Compat{}}
}

// Address returns the cached address for handle.
func (c *IdentityCache) Address(handle string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.addrs[handle]
	return a, ok
}

// SetAddress records handle's address and reports whether it changed.
func (c *IdentityCache) SetAddress(handle, address string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.addrs[handle]
	c.addrs[handle] = address
	return !ok || prev != address
}

// Lookup returns the record for handle; absent handles are Unresolved.
func (c *IdentityCache) Lookup(handle string) IdentityRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.addrs[handle]
	if !ok {
		return IdentityRecord{Handle: handle, Status: Unresolved}
	}
	return IdentityRecord{Handle: handle, Address: a, Status: c.classes[a]}
}

// Classification returns the status recorded for address.
func (c *IdentityCache) Classification(address string) Compat {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.classes[address]
}

// Classify atomically replaces address's status with update(current) and
// returns the stored value.
func (c *IdentityCache) Classify(address string, update func(Compat) Compat) Compat {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := update(c.classes[address])
	c.classes[address] = next
	return next
}

// Records returns a copy of every handle mapping, sorted by handle.
func (c *IdentityCache) Records() []IdentityRecord {
	c.mu.RLock()
	out := make([]IdentityRecord, 0, len(c.addrs))
	for h, a := range c.addrs {
		out = append(out, IdentityRecord{Handle: h, Address: a, Status: c.classes[a]})
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}
