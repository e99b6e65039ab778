package blockstore

import (
	"errors"
	"fmt"

	"xdao.co/boards/storage"
)

// Config selects the block stores behind a node.
//
// WritePolicy values:
//   - "first" (default): write to the first backend, read in order
//   - "all": write to every backend and require matching CIDs
//
// Example:
//
//	{
//	  "write_policy": "all",
//	  "backends": [
//	    {"name": "localfs", "settings": {"dir": "/var/lib/boards/blocks"}},
//	    {"name": "kubo", "settings": {"ipfs-path": "/var/lib/ipfs", "pin": "true"}}
//	  ]
//	}
type Config struct {
	WritePolicy string          `json:"write_policy,omitempty"`
	Backends    []BackendConfig `json:"backends"`
}

type BackendConfig struct {
	Name string `json:"name"`
	// ID names the backend in per-backend reports; Name when empty.
	ID       string            `json:"id,omitempty"`
	Settings map[string]string `json:"settings,omitempty"`
}

func (b BackendConfig) id() string {
	if b.ID != "" {
		return b.ID
	}
	return b.Name
}

func (c Config) Validate() error {
	if len(c.Backends) == 0 {
		return errors.New("blockstore: at least one backend is required")
	}
	seen := make(map[string]struct{}, len(c.Backends))
	for _, b := range c.Backends {
		if b.Name == "" {
			return errors.New("blockstore: backend name is required")
		}
		if _, ok := seen[b.id()]; ok {
			return fmt.Errorf("blockstore: duplicate backend id %q", b.id())
		}
		seen[b.id()] = struct{}{}
	}
	switch c.WritePolicy {
	case "", "first", "all":
		return nil
	default:
		return fmt.Errorf("blockstore: invalid write_policy %q", c.WritePolicy)
	}
}

// Open opens every configured backend and combines them per WritePolicy.
// The returned close function closes backends in reverse order.
func (c Config) Open() (storage.CAS, func() error, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	named := make([]storage.Named, 0, len(c.Backends))
	var closers []func() error
	closeAll := func() error {
		var first error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	for _, b := range c.Backends {
		cas, closeFn, err := OpenBackend(b.Name, b.Settings)
		if err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		named = append(named, storage.Named{Name: b.id(), CAS: cas})
		if closeFn != nil {
			closers = append(closers, closeFn)
		}
	}

	if len(named) == 1 {
		return named[0].CAS, closeAll, nil
	}
	if c.WritePolicy == "all" {
		return storage.Mirror{Backends: named}, closeAll, nil
	}
	return storage.Fallback{Backends: named}, closeAll, nil
}
