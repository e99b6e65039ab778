package blockstore

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"xdao.co/boards/storage"
	"xdao.co/boards/storage/kubo"
	"xdao.co/boards/storage/localfs"
	"xdao.co/boards/storage/memcas"
)

// Backend opens one kind of block store from string settings.
type Backend struct {
	Name        string
	Description string

	// Open builds the store. The returned close function may be nil.
	Open func(settings map[string]string) (storage.CAS, func() error, error)
}

var (
	mu       sync.RWMutex
	backends = map[string]Backend{}
)

func init() {
	MustRegister(Backend{
		Name:        "memory",
		Description: "In-process block store (lost on exit)",
		Open: func(map[string]string) (storage.CAS, func() error, error) {
			return memcas.New(), nil, nil
		},
	})
	MustRegister(Backend{
		Name:        "localfs",
		Description: "Block repository in a local directory (setting: dir)",
		Open: func(s map[string]string) (storage.CAS, func() error, error) {
			dir := s["dir"]
			if dir == "" {
				return nil, nil, fmt.Errorf("blockstore: localfs requires setting %q", "dir")
			}
			cas, err := localfs.New(dir)
			return cas, nil, err
		},
	})
	MustRegister(Backend{
		Name:        "kubo",
		Description: "Local Kubo repository via the ipfs CLI (settings: bin, ipfs-path, pin, timeout)",
		Open: func(s map[string]string) (storage.CAS, func() error, error) {
			opts := kubo.Options{Bin: s["bin"]}
			if p := s["ipfs-path"]; p != "" {
				opts.Env = []string{"IPFS_PATH=" + p}
			}
			if v := s["pin"]; v != "" {
				pin, err := strconv.ParseBool(v)
				if err != nil {
					return nil, nil, fmt.Errorf("blockstore: kubo pin: %w", err)
				}
				opts.Pin = pin
			}
			if v := s["timeout"]; v != "" {
				d, err := time.ParseDuration(v)
				if err != nil {
					return nil, nil, fmt.Errorf("blockstore: kubo timeout: %w", err)
				}
				opts.Timeout = d
			}
			return kubo.New(opts), nil, nil
		},
	})
}

// Register adds a backend. Names must be unique.
func Register(b Backend) error {
	if b.Name == "" {
		return fmt.Errorf("blockstore: backend name is required")
	}
	if b.Open == nil {
		return fmt.Errorf("blockstore: backend %q missing Open", b.Name)
	}
	mu.Lock()
	defer mu.Unlock()
	if _, exists := backends[b.Name]; exists {
		return fmt.Errorf("blockstore: backend %q already registered", b.Name)
	}
	backends[b.Name] = b
	return nil
}

// MustRegister is like Register but panics on error.
func MustRegister(b Backend) {
	if err := Register(b); err != nil {
		panic(err)
	}
}

// List returns registered backends sorted by name.
func List() []Backend {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Backend, 0, len(backends))
	for _, b := range backends {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// OpenBackend opens the named backend with settings.
func OpenBackend(name string, settings map[string]string) (storage.CAS, func() error, error) {
	mu.RLock()
	b, ok := backends[name]
	mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("blockstore: unknown backend %q", name)
	}
	return b.Open(settings)
}
