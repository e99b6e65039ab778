package kv

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// File is a Store persisted as one JSON object. Every write rewrites the
// file via a temp file and rename.
type File struct {
	path  string
	mu    sync.RWMutex
	items map[string]string
}

var _ Store = (*File)(nil)

// OpenFile loads path, treating a missing file as empty.
func OpenFile(path string) (*File, error) {
	f := &File{path: path, items: map[string]string{}}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, &f.items); err != nil {
		return nil, err
	}
	if f.items == nil {
		f.items = map[string]string{}
	}
	return f, nil
}

func (f *File) GetItem(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.items[key]
	return v, ok
}

func (f *File) SetItem(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev, had := f.items[key]
	f.items[key] = value
	if err := f.flush(); err != nil {
		if had {
			f.items[key] = prev
		} else {
			delete(f.items, key)
		}
		return err
	}
	return nil
}

func (f *File) RemoveItem(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev, had := f.items[key]
	if !had {
		return nil
	}
	delete(f.items, key)
	if err := f.flush(); err != nil {
		f.items[key] = prev
		return err
	}
	return nil
}

func (f *File) flush() error {
	b, err := json.MarshalIndent(f.items, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer func() { _ = os.Remove(name) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(name, f.path)
}
