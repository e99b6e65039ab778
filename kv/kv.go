// Package kv is the persisted settings shim: a string key/value store with
// the same three operations in every execution context.
package kv

import (
	"encoding/json"
	"sync"
)

// Store is a string key/value store.
type Store interface {
	GetItem(key string) (string, bool)
	SetItem(key, value string) error
	RemoveItem(key string) error
}

// FavouriteBoardsKey holds a JSON array of board IDs.
const FavouriteBoardsKey = "favouriteBoards"

// Defaults seeds a fresh in-memory store.
func Defaults() map[string]string {
	return map[string]string{FavouriteBoardsKey: `["general","test"]`}
}

// Memory is an in-process Store.
type Memory struct {
	mu    sync.RWMutex
	items map[string]string
}

var _ Store = (*Memory)(nil)

// NewMemory returns a store pre-populated with Defaults.
func NewMemory() *Memory {
	return &Memory{items: Defaults()}
}

// NewEmptyMemory returns a store with no items, for data that is not
// settings.
func NewEmptyMemory() *Memory {
	return &Memory{items: map[string]string{}}
}

func (m *Memory) GetItem(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	return v, ok
}

func (m *Memory) SetItem(key, value string) error {
	m.mu.Lock()
	m.items[key] = value
	m.mu.Unlock()
	return nil
}

func (m *Memory) RemoveItem(key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

// GetJSON decodes the value under key into out. It reports false when the
// key is absent.
func GetJSON(s Store, key string, out any) (bool, error) {
	v, ok := s.GetItem(key)
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal([]byte(v), out)
}

// SetJSON encodes v and stores it under key.
func SetJSON(s Store, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.SetItem(key, string(b))
}
