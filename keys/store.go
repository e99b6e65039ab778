package keys

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// KeyStore keeps node seeds as hex files under Directory.
type KeyStore struct {
	Directory string
}

// DefaultDirectory is ~/.boards/keys.
func DefaultDirectory() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".boards", "keys"), nil
}

func NewKeyStore(directory string) (*KeyStore, error) {
	if directory == "" {
		var err error
		if directory, err = DefaultDirectory(); err != nil {
			return nil, err
		}
	}
	return &KeyStore{Directory: directory}, nil
}

// CheckKeyName accepts [A-Za-z0-9_-]+.
func CheckKeyName(name string) error {
	if name == "" {
		return errors.New("keys: name cannot be empty")
	}
	for _, c := range name {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_' {
			continue
		}
		return fmt.Errorf("keys: invalid character %q in name", c)
	}
	return nil
}

// ParseSeedHex decodes a hex seed, tolerating whitespace and a 0x prefix.
func ParseSeedHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != ed25519.SeedSize {
		return nil, ErrInvalidSeedLen
	}
	return b, nil
}

// LoadOrCreate returns the key stored under name, generating and saving a
// new one when none exists yet.
func (ks *KeyStore) LoadOrCreate(name string) (*Key, error) {
	if err := CheckKeyName(name); err != nil {
		return nil, err
	}
	path := ks.path(name)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		seed, err := ParseSeedHex(string(data))
		if err != nil {
			return nil, fmt.Errorf("keys: %s: %w", path, err)
		}
		return FromSeed(seed)
	case !errors.Is(err, os.ErrNotExist):
		return nil, err
	}

	k, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			// Lost a race with another process; use its key.
			return ks.LoadOrCreate(name)
		}
		return nil, err
	}
	defer f.Close()
	if _, err := f.WriteString(hex.EncodeToString(k.Seed()) + "\n"); err != nil {
		return nil, err
	}
	return k, f.Close()
}

func (ks *KeyStore) path(name string) string {
	return filepath.Join(ks.Directory, name+".key")
}
