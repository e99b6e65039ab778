package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/multiformats/go-multihash"
	"golang.org/x/crypto/sha3"
)

var (
	ErrInvalidPeerID  = errors.New("keys: invalid peer id")
	ErrBadSignature   = errors.New("keys: signature verification failed")
	ErrInvalidSeedLen = fmt.Errorf("keys: seed must be %d bytes", ed25519.SeedSize)
)

// Key is a node identity key.
type Key struct {
	priv ed25519.PrivateKey
}

// Generate returns a fresh random key.
func Generate() (*Key, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	return FromSeed(seed)
}

// FromSeed derives the key for an Ed25519 seed.
func FromSeed(seed []byte) (*Key, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, ErrInvalidSeedLen
	}
	return &Key{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

// Seed returns a copy of the key's seed.
func (k *Key) Seed() []byte { return append([]byte(nil), k.priv.Seed()...) }

// Public returns the public half of the key.
func (k *Key) Public() ed25519.PublicKey { return k.priv.Public().(ed25519.PublicKey) }

// PeerID returns the node identifier derived from the public key.
func (k *Key) PeerID() string {
	id, _ := PeerIDFromPublicKey(k.Public())
	return id
}

// Sign signs sha3-256(msg).
func (k *Key) Sign(msg []byte) []byte {
	d := sha3.Sum256(msg)
	return ed25519.Sign(k.priv, d[:])
}

// PeerIDFromPublicKey encodes pub as a base58 identity multihash.
func PeerIDFromPublicKey(pub ed25519.PublicKey) (string, error) {
	mh, err := multihash.Sum(pub, multihash.IDENTITY, -1)
	if err != nil {
		return "", err
	}
	return mh.B58String(), nil
}

// PublicKeyFromPeerID recovers the public key embedded in a peer ID.
func PublicKeyFromPeerID(peerID string) (ed25519.PublicKey, error) {
	mh, err := multihash.FromB58String(peerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPeerID, err)
	}
	dec, err := multihash.Decode(mh)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPeerID, err)
	}
	if dec.Code != multihash.IDENTITY || len(dec.Digest) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: not an ed25519 identity hash", ErrInvalidPeerID)
	}
	return ed25519.PublicKey(dec.Digest), nil
}

// Verify checks that sig was produced by the key behind peerID over msg.
func Verify(peerID string, msg, sig []byte) error {
	pub, err := PublicKeyFromPeerID(peerID)
	if err != nil {
		return err
	}
	d := sha3.Sum256(msg)
	if !ed25519.Verify(pub, d[:], sig) {
		return ErrBadSignature
	}
	return nil
}
