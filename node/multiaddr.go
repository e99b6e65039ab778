package node

import (
	"fmt"

	ma "github.com/multiformats/go-multiaddr"
)

// PeerIDFromAddr validates a multiaddr and returns its /p2p/ component.
func PeerIDFromAddr(addr string) (string, error) {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddr, err)
	}
	id, err := m.ValueForProtocol(ma.P_P2P)
	if err != nil {
		return "", fmt.Errorf("%w: %q has no /p2p component", ErrInvalidAddr, addr)
	}
	return id, nil
}

// WithPeerID appends /p2p/<id> to a transport multiaddr.
func WithPeerID(transport, id string) (string, error) {
	m, err := ma.NewMultiaddr(transport + "/p2p/" + id)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddr, err)
	}
	return m.String(), nil
}

// ValidAddrs drops entries that do not parse, returning the rest in order.
func ValidAddrs(addrs []string) (valid []string, invalid []string) {
	for _, a := range addrs {
		if _, err := PeerIDFromAddr(a); err != nil {
			invalid = append(invalid, a)
			continue
		}
		valid = append(valid, a)
	}
	return valid, invalid
}
