package node

import "errors"

var (
	ErrNotFound       = errors.New("node: not found")
	ErrNameNotFound   = errors.New("node: name record not found")
	ErrUnreachable    = errors.New("node: peer unreachable")
	ErrInvalidAddr    = errors.New("node: invalid multiaddr")
	ErrIsDirectory    = errors.New("node: path is a directory")
	ErrNotDirectory   = errors.New("node: path is not a directory")
	ErrPubsubDisabled = errors.New("node: pubsub disabled")
	ErrClosed         = errors.New("node: closed")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrNameNotFound)
}
