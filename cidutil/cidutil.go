package cidutil

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// IPFSPrefix and IPNSPrefix are the namespaces understood by ParsePath.
const (
	IPFSPrefix = "/ipfs/"
	IPNSPrefix = "/ipns/"
)

var ErrInvalidPath = errors.New("cidutil: invalid content path")

// CIDv1RawSHA256 returns a CIDv1 string using the "raw" multicodec
// and a sha2-256 multihash.
func CIDv1RawSHA256(data []byte) string {
	id, err := CIDv1RawSHA256CID(data)
	if err != nil {
		return ""
	}
	return id.String()
}

// CIDv1RawSHA256CID returns a CIDv1 (raw + sha2-256) derived from data.
func CIDv1RawSHA256CID(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// Path is a parsed content path.
//
// Exactly one of Root (for /ipfs/ paths and bare CIDs) or Name (for /ipns/
// paths) is set. Segments holds the remaining path components.
type Path struct {
	Root     cid.Cid
	Name     string
	Segments []string
}

// IsName reports whether the path must be resolved through a name record first.
func (p Path) IsName() bool { return p.Name != "" }

func (p Path) String() string {
	var b strings.Builder
	if p.IsName() {
		b.WriteString(IPNSPrefix)
		b.WriteString(p.Name)
	} else {
		b.WriteString(IPFSPrefix)
		b.WriteString(p.Root.String())
	}
	for _, s := range p.Segments {
		b.WriteByte('/')
		b.WriteString(s)
	}
	return b.String()
}

// ParsePath accepts "/ipfs/<cid>/a/b", "<cid>/a/b" and "/ipns/<name>/a/b".
func ParsePath(s string) (Path, error) {
	s = strings.TrimSpace(s)
	var isName bool
	switch {
	case strings.HasPrefix(s, IPFSPrefix):
		s = strings.TrimPrefix(s, IPFSPrefix)
	case strings.HasPrefix(s, IPNSPrefix):
		s = strings.TrimPrefix(s, IPNSPrefix)
		isName = true
	case strings.HasPrefix(s, "/"):
		return Path{}, fmt.Errorf("%w: unknown namespace in %q", ErrInvalidPath, s)
	}

	parts := splitSegments(s)
	if len(parts) == 0 {
		return Path{}, fmt.Errorf("%w: empty root", ErrInvalidPath)
	}
	p := Path{Segments: parts[1:]}
	if isName {
		p.Name = parts[0]
		return p, nil
	}
	root, err := cid.Decode(parts[0])
	if err != nil {
		return Path{}, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	p.Root = root
	return p, nil
}

// Join appends segments to a content path string.
func Join(base string, segments ...string) string {
	out := strings.TrimRight(base, "/")
	for _, s := range segments {
		for _, part := range splitSegments(s) {
			out += "/" + part
		}
	}
	return out
}

// FormatIPFS returns the canonical "/ipfs/<cid>" path for id.
func FormatIPFS(id cid.Cid) string { return IPFSPrefix + id.String() }

func splitSegments(s string) []string {
	raw := strings.Split(s, "/")
	out := raw[:0]
	for _, p := range raw {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
