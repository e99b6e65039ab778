package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ipfs/go-cid"

	"xdao.co/boards/cidutil"
	"xdao.co/boards/node"
	"xdao.co/boards/storage"
)

// Directory blocks start with dirMagic followed by the JSON link list.
var dirMagic = []byte("\x00boards-dir\n")

type dirBlock struct {
	Links []node.Link `json:"links"`
}

func encodeDir(links []node.Link) ([]byte, error) {
	b, err := json.Marshal(dirBlock{Links: links})
	if err != nil {
		return nil, err
	}
	return append(append([]byte(nil), dirMagic...), b...), nil
}

func decodeDir(b []byte) ([]node.Link, bool, error) {
	if !bytes.HasPrefix(b, dirMagic) {
		return nil, false, nil
	}
	var d dirBlock
	if err := json.Unmarshal(b[len(dirMagic):], &d); err != nil {
		return nil, true, fmt.Errorf("local: corrupt directory block: %w", err)
	}
	return d.Links, true, nil
}

func (n *Node) Add(ctx context.Context, data []byte) (string, error) {
	if err := n.check(ctx); err != nil {
		return "", err
	}
	if bytes.HasPrefix(data, dirMagic) {
		return "", fmt.Errorf("local: file content collides with directory encoding")
	}
	id, err := n.blocks.Put(data)
	if err != nil {
		return "", err
	}
	return cidutil.FormatIPFS(id), nil
}

func (n *Node) AddDirectory(ctx context.Context, links []node.Link) (string, error) {
	if err := n.check(ctx); err != nil {
		return "", err
	}
	sorted := make([]node.Link, 0, len(links))
	seen := map[string]bool{}
	for _, l := range links {
		if l.Name == "" || bytes.ContainsRune([]byte(l.Name), '/') {
			return "", fmt.Errorf("local: invalid link name %q", l.Name)
		}
		if seen[l.Name] {
			return "", fmt.Errorf("local: duplicate link name %q", l.Name)
		}
		seen[l.Name] = true
		p, err := cidutil.ParsePath(l.Address)
		if err != nil {
			return "", err
		}
		if p.IsName() || len(p.Segments) > 0 {
			return "", fmt.Errorf("local: link %q must point at an immutable root, got %q", l.Name, l.Address)
		}
		sorted = append(sorted, node.Link{Name: l.Name, Address: cidutil.FormatIPFS(p.Root)})
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	b, err := encodeDir(sorted)
	if err != nil {
		return "", err
	}
	id, err := n.blocks.Put(b)
	if err != nil {
		return "", err
	}
	return cidutil.FormatIPFS(id), nil
}

func (n *Node) Fetch(ctx context.Context, path string) ([]byte, error) {
	if err := n.check(ctx); err != nil {
		return nil, err
	}
	id, err := n.walk(ctx, path)
	if err != nil {
		return nil, err
	}
	b, err := n.block(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, isDir, _ := decodeDir(b); isDir {
		return nil, fmt.Errorf("%w: %s", node.ErrIsDirectory, path)
	}
	return b, nil
}

func (n *Node) ListDirectory(ctx context.Context, path string) ([]node.Link, error) {
	if err := n.check(ctx); err != nil {
		return nil, err
	}
	id, err := n.walk(ctx, path)
	if err != nil {
		return nil, err
	}
	b, err := n.block(ctx, id)
	if err != nil {
		return nil, err
	}
	links, isDir, err := decodeDir(b)
	if err != nil {
		return nil, err
	}
	if !isDir {
		return nil, fmt.Errorf("%w: %s", node.ErrNotDirectory, path)
	}
	return links, nil
}

// walk resolves a content path to the CID of its last segment.
func (n *Node) walk(ctx context.Context, path string) (cid.Cid, error) {
	p, err := cidutil.ParsePath(path)
	if err != nil {
		return cid.Undef, err
	}
	if p.IsName() {
		target, err := n.ResolveName(ctx, p.Name)
		if err != nil {
			return cid.Undef, err
		}
		resolved, err := cidutil.ParsePath(target)
		if err != nil {
			return cid.Undef, err
		}
		p.Root = resolved.Root
		p.Segments = append(resolved.Segments, p.Segments...)
		p.Name = ""
	}

	cur := p.Root
	for _, seg := range p.Segments {
		b, err := n.block(ctx, cur)
		if err != nil {
			return cid.Undef, err
		}
		links, isDir, err := decodeDir(b)
		if err != nil {
			return cid.Undef, err
		}
		if !isDir {
			return cid.Undef, fmt.Errorf("%w: %s has no child %q", node.ErrNotDirectory, cur, seg)
		}
		next := cid.Undef
		for _, l := range links {
			if l.Name == seg {
				lp, err := cidutil.ParsePath(l.Address)
				if err != nil {
					return cid.Undef, err
				}
				next = lp.Root
				break
			}
		}
		if !next.Defined() {
			return cid.Undef, fmt.Errorf("%w: %s", node.ErrNotFound, path)
		}
		cur = next
	}
	return cur, nil
}

// block reads a block locally or, failing that, from a peer at most two hops
// away. Blocks fetched from peers are kept in the local store.
func (n *Node) block(ctx context.Context, id cid.Cid) ([]byte, error) {
	b, err := n.blocks.Get(id)
	if err == nil {
		return b, nil
	}
	if !storage.IsNotFound(err) {
		return nil, err
	}
	for _, p := range n.reachable() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := p.blocks.Get(id)
		if err != nil {
			continue
		}
		if _, err := n.blocks.Put(b); err != nil {
			n.log.WithError(err).WithField("cid", id.String()).Debug("caching fetched block failed")
		}
		return b, nil
	}
	return nil, fmt.Errorf("%w: block %s", node.ErrNotFound, id)
}
