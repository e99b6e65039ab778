package local

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"xdao.co/boards/cidutil"
	"xdao.co/boards/keys"
	"xdao.co/boards/node"
)

// nameRecord points a peer's name at an immutable path.
type nameRecord struct {
	Value string
	Seq   uint64
	Sig   []byte
}

func recordPayload(value string, seq uint64) []byte {
	return []byte(value + "\x00" + strconv.FormatUint(seq, 10))
}

func (r nameRecord) verify(name string) error {
	return keys.Verify(name, recordPayload(r.Value, r.Seq), r.Sig)
}

// PublishName signs a new record for this node and pushes it to connected peers.
func (n *Node) PublishName(ctx context.Context, path string) error {
	if err := n.check(ctx); err != nil {
		return err
	}
	p, err := cidutil.ParsePath(path)
	if err != nil {
		return err
	}
	if p.IsName() {
		return fmt.Errorf("local: name must point at an /ipfs/ path, got %q", path)
	}
	value := p.String()

	n.mu.Lock()
	seq := uint64(1)
	if n.own != nil {
		seq = n.own.Seq + 1
	}
	rec := nameRecord{Value: value, Seq: seq, Sig: n.key.Sign(recordPayload(value, seq))}
	n.own = &rec
	n.mu.Unlock()

	for _, p := range n.connected() {
		p.storeRecord(n.id, rec)
	}
	n.log.WithField("value", value).WithField("seq", seq).Debug("name published")
	return nil
}

func (n *Node) storeRecord(name string, rec nameRecord) {
	if rec.verify(name) != nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if cur, ok := n.records[name]; ok && cur.Seq >= rec.Seq {
		return
	}
	n.records[name] = rec
}

func (n *Node) recordFor(name string) (nameRecord, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if name == n.id {
		if n.own == nil {
			return nameRecord{}, false
		}
		return *n.own, true
	}
	rec, ok := n.records[name]
	return rec, ok
}

// ResolveName looks for the freshest valid record among this node, its
// connected peers, and their peers.
func (n *Node) ResolveName(ctx context.Context, name string) (string, error) {
	if err := n.check(ctx); err != nil {
		return "", err
	}
	name = strings.TrimPrefix(name, cidutil.IPNSPrefix)
	if _, err := keys.PublicKeyFromPeerID(name); err != nil {
		return "", fmt.Errorf("%w: %s: %v", node.ErrNameNotFound, name, err)
	}

	var best *nameRecord
	consider := func(holder *Node) {
		rec, ok := holder.recordFor(name)
		if !ok || rec.verify(name) != nil {
			return
		}
		if best == nil || rec.Seq > best.Seq {
			r := rec
			best = &r
		}
	}

	consider(n)
	for _, p := range n.reachable() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		consider(p)
	}

	if best == nil {
		return "", fmt.Errorf("%w: %s", node.ErrNameNotFound, name)
	}
	if name != n.id {
		n.storeRecord(name, *best)
	}
	return best.Value, nil
}
