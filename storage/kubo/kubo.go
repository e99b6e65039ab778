package kubo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ipfs/go-cid"

	"xdao.co/boards/cidutil"
	"xdao.co/boards/storage"
)

// CAS stores blocks in a local Kubo repository by shelling out to the
// "ipfs" binary. It lets a server-like node share its blocks with a Kubo
// daemon running on the same host.
//
// Blocks are written as raw sha2-256 CIDv1 so the CIDs match cidutil.
type CAS struct {
	bin     string
	env     []string
	pin     bool
	timeout time.Duration
}

var _ storage.CAS = (*CAS)(nil)

type Options struct {
	// Bin is the ipfs binary; "ipfs" when empty.
	Bin string
	// Env replaces the command environment (e.g. to set IPFS_PATH) when non-nil.
	Env []string
	// Pin pins every block written.
	Pin bool
	// Timeout bounds each command; zero means no limit.
	Timeout time.Duration
}

func New(opts Options) *CAS {
	bin := opts.Bin
	if bin == "" {
		bin = "ipfs"
	}
	return &CAS{bin: bin, env: opts.Env, pin: opts.Pin, timeout: opts.Timeout}
}

func (c *CAS) Put(data []byte) (cid.Cid, error) {
	want, err := cidutil.CIDv1RawSHA256CID(data)
	if err != nil {
		return cid.Undef, err
	}

	args := []string{"block", "put", "--quiet", "--cid-codec=raw", "--mhtype=sha2-256", "--mhlen=32"}
	if c.pin {
		args = append(args, "--pin=true")
	}
	out, err := c.run(data, args...)
	if err != nil {
		return cid.Undef, err
	}

	got, err := cid.Decode(strings.TrimSpace(string(out)))
	if err != nil {
		return cid.Undef, fmt.Errorf("kubo: unexpected block put output: %w", err)
	}
	if got != want {
		return cid.Undef, storage.ErrCIDMismatch
	}
	return want, nil
}

func (c *CAS) Get(id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	out, err := c.run(nil, "block", "get", id.String())
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	got, err := cidutil.CIDv1RawSHA256CID(out)
	if err != nil {
		return nil, err
	}
	if got != id {
		return nil, storage.ErrCIDMismatch
	}
	return out, nil
}

func (c *CAS) Has(id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	_, err := c.run(nil, "block", "stat", "--offline", id.String())
	return err == nil
}

func (c *CAS) run(stdin []byte, args ...string) ([]byte, error) {
	ctx := context.Background()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, c.bin, args...)
	if c.env != nil {
		cmd.Env = c.env
	}
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	out, err := cmd.Output()
	if err == nil {
		return out, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if s := strings.TrimSpace(string(ee.Stderr)); s != "" {
			return nil, fmt.Errorf("kubo: %s", s)
		}
	}
	return nil, fmt.Errorf("kubo: %w", err)
}

func isNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "could not find")
}
