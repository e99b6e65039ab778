// Package lazy provides a single-flight once-cell for resources that are
// expensive to construct and must be shared by every caller.
//
// A Cell moves through unset -> pending -> ready, or back to unset when
// construction fails. While pending, every caller waits on the same
// construction and observes the same outcome. A failed construction leaves
// the cell unset so a later call may try again. A closed cell builds
// nothing more.
package lazy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// ErrClosed is returned by Get once the cell has been closed.
var ErrClosed = errors.New("lazy: cell closed")

// State is the observable phase of a Cell.
type State int

const (
	Unset State = iota
	Pending
	Ready
)

func (s State) String() string {
	switch s {
	case Unset:
		return "unset"
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// Cell holds one lazily constructed value. The zero value is an unset cell.
type Cell[T any] struct {
	mu      sync.Mutex
	val     T
	ready   bool
	pending bool
	closed  bool
	dispose func(T)
	flight  singleflight.Group
	waiters atomic.Int32
}

// Get returns the cell's value, constructing it with init if needed.
//
// init runs at most once at a time. It receives a context that keeps the
// first caller's values but is never cancelled, so a caller that gives up
// (ctx done) stops waiting without aborting the construction; the result
// still lands in the cell for later callers.
func (c *Cell[T]) Get(ctx context.Context, init func(context.Context) (T, error)) (T, error) {
	c.mu.Lock()
	if c.ready {
		v := c.val
		c.mu.Unlock()
		return v, nil
	}
	closed := c.closed
	c.mu.Unlock()
	if closed {
		var zero T
		return zero, ErrClosed
	}

	c.waiters.Add(1)
	defer c.waiters.Add(-1)

	detached := context.WithoutCancel(ctx)
	ch := c.flight.DoChan("", func() (any, error) {
		c.mu.Lock()
		if c.ready {
			v := c.val
			c.mu.Unlock()
			return v, nil
		}
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClosed
		}
		c.pending = true
		c.mu.Unlock()

		v, err := init(detached)

		c.mu.Lock()
		c.pending = false
		if err == nil && c.closed {
			dispose := c.dispose
			c.mu.Unlock()
			if dispose != nil {
				dispose(v)
			}
			return nil, ErrClosed
		}
		if err == nil {
			c.val = v
			c.ready = true
		}
		c.mu.Unlock()
		return v, err
	})

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			var zero T
			return zero, res.Err
		}
		v, _ := res.Val.(T)
		return v, nil
	}
}

// Peek returns the value without constructing it.
func (c *Cell[T]) Peek() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.val, c.ready
}

// State reports the current phase.
func (c *Cell[T]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.ready:
		return Ready
	case c.pending:
		return Pending
	default:
		return Unset
	}
}

// Waiters reports how many Get calls are waiting on a construction.
func (c *Cell[T]) Waiters() int { return int(c.waiters.Load()) }

// Close empties the cell and returns what it held, if ready. Later Gets fail
// with ErrClosed. A construction still running hands its value to dispose
// when it finishes instead of storing it; its waiters get ErrClosed.
func (c *Cell[T]) Close(dispose func(T)) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.val, c.ready
	var zero T
	c.val = zero
	c.ready = false
	c.closed = true
	c.dispose = dispose
	return v, ok
}

// Closed reports whether Close has been called.
func (c *Cell[T]) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Take empties a ready cell and returns what it held. A pending
// construction is not interrupted; it will fill the cell when it finishes.
func (c *Cell[T]) Take() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.val, c.ready
	var zero T
	c.val = zero
	c.ready = false
	return v, ok
}
