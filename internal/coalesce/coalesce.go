// Package coalesce shares one in-flight request per key among all callers
// and bounds it with a hard deadline.
package coalesce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

var (
	// ErrTimeout is returned when no response arrived before the deadline.
	ErrTimeout = errors.New("request timed out")
	// ErrFailed is returned when the peer reported failure for the key.
	ErrFailed = errors.New("request failed")
)

// Future is the shared outcome of one coalesced request. It settles once.
type Future[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) settle(v T, err error) bool {
	settled := false
	f.once.Do(func() {
		f.value, f.err = v, err
		close(f.done)
		settled = true
	})
	return settled
}

// Done is closed when the future settles.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Result returns the outcome. It must only be called after Done is closed.
func (f *Future[T]) Result() (T, error) { return f.value, f.err }

// Wait blocks until the future settles or ctx is done. Abandoning a wait
// does not cancel the request for other callers.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

type pending[T any] struct {
	future *Future[T]
	timer  *clock.Timer
}

// DispatchFunc sends the underlying request for key.
type DispatchFunc func(key string) error

// Coalescer deduplicates requests by key. At most one pending entry exists
// per key; a second Query for the same key gets the same Future.
type Coalescer[T any] struct {
	mu       sync.Mutex
	pending  map[string]*pending[T]
	dispatch DispatchFunc
	timeout  time.Duration
	clock    clock.Clock
}

// New creates a Coalescer that calls dispatch for each new key and rejects
// with ErrTimeout after timeout.
func New[T any](dispatch DispatchFunc, timeout time.Duration, clk clock.Clock) *Coalescer[T] {
	if clk == nil {
		clk = clock.New()
	}
	return &Coalescer[T]{
		pending:  make(map[string]*pending[T]),
		dispatch: dispatch,
		timeout:  timeout,
		clock:    clk,
	}
}

// Query returns the pending future for key, creating and dispatching it
// when none exists.
func (c *Coalescer[T]) Query(key string) *Future[T] {
	c.mu.Lock()
	if p, ok := c.pending[key]; ok {
		c.mu.Unlock()
		return p.future
	}
	p := &pending[T]{future: newFuture[T]()}
	c.pending[key] = p
	p.timer = c.clock.AfterFunc(c.timeout, func() {
		c.settle(key, p, *new(T), fmt.Errorf("query %s: %w", key, ErrTimeout))
	})
	c.mu.Unlock()

	if err := c.dispatch(key); err != nil {
		c.settle(key, p, *new(T), fmt.Errorf("query %s: %w", key, err))
	}
	return p.future
}

// Resolve settles the pending request for key with v. It returns false when
// nothing was pending, so late or duplicate responses are ignored.
func (c *Coalescer[T]) Resolve(key string, v T) bool {
	return c.settleKey(key, v, nil)
}

// Reject settles the pending request for key with ErrFailed wrapped around
// reason.
func (c *Coalescer[T]) Reject(key string, reason string) bool {
	var zero T
	return c.settleKey(key, zero, fmt.Errorf("query %s: %w: %s", key, ErrFailed, reason))
}

// Pending reports whether a request for key is in flight.
func (c *Coalescer[T]) Pending(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[key]
	return ok
}

func (c *Coalescer[T]) settleKey(key string, v T, err error) bool {
	c.mu.Lock()
	p, ok := c.pending[key]
	c.mu.Unlock()
	if !ok {
		return false
	}
	return c.settle(key, p, v, err)
}

// settle removes p only if it is still the entry for key, so a timer from an
// old entry never clears a newer one.
func (c *Coalescer[T]) settle(key string, p *pending[T], v T, err error) bool {
	c.mu.Lock()
	if cur, ok := c.pending[key]; ok && cur == p {
		delete(c.pending, key)
	}
	c.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
	return p.future.settle(v, err)
}
