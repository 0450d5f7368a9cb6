// ============================================================================
// isopool Message Channel
// ============================================================================
//
// Package: internal/channel
// File: channel.go
// Purpose: Ordered, capacity-bounded conduit between two execution contexts
//
// Semantics:
//   - Send blocks while the buffer is full; TrySend fails with ErrFull
//   - Receive is strict FIFO and suspends until a message arrives or the
//     channel is closed
//   - Close is idempotent; after Close, receivers drain what is buffered and
//     then get ErrEndOfStream
//
// Why not a bare Go chan:
//   A closed Go chan panics on send and cannot be closed twice. Workers and
//   the supervisor close each other's conduits from different goroutines, so
//   the state lives behind a mutex and waiters are woken through a
//   broadcast channel that is replaced on every state change.
//
// ============================================================================

package channel

import (
	"context"
	"errors"
	"sync"

	"github.com/ChuLiYu/isopool/pkg/types"
)

var (
	// ErrFull is returned by TrySend when the buffer is at capacity.
	ErrFull = types.ErrFull
	// ErrClosed is returned when sending on a closed channel.
	ErrClosed = errors.New("channel is closed")
	// ErrEndOfStream is returned by Receive once a closed channel is drained.
	ErrEndOfStream = errors.New("end of stream")
)

// Sender is the producer end of a Channel.
type Sender[T any] interface {
	Send(ctx context.Context, msg T) error
	TrySend(msg T) error
	Close()
}

// Receiver is the consumer end of a Channel.
type Receiver[T any] interface {
	Receive(ctx context.Context) (T, error)
	TryReceive() (T, bool, error)
}

// Channel is a bounded FIFO queue safe for one producer and one consumer
// (and tolerant of more).
type Channel[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int
	size     int
	closed   bool
	changed  chan struct{}
	capacity int
}

// New creates a channel holding at most capacity messages.
// A capacity below 1 is treated as 1.
func New[T any](capacity int) *Channel[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Channel[T]{
		buf:      make([]T, capacity),
		changed:  make(chan struct{}),
		capacity: capacity,
	}
}

// Sender returns the producer end.
func (c *Channel[T]) Sender() Sender[T] { return c }

// Receiver returns the consumer end.
func (c *Channel[T]) Receiver() Receiver[T] { return c }

// Send enqueues msg, waiting for space when the buffer is full.
func (c *Channel[T]) Send(ctx context.Context, msg T) error {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return ErrClosed
		}
		if c.size < c.capacity {
			c.pushLocked(msg)
			c.mu.Unlock()
			return nil
		}
		wait := c.changed
		c.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TrySend enqueues msg without blocking.
func (c *Channel[T]) TrySend(msg T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.size >= c.capacity {
		return ErrFull
	}
	c.pushLocked(msg)
	return nil
}

// Receive dequeues the oldest message, waiting until one is available.
func (c *Channel[T]) Receive(ctx context.Context) (T, error) {
	for {
		msg, ok, err := c.TryReceive()
		if ok || err != nil {
			return msg, err
		}

		c.mu.Lock()
		// re-check under the lock so a send between TryReceive and here is not missed
		if c.size > 0 || c.closed {
			c.mu.Unlock()
			continue
		}
		wait := c.changed
		c.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// TryReceive dequeues the oldest message if one is buffered. It returns
// ErrEndOfStream once the channel is closed and empty.
func (c *Channel[T]) TryReceive() (T, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	if c.size == 0 {
		if c.closed {
			return zero, false, ErrEndOfStream
		}
		return zero, false, nil
	}

	msg := c.buf[c.head]
	c.buf[c.head] = zero
	c.head = (c.head + 1) % c.capacity
	c.size--
	c.notifyLocked()
	return msg, true, nil
}

// Close marks the channel closed. Calling it more than once is a no-op.
func (c *Channel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.notifyLocked()
}

// Len returns the number of buffered messages.
func (c *Channel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Cap returns the channel capacity.
func (c *Channel[T]) Cap() int { return c.capacity }

// Closed reports whether Close has been called.
func (c *Channel[T]) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel[T]) pushLocked(msg T) {
	c.buf[(c.head+c.size)%c.capacity] = msg
	c.size++
	c.notifyLocked()
}

// notifyLocked wakes every goroutine parked on the current changed channel.
func (c *Channel[T]) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}
