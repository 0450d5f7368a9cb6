package channel

import (
	"context"
	"sync"
)

// Broadcast fans each published message out to every subscriber. Each
// subscriber sees messages in publish order; there is no ordering guarantee
// across subscribers.
type Broadcast[T any] struct {
	mu     sync.Mutex
	subs   []*Channel[T]
	closed bool
}

// NewBroadcast creates an empty broadcast group.
func NewBroadcast[T any]() *Broadcast[T] {
	return &Broadcast[T]{}
}

// Subscribe registers a new subscriber with its own bounded buffer.
// Subscribing to a closed group returns an already-closed channel.
func (b *Broadcast[T]) Subscribe(capacity int) *Channel[T] {
	ch := New[T](capacity)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		ch.Close()
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers msg to every live subscriber, blocking on slow ones until
// ctx is done. Subscribers that were closed by their owner are dropped.
func (b *Broadcast[T]) Publish(ctx context.Context, msg T) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	subs := make([]*Channel[T], len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Send(ctx, msg); err != nil {
			if err == ErrClosed {
				b.remove(sub)
				continue
			}
			return err
		}
	}
	return nil
}

// TryPublish delivers msg to every subscriber that has room and reports how
// many subscribers were skipped because they were full.
func (b *Broadcast[T]) TryPublish(msg T) (dropped int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0
	}
	live := b.subs[:0]
	for _, sub := range b.subs {
		switch err := sub.TrySend(msg); err {
		case nil:
			live = append(live, sub)
		case ErrFull:
			dropped++
			live = append(live, sub)
		}
	}
	b.subs = live
	return dropped
}

// Close closes every subscriber. Idempotent.
func (b *Broadcast[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		sub.Close()
	}
	b.subs = nil
}

// Subscribers returns the number of live subscribers.
func (b *Broadcast[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcast[T]) remove(target *Channel[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub == target {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}
