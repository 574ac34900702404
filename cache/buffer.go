package cache

import (
	"context"
	"sync"
)

// buffer is the append-only sequence shared by a producer/subscriber pair
// at any level of the cache hierarchy (track's segments, segment's
// fragments, fragment's chunks). Appends never block; reads suspend on
// cond until the requested index is available or the buffer is closed.
type buffer[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
	err    *Error
}

func newBuffer[T any]() *buffer[T] {
	b := &buffer[T]{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// append adds item to the end of the sequence and wakes any blocked
// readers. A no-op once the buffer is closed: producers are expected to
// stop writing after closing their own handle.
func (b *buffer[T]) append(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.items = append(b.items, item)
	b.cond.Broadcast()
}

// close marks the buffer closed with err (defaulting to ErrClosed), and
// wakes every blocked reader so it can observe the closure. Idempotent.
func (b *buffer[T]) close(err *Error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if err == nil {
		err = ErrClosed
	}
	b.closed = true
	b.err = err
	b.cond.Broadcast()
}

// at blocks until index idx is available, the buffer closes, or ctx is
// done, and returns the item or the closure/cancellation error.
func (b *buffer[T]) at(ctx context.Context, idx int) (T, error) {
	var zero T

	if ctx != nil && ctx.Err() != nil {
		return zero, ctx.Err()
	}

	var stop func() bool
	if ctx != nil {
		stop = context.AfterFunc(ctx, func() {
			b.mu.Lock()
			b.cond.Broadcast()
			b.mu.Unlock()
		})
		defer stop()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for idx >= len(b.items) {
		if ctx != nil {
			if err := ctx.Err(); err != nil {
				return zero, err
			}
		}
		if b.closed {
			return zero, b.err
		}
		b.cond.Wait()
	}
	return b.items[idx], nil
}

// len returns the current number of appended items.
func (b *buffer[T]) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
