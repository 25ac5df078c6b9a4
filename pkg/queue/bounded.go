// Package queue provides the blocking primitives that connect pipeline stages
package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/jzx17/triageflow/pkg/types"
)

// Bounded is a fixed-capacity FIFO buffer. Put blocks while the buffer is
// full and Take blocks while it is empty; both give up when their context is
// cancelled without changing the buffer.
type Bounded[T any] struct {
	// spaces holds one token per free slot, items one token per resident value.
	// A token is always acquired before the ring is touched under mu.
	spaces chan struct{}
	items  chan struct{}

	mu    sync.Mutex
	slots []T
	head  int
	count int
}

// NewBounded creates a buffer holding at most capacity values
func NewBounded[T any](capacity int) (*Bounded[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("bounded queue: %w, got %d", types.ErrInvalidCapacity, capacity)
	}

	b := &Bounded[T]{
		spaces: make(chan struct{}, capacity),
		items:  make(chan struct{}, capacity),
		slots:  make([]T, capacity),
	}
	for i := 0; i < capacity; i++ {
		b.spaces <- struct{}{}
	}
	return b, nil
}

// Put inserts v, blocking until a slot is free
func (b *Bounded[T]) Put(ctx context.Context, v T) error {
	if err := ctx.Err(); err != nil {
		return types.Interrupted(err)
	}

	select {
	case <-b.spaces:
	case <-ctx.Done():
		return types.Interrupted(ctx.Err())
	}

	b.mu.Lock()
	tail := (b.head + b.count) % len(b.slots)
	b.slots[tail] = v
	b.count++
	b.mu.Unlock()

	// cannot block: one items token per occupied slot
	b.items <- struct{}{}
	return nil
}

// Take removes and returns the oldest value, blocking until one exists
func (b *Bounded[T]) Take(ctx context.Context) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, types.Interrupted(err)
	}

	select {
	case <-b.items:
	case <-ctx.Done():
		return zero, types.Interrupted(ctx.Err())
	}

	return b.pop(), nil
}

// TryTake removes the oldest value if one is immediately available
func (b *Bounded[T]) TryTake() (T, bool) {
	var zero T
	select {
	case <-b.items:
	default:
		return zero, false
	}

	return b.pop(), true
}

// pop removes the head. The caller holds an items token.
func (b *Bounded[T]) pop() T {
	var zero T

	b.mu.Lock()
	v := b.slots[b.head]
	b.slots[b.head] = zero
	b.head = (b.head + 1) % len(b.slots)
	b.count--
	b.mu.Unlock()

	b.spaces <- struct{}{}
	return v
}

// Len returns the number of resident values
func (b *Bounded[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the capacity
func (b *Bounded[T]) Cap() int {
	return len(b.slots)
}
