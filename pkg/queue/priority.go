package queue

import (
	"container/heap"
	"context"
	"sort"
	"sync"

	"github.com/jzx17/triageflow/pkg/types"
)

// Prioritized is implemented by values stored in a Priority queue
type Prioritized interface {
	Priority() types.Priority
}

// entry wraps a value with its arrival sequence
type entry[T Prioritized] struct {
	value    T
	priority types.Priority
	seq      uint64
}

// entryHeap is a max-heap by priority, FIFO within the same priority
type entryHeap[T Prioritized] []*entry[T]

// Len implements heap.Interface
func (h entryHeap[T]) Len() int { return len(h) }

// Less implements heap.Interface - higher priority first, earlier arrival first
func (h entryHeap[T]) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

// Swap implements heap.Interface
func (h entryHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push implements heap.Interface
func (h *entryHeap[T]) Push(x interface{}) {
	*h = append(*h, x.(*entry[T]))
}

// Pop implements heap.Interface
func (h *entryHeap[T]) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[0 : n-1]
	return item
}

// Priority is an unbounded queue that always yields its most urgent value.
// Add never blocks; Take blocks while the queue is empty.
type Priority[T Prioritized] struct {
	mu      sync.Mutex
	heap    entryHeap[T]
	nextSeq uint64

	// notify is closed and replaced on every Add to wake all waiters
	notify chan struct{}
}

// NewPriority creates an empty priority queue
func NewPriority[T Prioritized]() *Priority[T] {
	return &Priority[T]{
		heap:   make(entryHeap[T], 0),
		notify: make(chan struct{}),
	}
}

// Add inserts v. The priority is read once, at insertion.
func (q *Priority[T]) Add(v T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextSeq++
	heap.Push(&q.heap, &entry[T]{value: v, priority: v.Priority(), seq: q.nextSeq})

	close(q.notify)
	q.notify = make(chan struct{})
}

// Take removes and returns the highest priority value
func (q *Priority[T]) Take(ctx context.Context) (T, error) {
	var zero T

	for {
		if err := ctx.Err(); err != nil {
			return zero, types.Interrupted(err)
		}

		q.mu.Lock()
		if len(q.heap) > 0 {
			e := heap.Pop(&q.heap).(*entry[T])
			q.mu.Unlock()
			return e.value, nil
		}
		wake := q.notify
		q.mu.Unlock()

		// another taker may win the value after the wake, so loop and re-check
		select {
		case <-wake:
		case <-ctx.Done():
			return zero, types.Interrupted(ctx.Err())
		}
	}
}

// Snapshot returns the resident values in the order Take would return them.
// The slice is independent of the queue.
func (q *Priority[T]) Snapshot() []T {
	q.mu.Lock()
	entries := make([]*entry[T], len(q.heap))
	copy(entries, q.heap)
	q.mu.Unlock()

	ordered := entryHeap[T](entries)
	sort.Slice(ordered, ordered.Less)

	values := make([]T, len(ordered))
	for i, e := range ordered {
		values[i] = e.value
	}
	return values
}

// Len returns the number of resident values
func (q *Priority[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}
