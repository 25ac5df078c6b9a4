// Package types defines the data model and the contracts between pipeline stages
package types

import (
	"context"
)

// Putter is the producer side of a blocking queue
type Putter[T any] interface {
	// Put blocks until v is accepted or ctx is cancelled
	Put(ctx context.Context, v T) error
}

// Taker is the consumer side of a blocking queue
type Taker[T any] interface {
	// Take blocks until a value is available or ctx is cancelled
	Take(ctx context.Context) (T, error)
}

// Adder inserts without blocking
type Adder[T any] interface {
	Add(v T)
}

// LineSink accepts result records for the durable log
type LineSink interface {
	// Enqueue blocks only under backpressure
	Enqueue(ctx context.Context, line string) error
}

// Classifier assigns a priority to an item
type Classifier interface {
	Classify(item *WorkItem) Priority
}

// ClassifierFunc adapts a function to Classifier
type ClassifierFunc func(item *WorkItem) Priority

// Classify implements Classifier
func (f ClassifierFunc) Classify(item *WorkItem) Priority {
	return f(item)
}

// OwnerAssigner picks the owner of an item that arrives without one
type OwnerAssigner interface {
	Assign(item *WorkItem) string
}

// OwnerAssignerFunc adapts a function to OwnerAssigner
type OwnerAssignerFunc func(item *WorkItem) string

// Assign implements OwnerAssigner
func (f OwnerAssignerFunc) Assign(item *WorkItem) string {
	return f(item)
}

// OwnerDirectory resolves owner metadata
type OwnerDirectory interface {
	GetOwner(id string) (string, bool)
}

// ResultFormatter renders the result record of a dispatched item.
// ownerInfo is empty when the directory has no entry for the owner.
type ResultFormatter func(owner, ownerInfo string, item *WorkItem) string

// State defines the lifecycle state of a stage or pipeline
type State int32

const (
	// StateCreated has been created but not started
	StateCreated State = iota
	// StateRunning is running
	StateRunning
	// StateStopped has been stopped
	StateStopped
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateRunning:
		return "Running"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}
