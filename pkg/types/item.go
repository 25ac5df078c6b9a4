package types

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Priority orders work items, higher value means more urgent
type Priority int

const (
	// PriorityLow is the default priority of a new item
	PriorityLow Priority = iota
	// PriorityMedium is the middle band
	PriorityMedium
	// PriorityHigh is served first
	PriorityHigh
)

// String returns the string representation of Priority
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityMedium:
		return "MEDIUM"
	case PriorityHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// IDSequence issues process-unique item ids. The zero value is ready to use
// and the first id is 1.
type IDSequence struct {
	last atomic.Uint64
}

// Next returns the next id
func (s *IDSequence) Next() uint64 {
	return s.last.Add(1)
}

// Last returns the most recently issued id, or 0
func (s *IDSequence) Last() uint64 {
	return s.last.Load()
}

// WorkItem is the unit flowing through every stage
type WorkItem struct {
	id        uint64
	originID  string
	sourceID  string
	createdAt time.Time

	mu         sync.RWMutex
	ownerID    string
	hasOwner   bool
	priority   Priority
	classified bool
}

// NewWorkItem creates an unclassified item with no owner
func NewWorkItem(id uint64, originID, sourceID string, clock Clock) *WorkItem {
	return &WorkItem{
		id:        id,
		originID:  originID,
		sourceID:  sourceID,
		createdAt: OrRealClock(clock).Now(),
		priority:  PriorityLow,
	}
}

// ID returns the item id
func (w *WorkItem) ID() uint64 { return w.id }

// OriginID returns the producer that created the item
func (w *WorkItem) OriginID() string { return w.originID }

// SourceID returns the origin context of the producer
func (w *WorkItem) SourceID() string { return w.sourceID }

// CreatedAt returns the capture time
func (w *WorkItem) CreatedAt() time.Time { return w.createdAt }

// OwnerID returns the owner and whether one has been assigned
func (w *WorkItem) OwnerID() (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ownerID, w.hasOwner
}

// AssignOwner sets the owner if none is set yet and reports whether it did
func (w *WorkItem) AssignOwner(owner string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.hasOwner {
		return false
	}
	w.ownerID = owner
	w.hasOwner = true
	return true
}

// Priority returns the current priority
func (w *WorkItem) Priority() Priority {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.priority
}

// SetPriority classifies the item. It succeeds once.
func (w *WorkItem) SetPriority(p Priority) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.classified {
		return fmt.Errorf("item %d: %w", w.id, ErrAlreadyClassified)
	}
	w.priority = p
	w.classified = true
	return nil
}

// Classified reports whether SetPriority has been called
func (w *WorkItem) Classified() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.classified
}

func (w *WorkItem) String() string {
	owner, ok := w.OwnerID()
	if !ok {
		owner = "-"
	}
	return fmt.Sprintf("item[id=%d, origin=%s, owner=%s, priority=%s]", w.id, w.originID, owner, w.Priority())
}
