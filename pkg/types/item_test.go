package types

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fixedClock struct {
	RealClock
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

func TestPriority(t *testing.T) {
	tests := []struct {
		priority Priority
		expected string
	}{
		{PriorityLow, "LOW"},
		{PriorityMedium, "MEDIUM"},
		{PriorityHigh, "HIGH"},
		{Priority(42), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.priority.String(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}

	t.Run("Ordering", func(t *testing.T) {
		if !(PriorityHigh > PriorityMedium && PriorityMedium > PriorityLow) {
			t.Errorf("expected HIGH > MEDIUM > LOW")
		}
	})
}

func TestIDSequence(t *testing.T) {
	t.Run("Monotonic", func(t *testing.T) {
		var seq IDSequence
		if seq.Last() != 0 {
			t.Errorf("expected zero value to start at 0")
		}
		for want := uint64(1); want <= 5; want++ {
			if got := seq.Next(); got != want {
				t.Errorf("expected %d, got %d", want, got)
			}
		}
		if seq.Last() != 5 {
			t.Errorf("expected last id 5, got %d", seq.Last())
		}
	})

	t.Run("Concurrent Ids Are Distinct", func(t *testing.T) {
		const producers = 64
		var seq IDSequence
		ids := make([]uint64, producers)

		var wg sync.WaitGroup
		for i := 0; i < producers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ids[i] = seq.Next()
			}(i)
		}
		wg.Wait()

		seen := make(map[uint64]bool, producers)
		for _, id := range ids {
			if seen[id] {
				t.Fatalf("duplicate id %d", id)
			}
			seen[id] = true
		}
	})
}

func TestWorkItem(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

	t.Run("Defaults", func(t *testing.T) {
		item := NewWorkItem(1, "P001", "clinicA", &fixedClock{now: now})

		if item.ID() != 1 || item.OriginID() != "P001" || item.SourceID() != "clinicA" {
			t.Errorf("unexpected identity: %v", item)
		}
		if !item.CreatedAt().Equal(now) {
			t.Errorf("expected createdAt %v, got %v", now, item.CreatedAt())
		}
		if item.Priority() != PriorityLow {
			t.Errorf("expected default priority LOW, got %v", item.Priority())
		}
		if _, ok := item.OwnerID(); ok {
			t.Errorf("expected no owner at creation")
		}
		if item.Classified() {
			t.Errorf("expected unclassified item")
		}
	})

	t.Run("Owner Is Never Overwritten", func(t *testing.T) {
		item := NewWorkItem(2, "P001", "clinicA", nil)

		if !item.AssignOwner("doc1") {
			t.Errorf("expected first assignment to succeed")
		}
		if item.AssignOwner("doc2") {
			t.Errorf("expected second assignment to be ignored")
		}
		owner, ok := item.OwnerID()
		if !ok || owner != "doc1" {
			t.Errorf("expected owner doc1, got %q", owner)
		}
	})

	t.Run("Priority Set Once", func(t *testing.T) {
		item := NewWorkItem(3, "P002", "clinicA", nil)

		if err := item.SetPriority(PriorityHigh); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		err := item.SetPriority(PriorityLow)
		if !errors.Is(err, ErrAlreadyClassified) {
			t.Errorf("expected ErrAlreadyClassified, got %v", err)
		}
		if item.Priority() != PriorityHigh {
			t.Errorf("expected priority to stay HIGH, got %v", item.Priority())
		}
	})

	t.Run("String", func(t *testing.T) {
		item := NewWorkItem(4, "P003", "clinicB", nil)
		expected := "item[id=4, origin=P003, owner=-, priority=LOW]"
		if item.String() != expected {
			t.Errorf("expected %q, got %q", expected, item.String())
		}
		item.AssignOwner("doc1")
		_ = item.SetPriority(PriorityMedium)
		expected = "item[id=4, origin=P003, owner=doc1, priority=MEDIUM]"
		if item.String() != expected {
			t.Errorf("expected %q, got %q", expected, item.String())
		}
	})
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateCreated, "Created"},
		{StateRunning, "Running"},
		{StateStopped, "Stopped"},
		{State(999), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if result := tt.state.String(); result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}
