package stage

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jzx17/triageflow/pkg/types"
)

// RandomClassifier buckets items at random: 20% HIGH, 40% MEDIUM, 40% LOW
type RandomClassifier struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomClassifier creates a classifier seeded with seed
func NewRandomClassifier(seed int64) *RandomClassifier {
	return &RandomClassifier{rng: rand.New(rand.NewSource(seed))}
}

// NewTimeSeededClassifier creates a classifier seeded from the wall clock
func NewTimeSeededClassifier() *RandomClassifier {
	return NewRandomClassifier(time.Now().UnixNano())
}

// Classify implements types.Classifier
func (c *RandomClassifier) Classify(*types.WorkItem) types.Priority {
	c.mu.Lock()
	r := c.rng.Intn(100)
	c.mu.Unlock()
	return bucket(r)
}

// bucket maps a roll in [0, 100) to a priority
func bucket(roll int) types.Priority {
	switch {
	case roll < 20:
		return types.PriorityHigh
	case roll < 60:
		return types.PriorityMedium
	default:
		return types.PriorityLow
	}
}

// RoundRobin assigns owners in turn
type RoundRobin struct {
	owners []string
	next   atomic.Uint64
}

// NewRoundRobin creates an assigner cycling over owners
func NewRoundRobin(owners []string) *RoundRobin {
	return &RoundRobin{owners: append([]string(nil), owners...)}
}

// Assign implements types.OwnerAssigner. It returns "" when there are no owners.
func (r *RoundRobin) Assign(*types.WorkItem) string {
	if len(r.owners) == 0 {
		return ""
	}
	n := r.next.Add(1) - 1
	return r.owners[n%uint64(len(r.owners))]
}

// Classifier takes items from the intake buffer, routes and prioritizes
// them, and adds them to the owner's priority queue
type Classifier struct {
	in       types.Taker[*types.WorkItem]
	routes   map[string]types.Adder[*types.WorkItem]
	strategy types.Classifier
	assigner types.OwnerAssigner
	fallback *RoundRobin
	deps     Deps

	classified atomic.Int64
	unroutable atomic.Int64
}

// NewClassifier creates the classifier stage. routes maps owner id to that
// owner's queue.
func NewClassifier(
	in types.Taker[*types.WorkItem],
	routes map[string]types.Adder[*types.WorkItem],
	strategy types.Classifier,
	assigner types.OwnerAssigner,
	deps Deps,
) *Classifier {
	if strategy == nil {
		strategy = NewTimeSeededClassifier()
	}

	owners := make([]string, 0, len(routes))
	for owner := range routes {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	fallback := NewRoundRobin(owners)
	if assigner == nil {
		assigner = fallback
	}

	return &Classifier{
		in:       in,
		routes:   routes,
		strategy: strategy,
		assigner: assigner,
		fallback: fallback,
		deps:     deps.withDefaults(),
	}
}

// Classified returns the number of items routed to an owner
func (c *Classifier) Classified() int64 {
	return c.classified.Load()
}

// Unroutable returns the number of items dropped for lack of a route
func (c *Classifier) Unroutable() int64 {
	return c.unroutable.Load()
}

// Loop implements the classifier stage. Adding to a priority queue never
// blocks, so the drain context is not needed.
func (c *Classifier) Loop(stop, _ context.Context) error {
	for {
		item, err := c.in.Take(stop)
		if err != nil {
			if types.IsInterrupted(err) {
				return nil
			}
			return err
		}
		c.route(item)
	}
}

// assign asks the assigner for an owner and falls back to round robin when
// the answer has no queue
func (c *Classifier) assign(item *types.WorkItem) string {
	owner := c.assigner.Assign(item)
	if _, ok := c.routes[owner]; ok {
		return owner
	}
	fallback := c.fallback.Assign(item)
	c.deps.Logger.Debug("assigned owner has no queue, using round robin",
		zap.String("assigned", owner),
		zap.String("owner", fallback),
		zap.Stringer("item", item))
	return fallback
}

func (c *Classifier) route(item *types.WorkItem) {
	owner, ok := item.OwnerID()
	if !ok {
		if assigned := c.assign(item); assigned != "" {
			item.AssignOwner(assigned)
		}
		owner, _ = item.OwnerID()
	}

	queue, ok := c.routes[owner]
	if !ok {
		c.unroutable.Add(1)
		c.deps.Metrics.RecordUnroutable()
		c.deps.Logger.Warn("no queue for owner, item dropped",
			zap.String("owner", owner),
			zap.Stringer("item", item))
		return
	}

	if err := item.SetPriority(c.strategy.Classify(item)); err != nil {
		c.deps.Logger.Warn("item arrived already classified", zap.Stringer("item", item))
	}

	queue.Add(item)
	c.classified.Add(1)
	c.deps.Metrics.RecordClassified(owner, item.Priority(), depthOf(c.in), depthOf(queue))
	c.deps.Logger.Debug("item classified", zap.Stringer("item", item))
}
