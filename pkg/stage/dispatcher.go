package stage

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/jzx17/triageflow/pkg/types"
)

// FormatResult renders the default result record:
//
//	[DIAG] doc1 -> item 4 origin=P001 priority=HIGH
//
// Owner metadata, when known, is appended quoted so the record stays on
// one line.
func FormatResult(owner, ownerInfo string, item *types.WorkItem) string {
	line := fmt.Sprintf("[DIAG] %s -> item %d origin=%s priority=%s",
		owner, item.ID(), item.OriginID(), item.Priority())
	if ownerInfo != "" {
		line += fmt.Sprintf(" info=%q", ownerInfo)
	}
	return line
}

// Dispatcher serves one owner: it takes that owner's items in priority
// order and hands a result record to the sink
type Dispatcher struct {
	owner  string
	in     types.Taker[*types.WorkItem]
	dir    types.OwnerDirectory
	format types.ResultFormatter
	out    types.LineSink
	deps   Deps

	dispatched atomic.Int64
}

// NewDispatcher creates the dispatcher for owner. dir may be nil.
func NewDispatcher(
	owner string,
	in types.Taker[*types.WorkItem],
	dir types.OwnerDirectory,
	format types.ResultFormatter,
	out types.LineSink,
	deps Deps,
) *Dispatcher {
	if format == nil {
		format = FormatResult
	}
	return &Dispatcher{
		owner:  owner,
		in:     in,
		dir:    dir,
		format: format,
		out:    out,
		deps:   deps.withDefaults(),
	}
}

// Owner returns the owner this dispatcher serves
func (d *Dispatcher) Owner() string {
	return d.owner
}

// Dispatched returns the number of records handed to the sink
func (d *Dispatcher) Dispatched() int64 {
	return d.dispatched.Load()
}

// Loop implements the dispatcher stage. Once an item has been taken its
// record is forwarded on drain, so stopping never loses it.
func (d *Dispatcher) Loop(stop, drain context.Context) error {
	for {
		item, err := d.in.Take(stop)
		if err != nil {
			if types.IsInterrupted(err) {
				return nil
			}
			return err
		}

		var info string
		if d.dir != nil {
			info, _ = d.dir.GetOwner(d.owner)
		}
		line := d.format(d.owner, info, item)

		if err := d.out.Enqueue(drain, line); err != nil {
			switch {
			case errors.Is(err, types.ErrMultilineRecord):
				d.deps.Logger.Error("result record rejected", zap.Stringer("item", item), zap.Error(err))
				continue
			case types.IsInterrupted(err):
				d.deps.Logger.Warn("result dropped, sink stopped accepting records",
					zap.Stringer("item", item))
				return nil
			default:
				return err
			}
		}

		d.dispatched.Add(1)
		d.deps.Metrics.RecordDispatched(d.owner, depthOf(d.in))
		d.deps.Logger.Debug("item dispatched", zap.Stringer("item", item))
	}
}
