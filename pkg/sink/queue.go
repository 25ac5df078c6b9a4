// Package sink serializes result records onto a single append-only log file.
package sink

import (
	"context"
	"fmt"
	"strings"

	"github.com/jzx17/triageflow/pkg/queue"
	"github.com/jzx17/triageflow/pkg/types"
)

// DefaultCapacity is the number of records the sink buffers before
// Enqueue starts to block.
const DefaultCapacity = 500

// Queue is the multi-producer side of the sink. Every record is one line.
type Queue struct {
	buf *queue.Bounded[string]

	// closed is cancelled by Close
	closed context.Context
	close  context.CancelFunc
}

// NewQueue creates a sink queue holding at most capacity records
func NewQueue(capacity int) (*Queue, error) {
	buf, err := queue.NewBounded[string](capacity)
	if err != nil {
		return nil, fmt.Errorf("sink queue: %w", err)
	}
	closed, closeFn := context.WithCancel(context.Background())
	return &Queue{buf: buf, closed: closed, close: closeFn}, nil
}

// Enqueue hands line to the writer, blocking only while the queue is full
func (q *Queue) Enqueue(ctx context.Context, line string) error {
	if strings.ContainsAny(line, "\r\n") {
		return fmt.Errorf("sink: %w: %q", types.ErrMultilineRecord, line)
	}
	if q.isClosed() {
		return fmt.Errorf("sink: %w", types.ErrSinkClosed)
	}
	return q.buf.Put(ctx, line)
}

// Close marks the end of input. Take keeps returning the records already
// queued and then fails with ErrSinkClosed. Call it once every producer
// has stopped enqueueing.
func (q *Queue) Close() {
	q.close()
}

func (q *Queue) isClosed() bool {
	return q.closed.Err() != nil
}

// Take removes the oldest record, blocking while the queue is empty and
// open. Cancellation of ctx wins over Close.
func (q *Queue) Take(ctx context.Context) (string, error) {
	for {
		if q.isClosed() {
			if err := ctx.Err(); err != nil {
				return "", types.Interrupted(err)
			}
			if line, ok := q.buf.TryTake(); ok {
				return line, nil
			}
			return "", fmt.Errorf("sink: %w", types.ErrSinkClosed)
		}

		line, err := q.takeUntilClosed(ctx)
		if err == nil || ctx.Err() != nil {
			return line, err
		}
	}
}

// takeUntilClosed is a blocking take that also wakes up on Close
func (q *Queue) takeUntilClosed(ctx context.Context) (string, error) {
	takeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(q.closed, cancel)
	defer stop()

	return q.buf.Take(takeCtx)
}

// Len returns the number of pending records
func (q *Queue) Len() int {
	return q.buf.Len()
}

// Cap returns the queue capacity
func (q *Queue) Cap() int {
	return q.buf.Cap()
}
