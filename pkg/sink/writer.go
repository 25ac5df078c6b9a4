package sink

import (
	"context"
	"errors"
	"io"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jzx17/triageflow/internal/logging"
	"github.com/jzx17/triageflow/internal/metrics"
	"github.com/jzx17/triageflow/internal/retry"
	"github.com/jzx17/triageflow/pkg/types"
)

// File is the subset of *os.File the writer needs
type File interface {
	io.Writer
	Sync() error
	Close() error
}

// Opener opens the durable log for appending
type Opener func(path string) (File, error)

// OpenAppend opens path for appending, creating it if needed. Existing
// content is never truncated.
func OpenAppend(path string) (File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}

// DefaultOpenRetry retries transient open failures a few times
func DefaultOpenRetry() retry.Policy {
	return retry.NewExponentialBackoff(4, 50*time.Millisecond, time.Second, retry.WithJitter(0.1))
}

// Options configures a Writer
type Options struct {
	// Path of the durable log
	Path string
	// Sync flushes every record to stable storage before the next one
	Sync bool
	// Opener defaults to OpenAppend
	Opener Opener
	// OpenRetry defaults to DefaultOpenRetry
	OpenRetry retry.Policy
	Clock     types.Clock
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// Writer is the single consumer of a Queue. It is the only code that
// touches the log file.
type Writer struct {
	queue   *Queue
	opts    Options
	logger  *zap.Logger
	written atomic.Uint64
}

// NewWriter creates a writer draining q into opts.Path
func NewWriter(q *Queue, opts Options) *Writer {
	if opts.Opener == nil {
		opts.Opener = OpenAppend
	}
	if opts.OpenRetry == nil {
		opts.OpenRetry = DefaultOpenRetry()
	}
	opts.Clock = types.OrRealClock(opts.Clock)

	return &Writer{
		queue:  q,
		opts:   opts,
		logger: logging.OrNop(opts.Logger).With(zap.String("path", opts.Path)),
	}
}

// Written returns the number of records appended so far
func (w *Writer) Written() uint64 {
	return w.written.Load()
}

// Run opens the log and appends records until ctx is cancelled, the queue
// is closed and empty, or an I/O operation fails. Cancellation only
// interrupts the wait for the next record: a write in progress always
// completes and nothing more is dequeued.
func (w *Writer) Run(ctx context.Context) (err error) {
	f, err := w.open(ctx)
	if err != nil {
		if types.IsInterrupted(err) {
			return nil
		}
		return err
	}
	w.logger.Info("durable log opened")

	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			w.opts.Metrics.RecordWriteFailure()
			err = &types.DurableWriteError{Path: w.opts.Path, Op: "close", Err: cerr}
		}
		w.logger.Info("durable log closed", zap.Uint64("written", w.Written()))
	}()

	for {
		line, err := w.queue.Take(ctx)
		if err != nil {
			if types.IsInterrupted(err) || errors.Is(err, types.ErrSinkClosed) {
				return nil
			}
			return err
		}
		if err := w.append(f, line); err != nil {
			return err
		}
	}
}

func (w *Writer) open(ctx context.Context) (File, error) {
	onFailure := func(attempt int, err error) {
		w.opts.Metrics.RecordOpenRetry()
		w.logger.Warn("opening durable log failed",
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	f, err := retry.Do(ctx, w.opts.OpenRetry, w.opts.Clock, onFailure, func(context.Context) (File, error) {
		return w.opts.Opener(w.opts.Path)
	})
	if err != nil {
		if types.IsInterrupted(err) {
			return nil, err
		}
		w.opts.Metrics.RecordWriteFailure()
		return nil, &types.DurableWriteError{Path: w.opts.Path, Op: "open", Err: err}
	}
	return f, nil
}

// append writes one record with a single Write call
func (w *Writer) append(f File, line string) error {
	record := []byte(line + "\n")

	n, err := f.Write(record)
	if err == nil && n != len(record) {
		err = io.ErrShortWrite
	}
	if err != nil {
		w.opts.Metrics.RecordWriteFailure()
		return &types.DurableWriteError{Path: w.opts.Path, Op: "write", Err: err}
	}

	if w.opts.Sync {
		if err := f.Sync(); err != nil {
			w.opts.Metrics.RecordWriteFailure()
			return &types.DurableWriteError{Path: w.opts.Path, Op: "sync", Err: err}
		}
	}

	w.written.Add(1)
	w.opts.Metrics.RecordWritten()
	return nil
}
