package sink

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzx17/triageflow/internal/metrics"
	"github.com/jzx17/triageflow/internal/retry"
	"github.com/jzx17/triageflow/pkg/types"
)

// fakeFile records writes in memory
type fakeFile struct {
	mu       sync.Mutex
	records  []string
	syncs    int
	closed   bool
	writeErr error
	closeErr error
	// gate, when set, blocks the first write until it is closed
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeFile) Write(p []byte) (int, error) {
	if f.gate != nil {
		close(f.entered)
		<-f.gate
		f.gate = nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.records = append(f.records, string(p))
	return len(p), nil
}

func (f *fakeFile) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs++
	return nil
}

func (f *fakeFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.closeErr
}

func (f *fakeFile) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.records...)
}

func openerFor(f *fakeFile) Opener {
	return func(string) (File, error) { return f, nil }
}

func newQueue(t *testing.T, capacity int) *Queue {
	t.Helper()
	q, err := NewQueue(capacity)
	require.NoError(t, err)
	return q
}

// runWriter starts w.Run in the background and returns its result channel
func runWriter(ctx context.Context, w *Writer) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()
	return errCh
}

func waitErr(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("writer did not return")
		return nil
	}
}

func TestQueue(t *testing.T) {
	t.Run("InvalidCapacity", func(t *testing.T) {
		_, err := NewQueue(0)
		assert.ErrorIs(t, err, types.ErrInvalidCapacity)
	})

	t.Run("RejectsMultilineRecords", func(t *testing.T) {
		q := newQueue(t, 4)
		ctx := context.Background()

		for _, line := range []string{"a\nb", "trailing\n", "cr\rhere"} {
			assert.ErrorIs(t, q.Enqueue(ctx, line), types.ErrMultilineRecord)
		}
		assert.Equal(t, 0, q.Len())

		require.NoError(t, q.Enqueue(ctx, ""))
		require.NoError(t, q.Enqueue(ctx, "ok"))
		assert.Equal(t, 2, q.Len())
		assert.Equal(t, 4, q.Cap())
	})

	t.Run("BlocksWhenFull", func(t *testing.T) {
		q := newQueue(t, 1)
		require.NoError(t, q.Enqueue(context.Background(), "first"))

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, q.Enqueue(ctx, "second"), types.ErrInterrupted)
		assert.Equal(t, 1, q.Len())
	})
}

func TestWriterAppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	require.NoError(t, os.WriteFile(path, []byte("existing\n"), 0o644))

	q := newQueue(t, DefaultCapacity)
	w := NewWriter(q, Options{Path: path, Sync: true})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := runWriter(ctx, w)

	lines := []string{"[DIAG] doc1 -> item 1", "[DIAG] doc1 -> item 2", "[DIAG] doc2 -> item 3"}
	for _, line := range lines {
		require.NoError(t, q.Enqueue(context.Background(), line))
	}

	require.Eventually(t, func() bool { return w.Written() == uint64(len(lines)) },
		2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, waitErr(t, errCh))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "existing\n"+strings.Join(lines, "\n")+"\n", string(data))
}

func TestWriterPreservesEnqueueOrder(t *testing.T) {
	f := &fakeFile{}
	q := newQueue(t, 8)
	w := NewWriter(q, Options{Path: "mem", Opener: openerFor(f)})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := runWriter(ctx, w)

	const k = 50
	var want []string
	for i := 0; i < k; i++ {
		line := strings.Repeat("x", i%7) + "|" + string(rune('a'+i%26))
		want = append(want, line+"\n")
		require.NoError(t, q.Enqueue(context.Background(), line))
	}

	require.Eventually(t, func() bool { return w.Written() == k }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, waitErr(t, errCh))

	assert.Equal(t, want, f.snapshot())
	assert.True(t, f.closed)
	assert.Zero(t, f.syncs)
}

func TestWriterFinishesInFlightWrite(t *testing.T) {
	f := &fakeFile{gate: make(chan struct{}), entered: make(chan struct{})}
	q := newQueue(t, 8)
	w := NewWriter(q, Options{Path: "mem", Opener: openerFor(f)})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := runWriter(ctx, w)

	require.NoError(t, q.Enqueue(context.Background(), "in-flight"))
	<-f.entered
	require.NoError(t, q.Enqueue(context.Background(), "queued-1"))
	require.NoError(t, q.Enqueue(context.Background(), "queued-2"))

	// cancel while the first write is blocked
	cancel()
	close(f.gate)

	require.NoError(t, waitErr(t, errCh))
	assert.Equal(t, []string{"in-flight\n"}, f.snapshot())
	assert.Equal(t, uint64(1), w.Written())
	assert.Equal(t, 2, q.Len())
	assert.True(t, f.closed)
}

func TestWriterDrainsClosedQueue(t *testing.T) {
	f := &fakeFile{}
	q := newQueue(t, 8)
	for _, line := range []string{"one", "two", "three"} {
		require.NoError(t, q.Enqueue(context.Background(), line))
	}
	q.Close()

	w := NewWriter(q, Options{Path: "mem", Opener: openerFor(f)})
	require.NoError(t, w.Run(context.Background()))

	assert.Equal(t, []string{"one\n", "two\n", "three\n"}, f.snapshot())
	assert.Equal(t, uint64(3), w.Written())
	assert.Equal(t, 0, q.Len())
	assert.True(t, f.closed)
}

func TestQueueClose(t *testing.T) {
	t.Run("WakesBlockedTake", func(t *testing.T) {
		q := newQueue(t, 2)

		errCh := make(chan error, 1)
		go func() {
			_, err := q.Take(context.Background())
			errCh <- err
		}()

		select {
		case <-errCh:
			t.Fatal("take returned on an open, empty queue")
		case <-time.After(50 * time.Millisecond):
		}

		q.Close()
		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, types.ErrSinkClosed)
			assert.False(t, types.IsInterrupted(err))
		case <-time.After(time.Second):
			t.Fatal("take was not woken by close")
		}
	})

	t.Run("RejectsEnqueue", func(t *testing.T) {
		q := newQueue(t, 2)
		q.Close()
		q.Close()

		assert.ErrorIs(t, q.Enqueue(context.Background(), "late"), types.ErrSinkClosed)
		assert.Equal(t, 0, q.Len())
	})

	t.Run("CancellationWinsOverClose", func(t *testing.T) {
		q := newQueue(t, 2)
		require.NoError(t, q.Enqueue(context.Background(), "kept"))
		q.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := q.Take(ctx)
		assert.ErrorIs(t, err, types.ErrInterrupted)
		assert.Equal(t, 1, q.Len())
	})
}

func TestWriterFailures(t *testing.T) {
	t.Run("WriteError", func(t *testing.T) {
		diskFull := errors.New("no space left on device")
		f := &fakeFile{writeErr: diskFull}
		m := metrics.New()
		q := newQueue(t, 4)
		w := NewWriter(q, Options{Path: "mem", Opener: openerFor(f), Metrics: m})

		errCh := runWriter(context.Background(), w)
		require.NoError(t, q.Enqueue(context.Background(), "lost"))

		err := waitErr(t, errCh)
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrDurableWrite)
		assert.ErrorIs(t, err, diskFull)

		var dwe *types.DurableWriteError
		require.ErrorAs(t, err, &dwe)
		assert.Equal(t, "write", dwe.Op)
		assert.Equal(t, "mem", dwe.Path)
		assert.True(t, f.closed)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.WriteFailures))
	})

	t.Run("CloseError", func(t *testing.T) {
		f := &fakeFile{closeErr: errors.New("bad descriptor")}
		q := newQueue(t, 4)
		w := NewWriter(q, Options{Path: "mem", Opener: openerFor(f)})

		ctx, cancel := context.WithCancel(context.Background())
		errCh := runWriter(ctx, w)
		require.NoError(t, q.Enqueue(context.Background(), "last"))
		require.Eventually(t, func() bool { return w.Written() == 1 }, 2*time.Second, 5*time.Millisecond)
		cancel()

		var dwe *types.DurableWriteError
		require.ErrorAs(t, waitErr(t, errCh), &dwe)
		assert.Equal(t, "close", dwe.Op)
	})

	t.Run("OpenGivesUp", func(t *testing.T) {
		denied := errors.New("permission denied")
		attempts := 0
		opener := func(string) (File, error) {
			attempts++
			return nil, denied
		}
		q := newQueue(t, 4)
		w := NewWriter(q, Options{Path: "/root/log.txt", Opener: opener, OpenRetry: retry.NewFixedDelay(3, 0)})

		err := w.Run(context.Background())
		assert.ErrorIs(t, err, types.ErrDurableWrite)
		assert.ErrorIs(t, err, denied)
		assert.Equal(t, 3, attempts)

		var dwe *types.DurableWriteError
		require.ErrorAs(t, err, &dwe)
		assert.Equal(t, "open", dwe.Op)
	})

	t.Run("OpenRetriesTransientFailures", func(t *testing.T) {
		f := &fakeFile{}
		m := metrics.New()
		attempts := 0
		opener := func(string) (File, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("too many open files")
			}
			return f, nil
		}
		q := newQueue(t, 4)
		w := NewWriter(q, Options{
			Path:      "mem",
			Sync:      true,
			Opener:    opener,
			OpenRetry: retry.NewFixedDelay(5, time.Millisecond),
			Metrics:   m,
		})

		ctx, cancel := context.WithCancel(context.Background())
		errCh := runWriter(ctx, w)
		require.NoError(t, q.Enqueue(context.Background(), "after retry"))

		require.Eventually(t, func() bool { return w.Written() == 1 }, 2*time.Second, 5*time.Millisecond)
		cancel()
		require.NoError(t, waitErr(t, errCh))

		assert.Equal(t, 3, attempts)
		assert.Equal(t, 2.0, testutil.ToFloat64(m.OpenRetries))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.LinesWritten))
		assert.Equal(t, 1, f.syncs)
	})

	t.Run("CancelledBeforeOpen", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		opened := false
		opener := func(string) (File, error) {
			opened = true
			return &fakeFile{}, nil
		}
		w := NewWriter(newQueue(t, 1), Options{Path: "mem", Opener: opener})
		assert.NoError(t, w.Run(ctx))
		assert.False(t, opened)
	})
}
