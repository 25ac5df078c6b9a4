package stage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzx17/triageflow/internal/testutils"
	"github.com/jzx17/triageflow/pkg/types"
)

func waitDone(t *testing.T, r *Runner) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("stage %s did not stop", r.Name())
	}
}

func TestRunnerLifecycle(t *testing.T) {
	t.Run("CancelAndJoin", func(t *testing.T) {
		r := NewRunner("idle", func(stop, _ context.Context) error {
			<-stop.Done()
			return types.Interrupted(stop.Err())
		}, Deps{})

		assert.Equal(t, types.StateCreated, r.State())
		require.NoError(t, r.Start(context.Background(), context.Background()))
		assert.Equal(t, types.StateRunning, r.State())

		r.Cancel()
		require.NoError(t, r.Join(time.Second))
		assert.Equal(t, types.StateStopped, r.State())
		assert.NoError(t, r.Err(), "interruption is not a failure")
	})

	t.Run("StartTwice", func(t *testing.T) {
		r := NewRunner("once", func(stop, _ context.Context) error { return nil }, Deps{})
		require.NoError(t, r.Start(context.Background(), context.Background()))
		assert.Error(t, r.Start(context.Background(), context.Background()))
		waitDone(t, r)
	})

	t.Run("NeverStarted", func(t *testing.T) {
		r := NewRunner("unused", func(stop, _ context.Context) error { return nil }, Deps{})
		r.Cancel()
		assert.NoError(t, r.Join(time.Millisecond))
		assert.NoError(t, r.Err())
	})

	t.Run("ParentCancellation", func(t *testing.T) {
		parent, cancel := context.WithCancel(context.Background())
		r := NewRunner("child", func(stop, _ context.Context) error {
			<-stop.Done()
			return nil
		}, Deps{})
		require.NoError(t, r.Start(parent, context.Background()))
		cancel()
		waitDone(t, r)
	})
}

func TestRunnerFailures(t *testing.T) {
	t.Run("LoopError", func(t *testing.T) {
		boom := errors.New("boom")
		r := NewRunner("failing", func(stop, _ context.Context) error { return boom }, Deps{})
		assert.NoError(t, r.Err(), "no error before the loop returns")

		require.NoError(t, r.Start(context.Background(), context.Background()))
		waitDone(t, r)
		assert.ErrorIs(t, r.Err(), boom)
		assert.NoError(t, r.Join(time.Second))
	})

	t.Run("PanicRecovered", func(t *testing.T) {
		r := NewRunner("panicky", func(stop, _ context.Context) error {
			panic("corrupt state")
		}, Deps{})

		require.NoError(t, r.Start(context.Background(), context.Background()))
		waitDone(t, r)

		var se *types.StageError
		require.ErrorAs(t, r.Err(), &se)
		assert.Equal(t, "panicky", se.Stage)
		assert.Contains(t, se.Error(), "corrupt state")
		assert.Contains(t, se.Context, "stack_trace")
	})

	t.Run("JoinTimeout", func(t *testing.T) {
		release := make(chan struct{})
		r := NewRunner("stuck", func(stop, _ context.Context) error {
			<-release
			return nil
		}, Deps{})

		require.NoError(t, r.Start(context.Background(), context.Background()))
		r.Cancel()

		err := r.Join(50 * time.Millisecond)
		assert.ErrorIs(t, err, types.ErrShutdownTimeout)

		var ste *types.ShutdownTimeoutError
		require.ErrorAs(t, err, &ste)
		assert.Equal(t, "stuck", ste.Stage)
		assert.Equal(t, 50*time.Millisecond, ste.Timeout)

		close(release)
		waitDone(t, r)
		assert.NoError(t, r.Join(time.Second))
	})
}

func TestRunnerJoinOnMockClock(t *testing.T) {
	mock := testutils.NewMockClock(t)
	release := make(chan struct{})
	defer close(release)

	r := NewRunner("stuck", func(stop, _ context.Context) error {
		<-release
		return nil
	}, Deps{Clock: testutils.NewClockWrapper(mock)})
	require.NoError(t, r.Start(context.Background(), context.Background()))
	r.Cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- r.Join(time.Minute) }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.True(t, testutils.AdvanceUntil(ctx, t, mock, time.Minute, func() bool { return len(errCh) > 0 }))

	err := <-errCh
	var ste *types.ShutdownTimeoutError
	require.ErrorAs(t, err, &ste)
	assert.Equal(t, time.Minute, ste.Timeout)
}

func TestDrainOutlivesStop(t *testing.T) {
	drain, cancelDrain := context.WithCancel(context.Background())
	defer cancelDrain()

	observed := make(chan error, 1)
	r := NewRunner("forwarder", func(stop, drain context.Context) error {
		<-stop.Done()
		observed <- drain.Err()
		return nil
	}, Deps{})

	require.NoError(t, r.Start(context.Background(), drain))
	r.Cancel()
	require.NoError(t, r.Join(time.Second))
	assert.NoError(t, <-observed)
}
