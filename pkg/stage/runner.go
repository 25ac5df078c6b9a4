// Package stage implements the long-running loops of the pipeline and the
// runner that gives each of them a start, cancel and join lifecycle.
package stage

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jzx17/triageflow/internal/logging"
	"github.com/jzx17/triageflow/internal/metrics"
	"github.com/jzx17/triageflow/pkg/types"
)

// Loop is the body of a stage. stop is the cooperative cancellation
// signal. drain outlives stop and must only be used to forward a unit the
// loop already dequeued, so that cancellation never loses it.
// A loop that exits because stop was cancelled returns nil.
type Loop func(stop, drain context.Context) error

// Deps are the collaborators shared by every stage
type Deps struct {
	Clock   types.Clock
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

func (d Deps) withDefaults() Deps {
	d.Clock = types.OrRealClock(d.Clock)
	d.Logger = logging.OrNop(d.Logger)
	return d
}

// Runner runs a Loop on its own goroutine
type Runner struct {
	name   string
	loop   Loop
	clock  types.Clock
	logger *zap.Logger

	state int32 // atomic types.State
	done  chan struct{}
	err   error // written before done is closed

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewRunner creates a runner for loop. name identifies the stage in logs
// and errors.
func NewRunner(name string, loop Loop, deps Deps) *Runner {
	deps = deps.withDefaults()
	return &Runner{
		name:   name,
		loop:   loop,
		clock:  deps.Clock,
		logger: deps.Logger,
		state:  int32(types.StateCreated),
		done:   make(chan struct{}),
	}
}

// Name returns the stage name
func (r *Runner) Name() string {
	return r.name
}

// State returns the current lifecycle state
func (r *Runner) State() types.State {
	return types.State(atomic.LoadInt32(&r.state))
}

// Start launches the loop. The stop context derives from parent; drain is
// handed to the loop untouched.
func (r *Runner) Start(parent, drain context.Context) error {
	if !atomic.CompareAndSwapInt32(&r.state, int32(types.StateCreated), int32(types.StateRunning)) {
		return fmt.Errorf("stage %s: cannot start from state %s", r.name, r.State())
	}

	stop, cancel := context.WithCancel(parent)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	go r.run(stop, drain)
	return nil
}

func (r *Runner) run(stop, drain context.Context) {
	defer close(r.done)
	defer atomic.StoreInt32(&r.state, int32(types.StateStopped))

	startTime := r.clock.Now()
	r.logger.Debug("stage started")

	r.err = r.execute(stop, drain)

	fields := []zap.Field{zap.Duration("uptime", r.clock.Since(startTime))}
	if r.err != nil {
		r.logger.Error("stage failed", append(fields, zap.Error(r.err))...)
		return
	}
	r.logger.Debug("stage stopped", fields...)
}

// execute runs the loop with panic recovery
func (r *Runner) execute(stop, drain context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			var buf [4096]byte
			n := runtime.Stack(buf[:], false)

			var cause error
			switch v := rec.(type) {
			case error:
				cause = fmt.Errorf("panic: %w", v)
			default:
				cause = fmt.Errorf("panic: %v", v)
			}
			err = types.NewStageError(r.name, "loop", cause).
				WithContext("stack_trace", string(buf[:n]))
		}
	}()

	err = r.loop(stop, drain)
	if types.IsInterrupted(err) {
		return nil
	}
	return err
}

// Cancel signals the loop to stop. It does not wait.
func (r *Runner) Cancel() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Join waits up to timeout for the loop to return. A runner that never
// started joins immediately.
func (r *Runner) Join(timeout time.Duration) error {
	if r.State() == types.StateCreated {
		return nil
	}

	select {
	case <-r.done:
		return nil
	default:
	}

	timer := r.clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-r.done:
		return nil
	case <-timer.C():
		return &types.ShutdownTimeoutError{Stage: r.name, Timeout: timeout}
	}
}

// Done is closed once the loop has returned
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Err returns the loop's failure, if any. It is only meaningful after Done
// is closed.
func (r *Runner) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// lengther is implemented by queues that can report their depth
type lengther interface {
	Len() int
}

func depthOf(v any) int {
	if l, ok := v.(lengther); ok {
		return l.Len()
	}
	return 0
}
