// Package pipeline wires producers, the classifier, per-owner dispatchers
// and the sink writer into one running pipeline and stops them in order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/jzx17/triageflow/internal/logging"
	"github.com/jzx17/triageflow/internal/metrics"
	"github.com/jzx17/triageflow/internal/retry"
	"github.com/jzx17/triageflow/pkg/queue"
	"github.com/jzx17/triageflow/pkg/registry"
	"github.com/jzx17/triageflow/pkg/sink"
	"github.com/jzx17/triageflow/pkg/stage"
	"github.com/jzx17/triageflow/pkg/types"
)

// ShutdownReport summarizes a run after Shutdown
type ShutdownReport struct {
	RunID      string
	Duration   time.Duration
	Produced   int64
	Classified int64
	Unroutable int64
	Dispatched int64
	Written    uint64
	// Timeouts lists stages that did not stop within the join timeout
	Timeouts []*types.ShutdownTimeoutError
	// Failures lists stages that stopped with an error
	Failures []error
}

// Clean reports whether every stage stopped on time and without error
func (r ShutdownReport) Clean() bool {
	return len(r.Timeouts) == 0 && len(r.Failures) == 0
}

// group is a set of stages stopped together during shutdown
type group struct {
	name    string
	runners []*stage.Runner
	// closeInput, when set, lets the group finish its input before it is
	// cancelled
	closeInput func()
}

// Orchestrator owns every queue and stage of one pipeline run
type Orchestrator struct {
	logger     *zap.Logger
	clock      types.Clock
	metrics    *metrics.Metrics
	registry   *registry.Registry
	classifier types.Classifier
	assigner   types.OwnerAssigner
	formatter  types.ResultFormatter
	opener     sink.Opener
	openRetry  retry.Policy

	state int32 // atomic types.State
	runID string
	ids   types.IDSequence

	buffer    *queue.Bounded[*types.WorkItem]
	queues    map[string]*queue.Priority[*types.WorkItem]
	sinkQueue *sink.Queue
	writer    *sink.Writer

	producers   []*stage.Producer
	classify    *stage.Classifier
	dispatchers []*stage.Dispatcher
	groups      []group

	drainCancel context.CancelFunc
	lifecycleMu sync.Mutex
}

// New creates an orchestrator. Nothing runs until Start.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		logger:   logging.NewNop().Logger,
		clock:    types.NewRealClock(),
		registry: registry.New(),
		state:    int32(types.StateCreated),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}
	return o
}

// Start validates topo, builds the queues and starts the stages
// downstream first: sink writer, dispatchers, classifier, producers.
// Cancelling ctx stops every stage at once; Shutdown stops them in order.
func (o *Orchestrator) Start(ctx context.Context, topo Topology) error {
	if err := topo.Validate(); err != nil {
		return err
	}

	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if state := o.State(); state != types.StateCreated {
		return fmt.Errorf("cannot start pipeline in state %s", state)
	}

	o.runID = uuid.NewString()
	logger := o.logger.With(zap.String("run_id", o.runID))

	if err := o.build(topo, &logging.Logger{Logger: o.logger}); err != nil {
		return err
	}

	drain, drainCancel := context.WithCancel(context.WithoutCancel(ctx))
	o.drainCancel = drainCancel

	// groups are in shutdown order, start in reverse
	for i := len(o.groups) - 1; i >= 0; i-- {
		for _, r := range o.groups[i].runners {
			if err := r.Start(ctx, drain); err != nil {
				return err
			}
		}
	}
	atomic.StoreInt32(&o.state, int32(types.StateRunning))

	go o.watchSink(o.sinkRunner(), logger)

	logger.Info("pipeline started",
		zap.Int("producers", len(topo.Producers)),
		zap.Strings("owners", topo.Owners),
		zap.Int("buffer_capacity", topo.BufferCapacity),
		zap.String("log_path", topo.LogPath))
	return nil
}

// build creates the queues and stage runners for topo
func (o *Orchestrator) build(topo Topology, base *logging.Logger) error {
	var err error
	if o.buffer, err = queue.NewBounded[*types.WorkItem](topo.BufferCapacity); err != nil {
		return err
	}
	if o.sinkQueue, err = sink.NewQueue(topo.sinkCapacity()); err != nil {
		return err
	}

	deps := func(name string) stage.Deps {
		return stage.Deps{Clock: o.clock, Logger: base.ForStage(name, o.runID), Metrics: o.metrics}
	}

	o.writer = sink.NewWriter(o.sinkQueue, sink.Options{
		Path:      topo.LogPath,
		Sync:      topo.SyncWrites,
		Opener:    o.opener,
		OpenRetry: o.openRetry,
		Clock:     o.clock,
		Logger:    base.ForStage("sink-writer", o.runID),
		Metrics:   o.metrics,
	})
	sinkGroup := group{
		name: "sink",
		runners: []*stage.Runner{
			stage.NewRunner("sink-writer", stage.SinkLoop(o.writer), deps("sink-writer")),
		},
		closeInput: o.sinkQueue.Close,
	}

	o.queues = make(map[string]*queue.Priority[*types.WorkItem], len(topo.Owners))
	routes := make(map[string]types.Adder[*types.WorkItem], len(topo.Owners))
	dispatchGroup := group{name: "dispatchers"}
	for _, owner := range topo.Owners {
		q := queue.NewPriority[*types.WorkItem]()
		o.queues[owner] = q
		routes[owner] = q

		name := "dispatcher-" + owner
		d := stage.NewDispatcher(owner, q, o.registry, o.formatter, o.sinkQueue, deps(name))
		o.dispatchers = append(o.dispatchers, d)
		dispatchGroup.runners = append(dispatchGroup.runners, stage.NewRunner(name, d.Loop, deps(name)))
	}

	assigner := o.assigner
	if assigner == nil {
		assigner = stage.NewRoundRobin(topo.Owners)
	}
	o.classify = stage.NewClassifier(o.buffer, routes, o.classifier, assigner, deps("classifier"))
	classifyGroup := group{name: "classifier", runners: []*stage.Runner{
		stage.NewRunner("classifier", o.classify.Loop, deps("classifier")),
	}}

	produceGroup := group{name: "producers"}
	for _, cfg := range topo.Producers {
		name := "producer-" + cfg.OriginID
		p := stage.NewProducer(cfg, &o.ids, o.buffer, deps(name))
		o.producers = append(o.producers, p)
		produceGroup.runners = append(produceGroup.runners, stage.NewRunner(name, p.Loop, deps(name)))
	}

	o.groups = []group{produceGroup, classifyGroup, dispatchGroup, sinkGroup}
	return nil
}

func (o *Orchestrator) sinkRunner() *stage.Runner {
	return o.groups[len(o.groups)-1].runners[0]
}

// watchSink reports a durable write failure as soon as it happens
func (o *Orchestrator) watchSink(r *stage.Runner, logger *zap.Logger) {
	<-r.Done()
	if err := r.Err(); err != nil && errors.Is(err, types.ErrDurableWrite) {
		logger.Error("durable log is no longer written, results will back up",
			zap.Uint64("written", o.writer.Written()),
			zap.Error(err))
	}
}

// Shutdown stops the stages in order: producers, classifier, dispatchers,
// sink writer. Each group is cancelled and then every stage in it is
// joined for up to timeout. The sink queue is closed instead, so the
// writer appends what the dispatchers left before it stops, and is
// cancelled after its join. A stage that misses its timeout is reported
// and shutdown moves on. The returned error combines every timeout and
// stage failure.
func (o *Orchestrator) Shutdown(timeout time.Duration) (ShutdownReport, error) {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if !atomic.CompareAndSwapInt32(&o.state, int32(types.StateRunning), int32(types.StateStopped)) {
		return ShutdownReport{}, fmt.Errorf("shutdown: %w (state %s)", types.ErrNotRunning, o.State())
	}

	logger := o.logger.With(zap.String("run_id", o.runID))
	logger.Info("pipeline shutting down", zap.Duration("join_timeout", timeout))
	start := o.clock.Now()

	report := ShutdownReport{RunID: o.runID}
	var combined error

	sinkRunner := o.sinkRunner()
	for _, g := range o.groups {
		if g.closeInput != nil {
			g.closeInput()
		} else {
			for _, r := range g.runners {
				r.Cancel()
			}
		}

		// a dead sink will never accept the records dispatchers are holding
		select {
		case <-sinkRunner.Done():
			o.drainCancel()
		default:
		}

		for _, r := range g.runners {
			err := r.Join(timeout)
			if err == nil {
				continue
			}

			var timeoutErr *types.ShutdownTimeoutError
			if errors.As(err, &timeoutErr) {
				report.Timeouts = append(report.Timeouts, timeoutErr)
			}
			combined = multierr.Append(combined, err)
			o.metrics.RecordShutdownAnomaly(r.Name(), "timeout")
			logger.Warn("stage did not stop in time",
				zap.String("group", g.name),
				zap.String("stage", r.Name()),
				zap.Error(err))
		}
		for _, r := range g.runners {
			r.Cancel()
		}
	}

	// release forwards still waiting on a stopped sink
	o.drainCancel()

	for _, g := range o.groups {
		for _, r := range g.runners {
			if err := r.Err(); err != nil {
				report.Failures = append(report.Failures, err)
				combined = multierr.Append(combined, err)
				o.metrics.RecordShutdownAnomaly(r.Name(), "failure")
			}
		}
	}

	report.Duration = o.clock.Since(start)
	report.Written = o.writer.Written()
	report.Classified = o.classify.Classified()
	report.Unroutable = o.classify.Unroutable()
	for _, p := range o.producers {
		report.Produced += p.Produced()
	}
	for _, d := range o.dispatchers {
		report.Dispatched += d.Dispatched()
	}

	fields := []zap.Field{
		zap.Duration("duration", report.Duration),
		zap.Int64("produced", report.Produced),
		zap.Int64("dispatched", report.Dispatched),
		zap.Uint64("written", report.Written),
	}
	if combined != nil {
		logger.Warn("pipeline stopped with anomalies", append(fields, zap.Error(combined))...)
	} else {
		logger.Info("pipeline stopped", fields...)
	}
	return report, combined
}

// State returns the lifecycle state
func (o *Orchestrator) State() types.State {
	return types.State(atomic.LoadInt32(&o.state))
}

// RunID identifies the current run in logs. Empty before Start.
func (o *Orchestrator) RunID() string {
	if o.State() == types.StateCreated {
		return ""
	}
	return o.runID
}

// IDs returns the id sequence shared by the producers
func (o *Orchestrator) IDs() *types.IDSequence {
	return &o.ids
}

// Registry returns the registry consulted by the dispatchers
func (o *Orchestrator) Registry() *registry.Registry {
	return o.registry
}

// Metrics returns the collector set
func (o *Orchestrator) Metrics() *metrics.Metrics {
	return o.metrics
}

// Snapshot returns the items waiting for owner, in the order they will
// be served. It reports false for an unknown owner.
func (o *Orchestrator) Snapshot(owner string) ([]*types.WorkItem, bool) {
	if o.State() == types.StateCreated {
		return nil, false
	}
	q, ok := o.queues[owner]
	if !ok {
		return nil, false
	}
	return q.Snapshot(), true
}

// Pending returns the number of items in the intake buffer
func (o *Orchestrator) Pending() int {
	if o.State() == types.StateCreated {
		return 0
	}
	return o.buffer.Len()
}

// Written returns the number of records appended to the durable log
func (o *Orchestrator) Written() uint64 {
	if o.State() == types.StateCreated {
		return 0
	}
	return o.writer.Written()
}
