package pipeline

import (
	"go.uber.org/zap"

	"github.com/jzx17/triageflow/internal/metrics"
	"github.com/jzx17/triageflow/internal/retry"
	"github.com/jzx17/triageflow/pkg/registry"
	"github.com/jzx17/triageflow/pkg/sink"
	"github.com/jzx17/triageflow/pkg/types"
)

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the base logger. Stage loggers derive from it.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock sets the clock used for timestamps and join timeouts
func WithClock(clock types.Clock) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithMetrics sets the collector set
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithRegistry shares an existing registry with the dispatchers
func WithRegistry(r *registry.Registry) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.registry = r
		}
	}
}

// WithClassifier replaces the random priority classifier
func WithClassifier(c types.Classifier) Option {
	return func(o *Orchestrator) {
		o.classifier = c
	}
}

// WithOwnerAssigner replaces round-robin routing of unowned items
func WithOwnerAssigner(a types.OwnerAssigner) Option {
	return func(o *Orchestrator) {
		o.assigner = a
	}
}

// WithResultFormatter replaces the default result record format
func WithResultFormatter(f types.ResultFormatter) Option {
	return func(o *Orchestrator) {
		o.formatter = f
	}
}

// WithOpener replaces how the durable log is opened
func WithOpener(opener sink.Opener) Option {
	return func(o *Orchestrator) {
		o.opener = opener
	}
}

// WithOpenRetry sets the retry policy for opening the durable log
func WithOpenRetry(policy retry.Policy) Option {
	return func(o *Orchestrator) {
		o.openRetry = policy
	}
}
