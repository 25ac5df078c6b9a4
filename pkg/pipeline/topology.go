package pipeline

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/jzx17/triageflow/pkg/sink"
	"github.com/jzx17/triageflow/pkg/stage"
	"github.com/jzx17/triageflow/pkg/types"
)

// Topology describes the stages an orchestrator runs and the queues
// between them
type Topology struct {
	// BufferCapacity bounds the intake buffer between producers and the classifier
	BufferCapacity int
	// SinkCapacity bounds the sink queue, zero means sink.DefaultCapacity
	SinkCapacity int
	// LogPath is the durable log the sink appends to
	LogPath string
	// SyncWrites fsyncs the log after every record
	SyncWrites bool
	// Owners gets one priority queue and one dispatcher each
	Owners []string
	// Producers gets one producer stage each
	Producers []stage.ProducerConfig
}

// Validate reports every problem with the topology. Each problem matches
// types.ErrInvalidTopology.
func (t Topology) Validate() error {
	var err error
	invalid := func(format string, args ...any) {
		err = multierr.Append(err, fmt.Errorf("%w: "+format, append([]any{types.ErrInvalidTopology}, args...)...))
	}

	if t.BufferCapacity <= 0 {
		invalid("buffer capacity must be positive, got %d", t.BufferCapacity)
	}
	if t.SinkCapacity < 0 {
		invalid("sink capacity must not be negative, got %d", t.SinkCapacity)
	}
	if t.LogPath == "" {
		invalid("log path is empty")
	}
	if len(t.Owners) == 0 {
		invalid("at least one owner is required")
	}

	owners := make(map[string]bool, len(t.Owners))
	for _, owner := range t.Owners {
		switch {
		case owner == "":
			invalid("owner id is empty")
		case owners[owner]:
			invalid("duplicate owner %q", owner)
		}
		owners[owner] = true
	}

	origins := make(map[string]bool, len(t.Producers))
	for _, p := range t.Producers {
		switch {
		case p.OriginID == "":
			invalid("producer origin id is empty")
		case origins[p.OriginID]:
			invalid("duplicate producer %q", p.OriginID)
		}
		origins[p.OriginID] = true

		if p.PreferredOwner != "" && !owners[p.PreferredOwner] {
			invalid("producer %q prefers unknown owner %q", p.OriginID, p.PreferredOwner)
		}
		if p.Interval < 0 {
			invalid("producer %q has negative interval", p.OriginID)
		}
	}

	return err
}

func (t Topology) sinkCapacity() int {
	if t.SinkCapacity == 0 {
		return sink.DefaultCapacity
	}
	return t.SinkCapacity
}
