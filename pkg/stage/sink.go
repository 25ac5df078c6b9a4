package stage

import (
	"context"

	"github.com/jzx17/triageflow/pkg/sink"
)

// SinkLoop adapts a sink writer to a stage loop. The writer owns its file
// and completes any in-flight append itself, so it only watches stop.
func SinkLoop(w *sink.Writer) Loop {
	return func(stop, _ context.Context) error {
		return w.Run(stop)
	}
}
