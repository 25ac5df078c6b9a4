package stage

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jzx17/triageflow/pkg/types"
)

// ProducerConfig describes one source of work items
type ProducerConfig struct {
	// OriginID identifies who the items belong to (the patient)
	OriginID string
	// SourceID identifies where they come from (the clinic)
	SourceID string
	// Interval is the average gap between two items. Zero means unpaced.
	Interval time.Duration
	// Burst is the number of items that may be emitted back to back
	Burst int
	// MaxItems stops the producer after that many items, zero means unbounded
	MaxItems int
	// PreferredOwner, when set, pre-routes every item to that owner
	PreferredOwner string
}

// Producer creates work items and puts them into the intake buffer
type Producer struct {
	cfg     ProducerConfig
	ids     *types.IDSequence
	out     types.Putter[*types.WorkItem]
	limiter *rate.Limiter
	deps    Deps

	produced atomic.Int64
}

// NewProducer creates a producer drawing ids from ids and writing to out
func NewProducer(cfg ProducerConfig, ids *types.IDSequence, out types.Putter[*types.WorkItem], deps Deps) *Producer {
	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &Producer{
		cfg:     cfg,
		ids:     ids,
		out:     out,
		limiter: rate.NewLimiter(limit, burst),
		deps:    deps.withDefaults(),
	}
}

// Produced returns the number of items accepted by the buffer
func (p *Producer) Produced() int64 {
	return p.produced.Load()
}

// Loop implements the producer stage
func (p *Producer) Loop(stop, _ context.Context) error {
	for n := 0; p.cfg.MaxItems <= 0 || n < p.cfg.MaxItems; n++ {
		if err := p.limiter.Wait(stop); err != nil {
			// cancelled while pacing, nothing was created
			return nil
		}

		item := types.NewWorkItem(p.ids.Next(), p.cfg.OriginID, p.cfg.SourceID, p.deps.Clock)
		if p.cfg.PreferredOwner != "" {
			item.AssignOwner(p.cfg.PreferredOwner)
		}

		if err := p.out.Put(stop, item); err != nil {
			if types.IsInterrupted(err) {
				// the id is burned, the item never entered the buffer
				p.deps.Logger.Debug("producer stopped before item was accepted",
					zap.Uint64("item_id", item.ID()))
				return nil
			}
			return err
		}

		p.produced.Add(1)
		p.deps.Metrics.RecordProduced(p.cfg.OriginID, depthOf(p.out))
		p.deps.Logger.Debug("item produced", zap.Stringer("item", item))
	}

	p.deps.Logger.Info("producer finished", zap.Int("items", p.cfg.MaxItems))
	return nil
}
