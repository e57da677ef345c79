package matching

import (
	"context"
	"time"
)

// Engine drains each tier's queue two entries at a time. One goroutine per
// tier: enqueue kicks wake it immediately, the ticker bounds pairing latency
// when a kick is lost. Tiers pair fully independently.
type Engine struct {
	coord *Coordinator
	scan  time.Duration
}

func NewEngine(coord *Coordinator, scanInterval time.Duration) *Engine {
	if scanInterval <= 0 {
		scanInterval = 500 * time.Millisecond
	}
	return &Engine{coord: coord, scan: scanInterval}
}

func (e *Engine) Start(ctx context.Context) {
	for _, tier := range e.coord.tiers {
		go e.run(ctx, tier)
	}
}

func (e *Engine) run(ctx context.Context, tier *Tier) {
	ticker := time.NewTicker(e.scan)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tier.Kick():
		case <-ticker.C:
		}
		e.drain(ctx, tier)
	}
}

// drain pairs in strict FIFO order: entries 1&2, then 3&4, until fewer than
// two sessions wait. An allocation failure puts the pair back at the head
// and ends the round, so the retry waits for the next scan instead of
// spinning against a broken allocator.
func (e *Engine) drain(ctx context.Context, tier *Tier) {
	for {
		pair := tier.PopPair()
		if pair == nil {
			return
		}
		if !e.coord.completePair(ctx, tier, pair) {
			return
		}
	}
}
