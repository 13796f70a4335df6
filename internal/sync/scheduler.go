package sync

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Scheduler drives reconciliation cycles at a fixed interval. Exactly one
// cycle is ever in flight; a long cycle simply delays the next tick. A
// failed cycle is logged, and the next tick is the sole retry mechanism.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
}

// NewScheduler creates a scheduler around an engine
func NewScheduler(engine *Engine, interval time.Duration) *Scheduler {
	return &Scheduler{engine: engine, interval: interval}
}

// Run executes one cycle immediately and then one per tick until the
// context is cancelled. Cancellation takes effect between cycles, never
// mid-write.
func (s *Scheduler) Run(ctx context.Context) error {
	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	started := time.Now()
	if err := s.engine.RunCycle(ctx); err != nil {
		log.Error().Err(err).Dur("elapsed", time.Since(started)).
			Msg("sync cycle failed, will retry on next tick")
		return
	}
	log.Debug().Dur("elapsed", time.Since(started)).Msg("sync cycle finished")
}
