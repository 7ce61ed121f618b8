package app

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Scheduler drives every live session from one shared ticker instead of a
// timer per session. One-second granularity only bounds worst-case
// transition latency; both-ready and both-answered fire event-driven.
type Scheduler struct {
	registry SessionRegistry
	clock    clockwork.Clock
	interval time.Duration
}

func NewScheduler(registry SessionRegistry, clock clockwork.Clock, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Scheduler{registry: registry, clock: clock, interval: interval}
}

// Run blocks until ctx is cancelled, scanning all sessions each tick.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Msg("phase scheduler started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("phase scheduler stopped")
			return
		case <-ticker.Chan():
			s.TickAll(ctx)
		}
	}
}

// TickAll runs one scheduler pass; exported so tests can drive ticks
// without the goroutine.
func (s *Scheduler) TickAll(ctx context.Context) {
	now := s.clock.Now()
	s.registry.Range(func(_ string, session *MatchSession) {
		session.Tick(ctx, now)
	})
}
