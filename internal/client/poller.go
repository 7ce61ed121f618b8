package client

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"duel-quiz-service/internal/domain"
)

// SnapshotFetcher reads the persisted match row; it is the slowest of the
// three delivery channels and exists purely as a safety net.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, matchID string) (domain.Match, error)
}

// Poller is the cancellable fallback loop. Arm schedules it to begin
// after a bounded grace wait; a confirmed push or feed delivery cancels
// it before it ever fetches. Once running it polls on a fixed interval
// and self-cancels on success or when the retry budget is spent.
// Cancellation is guaranteed on success, channel switch, and teardown.
type Poller struct {
	fetcher    SnapshotFetcher
	reconciler *Reconciler
	matchID    string
	grace      time.Duration
	interval   time.Duration
	budget     int
	clock      clockwork.Clock

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewPoller(fetcher SnapshotFetcher, reconciler *Reconciler, matchID string, grace, interval time.Duration, budget int, clock clockwork.Clock) *Poller {
	if grace <= 0 {
		grace = 4 * time.Second
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if budget <= 0 {
		budget = 5
	}
	return &Poller{
		fetcher:    fetcher,
		reconciler: reconciler,
		matchID:    matchID,
		grace:      grace,
		interval:   interval,
		budget:     budget,
		clock:      clock,
	}
}

// Arm starts the grace countdown for the round result currently expected.
// Re-arming replaces any previous countdown or loop.
func (p *Poller) Arm(ctx context.Context) {
	if p.fetcher == nil {
		return
	}
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	go p.run(runCtx)
}

// Confirm cancels the poller because a faster channel delivered the
// result first.
func (p *Poller) Confirm() {
	p.Stop()
}

// Stop cancels any pending or running poll loop.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *Poller) run(ctx context.Context) {
	graceTimer := p.clock.NewTimer(p.grace)
	defer graceTimer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-graceTimer.Chan():
	}

	log.Debug().Str("match_id", p.matchID).Msg("no confirmed push, starting poll fallback")
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for attempt := 0; attempt < p.budget; attempt++ {
		if p.attempt(ctx) {
			p.Stop()
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
	}
	log.Debug().Str("match_id", p.matchID).Int("budget", p.budget).Msg("poll fallback budget exhausted")
	p.Stop()
}

// attempt fetches one snapshot and feeds it through the shared merge
// rule; it reports whether a result was accepted.
func (p *Poller) attempt(ctx context.Context) bool {
	match, err := p.fetcher.FetchSnapshot(ctx, p.matchID)
	if err != nil {
		log.Debug().Err(err).Str("match_id", p.matchID).Msg("poll fetch failed")
		return false
	}
	if match.ResultsPayload == nil {
		return false
	}
	return p.reconciler.Apply(CandidateUpdate{Channel: ChannelPoll, Payload: *match.ResultsPayload})
}
