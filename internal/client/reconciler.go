package client

import (
	"sync"

	"duel-quiz-service/internal/domain"
)

// Channel tags the delivery path a candidate update arrived on.
type Channel string

const (
	ChannelPush Channel = "push"
	ChannelFeed Channel = "feed"
	ChannelPoll Channel = "poll"
)

// CandidateUpdate is one channel's claim about a round result.
type CandidateUpdate struct {
	Channel Channel
	Payload domain.RoundResultPayload
}

// Reconciler merges the three redundant, unordered delivery channels into
// one consistent view. The guard lives here and only here; every channel
// funnels through Apply so the version/round-identity rule cannot drift
// per channel.
type Reconciler struct {
	mu             sync.Mutex
	version        int64
	currentRoundID string
	phase          domain.Phase
	stepIndex      int
	matchOver      bool
	processed      map[string]struct{}
	onResult       func(domain.RoundResultPayload)
}

// NewReconciler builds a reconciler; onResult fires exactly once per
// accepted round result, regardless of how many channels deliver it.
func NewReconciler(onResult func(domain.RoundResultPayload)) *Reconciler {
	return &Reconciler{
		processed: make(map[string]struct{}),
		onResult:  onResult,
	}
}

// TrackRoundStart records the authoritative round boundary from the push
// channel.
func (r *Reconciler) TrackRoundStart(roundID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentRoundID = roundID
	r.phase = domain.PhaseThinking
	r.stepIndex = 0
}

// TrackPhase records the rendered phase and step.
func (r *Reconciler) TrackPhase(phase domain.Phase, stepIndex int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phase = phase
	r.stepIndex = stepIndex
}

// Apply runs the shared merge rule and reports whether the candidate was
// accepted. Rejections are silent: a stale or duplicate payload never
// re-renders and never surfaces to the user.
func (r *Reconciler) Apply(update CandidateUpdate) bool {
	r.mu.Lock()
	payload := update.Payload

	if _, done := r.processed[payload.RoundID]; done {
		r.mu.Unlock()
		return false
	}
	if payload.ResultsVersion <= r.version {
		r.mu.Unlock()
		return false
	}
	if payload.RoundID != r.currentRoundID {
		// The feed can legitimately observe a result before this client
		// rendered the round boundary; a fresh feed payload doubles as
		// the server's authoritative signal to move on. Push and poll
		// stay strict: a payload for a superseded round is discarded
		// even with a larger version.
		if update.Channel != ChannelFeed {
			r.mu.Unlock()
			return false
		}
		r.currentRoundID = payload.RoundID
	}

	r.version = payload.ResultsVersion
	r.processed[payload.RoundID] = struct{}{}
	r.phase = domain.PhaseResult
	if payload.MatchOver {
		r.matchOver = true
	}
	onResult := r.onResult
	r.mu.Unlock()

	if onResult != nil {
		onResult(payload)
	}
	return true
}

// Version returns the last accepted results version.
func (r *Reconciler) Version() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// CurrentRoundID returns the tracked round identity.
func (r *Reconciler) CurrentRoundID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentRoundID
}

// MatchOver reports whether an accepted payload ended the match.
func (r *Reconciler) MatchOver() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.matchOver
}
