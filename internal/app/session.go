package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"duel-quiz-service/internal/domain"
)

// Sink delivers events to one connected player. Implementations must not
// block; the websocket transport backs this with a buffered send channel.
type Sink interface {
	Send(evt domain.Event)
}

// Timeouts holds the phase durations driving a session.
type Timeouts struct {
	Thinking    time.Duration
	Choosing    time.Duration
	ResultDelay time.Duration
}

// DefaultTimeouts are used when config leaves a duration empty.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Thinking:    10 * time.Second,
		Choosing:    15 * time.Second,
		ResultDelay: 3 * time.Second,
	}
}

type playerSlot struct {
	id         string
	role       domain.Role
	sink       Sink // nil while the player is disconnected
	ready      bool
	answered   bool
	answer     *int
	roundMarks int
	total      int
	roundsWon  int
}

// fallbackQuestion keeps a round playable when the provider is down.
// Provider failures are logged, never surfaced to players.
var fallbackQuestion = domain.Question{
	ID:     "fallback-1",
	Prompt: "General knowledge",
	Steps: []domain.Step{
		{
			Index:         0,
			Prompt:        "How many minutes are in an hour?",
			Options:       []string{"30", "60", "90", "120"},
			CorrectOption: 1,
			Marks:         1,
		},
	},
}

// MatchSession is the per-match round controller. Every state transition
// runs under mu, which is the serialization point the session model
// requires: no two transitions for the same match ever run concurrently.
// Store writes at round boundaries happen under the lock on purpose; they
// are part of the serialized transition.
type MatchSession struct {
	matchID      string
	roundsTarget int

	store     MatchStore
	questions QuestionProvider
	feed      ResultPublisher
	clock     clockwork.Clock
	timeouts  Timeouts

	mu      sync.Mutex
	players [2]*playerSlot

	started  bool
	finished bool
	failed   bool

	phase       domain.Phase
	question    *domain.Question
	stepIndex   int
	roundID     string
	roundNumber int
	deadline    time.Time // zero while no deadline is armed

	version     int64
	resulted    map[string]*domain.RoundResultPayload
	stepResults []domain.StepResult
	winnerID    *string
}

func newMatchSession(match domain.Match, store MatchStore, questions QuestionProvider, feed ResultPublisher, clock clockwork.Clock, timeouts Timeouts) *MatchSession {
	return &MatchSession{
		matchID:      match.ID,
		roundsTarget: match.RoundsTarget,
		store:        store,
		questions:    questions,
		feed:         feed,
		clock:        clock,
		timeouts:     timeouts,
		players: [2]*playerSlot{
			{id: match.Player1ID, role: domain.RoleP1},
			{id: match.Player2ID, role: domain.RoleP2},
		},
		version:  match.ResultsVersion,
		resulted: make(map[string]*domain.RoundResultPayload),
	}
}

// Bind attaches (or re-attaches) a player's connection. A reconnect during
// a live round receives a state snapshot so the client can resume. The
// first moment both seats are occupied starts round one.
func (s *MatchSession) Bind(ctx context.Context, playerID string, sink Sink) (domain.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := s.slotLocked(playerID)
	if slot == nil {
		return "", domain.ErrNotParticipant
	}
	// A newer connection supersedes a lingering one; the old socket is
	// already dead or about to be reaped by its read loop.
	slot.sink = sink

	if s.started && !s.finished && !s.failed {
		s.sendSnapshotLocked(slot)
	}

	if s.players[0].sink != nil && s.players[1].sink != nil {
		s.sendBothLocked(domain.Event{Type: domain.EventBothConnected, Payload: struct{}{}})
		if !s.started {
			s.started = true
			s.startRoundLocked(ctx)
		}
	}
	return slot.role, nil
}

// Unbind drops a player's connection and reports whether both seats are
// now empty. The caller destroys the session only in that case; a
// single-sided drop keeps the match alive for a rebind.
func (s *MatchSession) Unbind(playerID string, sink Sink) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot := s.slotLocked(playerID); slot != nil && slot.sink == sink {
		slot.sink = nil
	}
	return s.players[0].sink == nil && s.players[1].sink == nil
}

// IsEmpty reports whether both connections are absent.
func (s *MatchSession) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.players[0].sink == nil && s.players[1].sink == nil
}

// Ready records an early-advance signal during thinking. The second
// signal fires the transition immediately instead of waiting for a tick.
func (s *MatchSession) Ready(ctx context.Context, playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished || s.failed {
		return domain.ErrMatchOver
	}
	slot := s.slotLocked(playerID)
	if slot == nil {
		return domain.ErrNotParticipant
	}
	if s.phase != domain.PhaseThinking {
		return domain.ErrOutOfPhase
	}
	slot.ready = true
	if s.players[0].ready && s.players[1].ready {
		s.enterChoosingLocked(ctx)
	}
	return nil
}

// Submit records a player's answer for the active step. Both answers in
// hand ends choosing immediately.
func (s *MatchSession) Submit(ctx context.Context, playerID string, stepIndex, optionIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished || s.failed {
		return domain.ErrMatchOver
	}
	slot := s.slotLocked(playerID)
	if slot == nil {
		return domain.ErrNotParticipant
	}
	if s.phase != domain.PhaseChoosing || s.question == nil {
		return domain.ErrOutOfPhase
	}
	if stepIndex != s.stepIndex {
		return domain.ErrStepMismatch
	}
	if slot.answered {
		return domain.ErrDuplicateAnswer
	}
	step := s.question.Steps[s.stepIndex]
	if optionIndex < 0 || optionIndex >= len(step.Options) {
		return domain.ErrOptionOutOfRange
	}

	choice := optionIndex
	slot.answer = &choice
	slot.answered = true

	if s.players[0].answered && s.players[1].answered {
		s.enterResultLocked(ctx)
	}
	return nil
}

// Tick fires any deadline that has elapsed. Phase guards make a stale
// deadline (phase already left) a no-op, and double invocation for the
// same boundary harmless.
func (s *MatchSession) Tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.finished || s.failed {
		return
	}
	if s.deadline.IsZero() || now.Before(s.deadline) {
		// Both-ready can beat the thinking deadline; it is handled
		// event-driven in Ready, not here.
		return
	}

	switch s.phase {
	case domain.PhaseThinking:
		s.enterChoosingLocked(ctx)
	case domain.PhaseChoosing:
		s.enterResultLocked(ctx)
	case domain.PhaseResult:
		s.advanceLocked(ctx)
	}
}

// Finished reports whether the match has been finalized.
func (s *MatchSession) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

func (s *MatchSession) slotLocked(playerID string) *playerSlot {
	for _, slot := range s.players {
		if slot.id == playerID {
			return slot
		}
	}
	return nil
}

// startRoundLocked begins the next round: fresh question, fresh round id,
// thinking phase. Invariant: this is the only place a question becomes
// active, so at most one question is ever live per session.
func (s *MatchSession) startRoundLocked(ctx context.Context) {
	question, err := s.questions.FetchQuestion(ctx)
	if err != nil {
		log.Warn().Err(err).Str("match_id", s.matchID).Msg("question provider failed, using fallback")
		question = fallbackQuestion
	}

	s.question = &question
	s.stepIndex = 0
	s.roundID = uuid.NewString()
	s.roundNumber++
	s.phase = domain.PhaseThinking
	s.deadline = s.clock.Now().Add(s.timeouts.Thinking)
	s.stepResults = nil
	for _, slot := range s.players {
		slot.ready = false
		slot.answered = false
		slot.answer = nil
		slot.roundMarks = 0
	}

	if err := s.store.AdvanceRound(ctx, s.matchID, s.roundID, s.roundNumber); err != nil {
		s.failLocked(ctx, err)
		return
	}

	s.sendBothLocked(domain.Event{Type: domain.EventRoundStart, Payload: domain.RoundStartPayload{
		RoundID:     s.roundID,
		RoundNumber: s.roundNumber,
		Phase:       s.phase,
		Prompt:      question.Prompt,
		StepCount:   len(question.Steps),
		Deadline:    s.deadline,
	}})
}

// enterChoosingLocked reveals the options for the current step. Reached
// from thinking (first step) or from result (subsequent steps).
func (s *MatchSession) enterChoosingLocked(ctx context.Context) {
	if s.phase != domain.PhaseThinking && s.phase != domain.PhaseResult {
		return
	}
	step := s.question.Steps[s.stepIndex]
	s.phase = domain.PhaseChoosing
	s.deadline = s.clock.Now().Add(s.timeouts.Choosing)
	for _, slot := range s.players {
		slot.answered = false
		slot.answer = nil
	}

	s.sendBothLocked(domain.Event{Type: domain.EventPhaseChange, Payload: domain.PhaseChangePayload{
		Phase:     s.phase,
		StepIndex: s.stepIndex,
		Prompt:    step.Prompt,
		Options:   step.Options,
		Deadline:  s.deadline,
	}})
}

// enterResultLocked grades the active step. Missing answers are null and
// always incorrect; marks are awarded in full or not at all. The last
// step of the question also produces the round payload.
func (s *MatchSession) enterResultLocked(ctx context.Context) {
	if s.phase != domain.PhaseChoosing {
		return
	}
	step := s.question.Steps[s.stepIndex]
	correct := step.CorrectOption
	result := domain.StepResult{
		StepIndex:     s.stepIndex,
		CorrectOption: correct,
		Selections:    make(map[string]*int, 2),
		Marks:         make(map[string]int, 2),
	}
	for _, slot := range s.players {
		result.Selections[slot.id] = slot.answer
		if slot.answered && slot.answer != nil && *slot.answer == correct {
			marks := step.MarksOrDefault()
			slot.roundMarks += marks
			slot.total += marks
			result.Marks[slot.id] = marks
		} else {
			result.Marks[slot.id] = 0
		}
	}
	s.stepResults = append(s.stepResults, result)

	s.phase = domain.PhaseResult
	s.deadline = s.clock.Now().Add(s.timeouts.ResultDelay)

	s.sendBothLocked(domain.Event{Type: domain.EventPhaseChange, Payload: domain.PhaseChangePayload{
		Phase:         s.phase,
		StepIndex:     s.stepIndex,
		Deadline:      s.deadline,
		CorrectOption: &correct,
		Marks:         result.Marks,
	}})

	if s.stepIndex == len(s.question.Steps)-1 {
		s.produceRoundResultLocked(ctx)
	}
}

// advanceLocked leaves the result phase after the display delay: next
// step, next round, or finalization.
func (s *MatchSession) advanceLocked(ctx context.Context) {
	if s.phase != domain.PhaseResult {
		return
	}
	if s.stepIndex < len(s.question.Steps)-1 {
		// Subsequent steps of the same question skip thinking entirely.
		s.stepIndex++
		s.enterChoosingLocked(ctx)
		return
	}
	if s.matchOverLocked() {
		s.finalizeLocked(ctx)
		return
	}
	s.startRoundLocked(ctx)
}

func (s *MatchSession) matchOverLocked() bool {
	return s.players[0].roundsWon >= s.roundsTarget || s.players[1].roundsWon >= s.roundsTarget
}

// produceRoundResultLocked builds, persists, publishes and pushes the
// immutable payload for the current round. Re-entry for a round that
// already resulted is a strict no-op: same payload, no score movement,
// no version bump.
func (s *MatchSession) produceRoundResultLocked(ctx context.Context) {
	if _, done := s.resulted[s.roundID]; done {
		return
	}

	p1, p2 := s.players[0], s.players[1]
	var roundWinner *string
	switch {
	case p1.roundMarks > p2.roundMarks:
		p1.roundsWon++
		id := p1.id
		roundWinner = &id
	case p2.roundMarks > p1.roundMarks:
		p2.roundsWon++
		id := p2.id
		roundWinner = &id
	default:
		// A draw still counts as a round for both players; skipping the
		// counters here desynchronizes clients from the server record.
		p1.roundsWon++
		p2.roundsWon++
	}

	matchOver := s.matchOverLocked()
	var matchWinner *string
	if matchOver {
		if p1.roundsWon > p2.roundsWon {
			id := p1.id
			matchWinner = &id
		} else if p2.roundsWon > p1.roundsWon {
			id := p2.id
			matchWinner = &id
		}
	}
	s.winnerID = matchWinner

	s.version++
	payload := &domain.RoundResultPayload{
		RoundID:        s.roundID,
		RoundNumber:    s.roundNumber,
		Players:        make(map[string]domain.PlayerRoundResult, 2),
		RoundWinner:    roundWinner,
		MatchOver:      matchOver,
		MatchWinnerID:  matchWinner,
		ResultsVersion: s.version,
	}
	if len(s.question.Steps) > 1 {
		payload.StepResults = append([]domain.StepResult(nil), s.stepResults...)
	}
	for _, slot := range s.players {
		var answer *int
		if len(s.stepResults) > 0 {
			answer = s.stepResults[len(s.stepResults)-1].Selections[slot.id]
		}
		payload.Players[slot.id] = domain.PlayerRoundResult{
			Answer:    answer,
			Correct:   slot.roundMarks > 0,
			Marks:     slot.roundMarks,
			Total:     slot.total,
			RoundsWon: slot.roundsWon,
		}
	}
	s.resulted[s.roundID] = payload

	if err := s.store.WriteRoundResult(ctx, s.matchID, *payload); err != nil {
		s.failLocked(ctx, err)
		return
	}
	if err := s.feed.PublishResult(ctx, s.matchID, *payload); err != nil {
		// The feed is a redundant channel; push and poll still cover delivery.
		log.Warn().Err(err).Str("match_id", s.matchID).Str("round_id", s.roundID).Msg("result feed publish failed")
	}
	s.sendBothLocked(domain.Event{Type: domain.EventRoundResult, Payload: payload})
}

// finalizeLocked ends the match: winner by strict majority of rounds won,
// one Elo update per player when there is a winner, terminal row state.
// This path is never retried and never re-grades broadcast rounds.
func (s *MatchSession) finalizeLocked(ctx context.Context) {
	if s.finished {
		return
	}
	s.finished = true
	s.deadline = time.Time{}
	s.question = nil

	var changes []domain.RatingChange
	winnerID := ""
	if s.winnerID != nil {
		winnerID = *s.winnerID
		loserID := s.players[0].id
		if loserID == winnerID {
			loserID = s.players[1].id
		}
		winnerRating, err := s.store.GetRating(ctx, winnerID)
		if err != nil {
			s.failLocked(ctx, err)
			return
		}
		loserRating, err := s.store.GetRating(ctx, loserID)
		if err != nil {
			s.failLocked(ctx, err)
			return
		}
		newWinner, newLoser := EloAdjust(winnerRating, loserRating)
		if err := s.store.UpdateRating(ctx, winnerID, newWinner); err != nil {
			s.failLocked(ctx, err)
			return
		}
		if err := s.store.UpdateRating(ctx, loserID, newLoser); err != nil {
			s.failLocked(ctx, err)
			return
		}
		changes = []domain.RatingChange{
			{PlayerID: winnerID, Before: winnerRating, After: newWinner},
			{PlayerID: loserID, Before: loserRating, After: newLoser},
		}
	}

	if err := s.store.FinishMatch(ctx, s.matchID, winnerID); err != nil {
		s.failLocked(ctx, err)
		return
	}

	summary := make(map[string]domain.PlayerRoundResult, 2)
	for _, slot := range s.players {
		summary[slot.id] = domain.PlayerRoundResult{
			Total:     slot.total,
			RoundsWon: slot.roundsWon,
		}
	}
	s.sendBothLocked(domain.Event{Type: domain.EventMatchEnd, Payload: domain.MatchEndPayload{
		WinnerID:      s.winnerID,
		Summary:       summary,
		RatingChanges: changes,
	}})

	log.Info().Str("match_id", s.matchID).Str("winner_id", winnerID).Msg("match finalized")
}

// failLocked handles a fatal persistence error: both clients get a generic
// game error and the row is left in a manually recoverable state.
func (s *MatchSession) failLocked(ctx context.Context, err error) {
	if s.failed {
		return
	}
	s.failed = true
	s.finished = true
	s.deadline = time.Time{}
	log.Error().Err(err).Str("match_id", s.matchID).Msg("fatal persistence error, abandoning match")
	if markErr := s.store.MarkFailed(ctx, s.matchID); markErr != nil {
		log.Error().Err(markErr).Str("match_id", s.matchID).Msg("could not mark match failed")
	}
	s.sendBothLocked(domain.Event{Type: domain.EventGameError, Payload: domain.ErrorPayload{
		Message: "match could not be scored, please contact support",
	}})
}

// sendSnapshotLocked replays the live round to a reconnecting player.
func (s *MatchSession) sendSnapshotLocked(slot *playerSlot) {
	if slot.sink == nil || s.question == nil {
		return
	}
	slot.sink.Send(domain.Event{Type: domain.EventRoundStart, Payload: domain.RoundStartPayload{
		RoundID:     s.roundID,
		RoundNumber: s.roundNumber,
		Phase:       s.phase,
		Prompt:      s.question.Prompt,
		StepCount:   len(s.question.Steps),
		Deadline:    s.deadline,
	}})
	if s.phase == domain.PhaseChoosing {
		step := s.question.Steps[s.stepIndex]
		slot.sink.Send(domain.Event{Type: domain.EventPhaseChange, Payload: domain.PhaseChangePayload{
			Phase:     s.phase,
			StepIndex: s.stepIndex,
			Prompt:    step.Prompt,
			Options:   step.Options,
			Deadline:  s.deadline,
		}})
	}
	if payload, ok := s.resulted[s.roundID]; ok {
		slot.sink.Send(domain.Event{Type: domain.EventRoundResult, Payload: payload})
	}
}

func (s *MatchSession) sendBothLocked(evt domain.Event) {
	for _, slot := range s.players {
		if slot.sink != nil {
			slot.sink.Send(evt)
		}
	}
}
