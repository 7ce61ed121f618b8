package app

import (
	"context"

	"github.com/jonboulle/clockwork"

	"duel-quiz-service/internal/domain"
)

// SessionRegistry abstracts how live sessions are tracked (in-memory,
// Redis-marked, etc). Range must be safe to call while individual
// sessions are being mutated.
type SessionRegistry interface {
	GetOrCreate(matchID string, create func() *MatchSession) *MatchSession
	Get(matchID string) (*MatchSession, bool)
	DeleteIfEmpty(matchID string)
	Range(fn func(matchID string, session *MatchSession))
}

// MatchStore is the persistent match row plus the rating table. It is the
// single shared resource; only the round controller writes it.
type MatchStore interface {
	GetMatch(ctx context.Context, matchID string) (domain.Match, error)
	AdvanceRound(ctx context.Context, matchID, roundID string, roundNumber int) error
	WriteRoundResult(ctx context.Context, matchID string, payload domain.RoundResultPayload) error
	FinishMatch(ctx context.Context, matchID, winnerID string) error
	MarkFailed(ctx context.Context, matchID string) error
	GetRating(ctx context.Context, playerID string) (int, error)
	UpdateRating(ctx context.Context, playerID string, rating int) error
}

// QuestionProvider supplies the next question for a round.
type QuestionProvider interface {
	FetchQuestion(ctx context.Context) (domain.Question, error)
}

// ResultPublisher fans a produced payload out to the replicated feed.
type ResultPublisher interface {
	PublishResult(ctx context.Context, matchID string, payload domain.RoundResultPayload) error
}

// TokenVerifier resolves a connection token to a player identity, once
// per connection attempt.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// MatchService contains the server-side match use cases.
type MatchService struct {
	registry  SessionRegistry
	store     MatchStore
	questions QuestionProvider
	feed      ResultPublisher
	verifier  TokenVerifier
	clock     clockwork.Clock
	timeouts  Timeouts
}

func NewMatchService(registry SessionRegistry, store MatchStore, questions QuestionProvider, feed ResultPublisher, verifier TokenVerifier, clock clockwork.Clock, timeouts Timeouts) *MatchService {
	if timeouts.Thinking <= 0 {
		timeouts.Thinking = DefaultTimeouts().Thinking
	}
	if timeouts.Choosing <= 0 {
		timeouts.Choosing = DefaultTimeouts().Choosing
	}
	if timeouts.ResultDelay <= 0 {
		timeouts.ResultDelay = DefaultTimeouts().ResultDelay
	}
	return &MatchService{
		registry:  registry,
		store:     store,
		questions: questions,
		feed:      feed,
		verifier:  verifier,
		clock:     clock,
		timeouts:  timeouts,
	}
}

// NewSessionForMatch is exported for infrastructure layers that need to
// seed sessions outside the Join path.
func (s *MatchService) NewSessionForMatch(match domain.Match) *MatchSession {
	return newMatchSession(match, s.store, s.questions, s.feed, s.clock, s.timeouts)
}

// Join verifies the token and (re)binds the connection to the match
// session, creating the session on first connection.
func (s *MatchService) Join(ctx context.Context, matchID, token string, sink Sink) (string, domain.Role, error) {
	playerID, err := s.verifier.Verify(ctx, token)
	if err != nil {
		return "", "", err
	}

	match, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return "", "", err
	}
	if playerID != match.Player1ID && playerID != match.Player2ID {
		return "", "", domain.ErrNotParticipant
	}
	if match.Status == domain.MatchFinished || match.Status == domain.MatchFailed {
		return "", "", domain.ErrMatchOver
	}

	session := s.registry.GetOrCreate(matchID, func() *MatchSession {
		return s.NewSessionForMatch(match)
	})
	role, err := session.Bind(ctx, playerID, sink)
	if err != nil {
		return "", "", err
	}
	return playerID, role, nil
}

// Ready forwards the early-advance signal during thinking.
func (s *MatchService) Ready(ctx context.Context, matchID, playerID string) error {
	session, ok := s.registry.Get(matchID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	return session.Ready(ctx, playerID)
}

// SubmitAnswer records a step answer, rejecting out-of-phase, stale-step,
// out-of-range and duplicate submissions without touching session state.
func (s *MatchService) SubmitAnswer(ctx context.Context, matchID, playerID string, stepIndex, optionIndex int) error {
	session, ok := s.registry.Get(matchID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	return session.Submit(ctx, playerID, stepIndex, optionIndex)
}

// Leave unbinds a connection. The session is destroyed only when both
// sides are gone at once; a brief single-sided drop keeps it alive.
func (s *MatchService) Leave(_ context.Context, matchID, playerID string, sink Sink) {
	session, ok := s.registry.Get(matchID)
	if !ok {
		return
	}
	if session.Unbind(playerID, sink) {
		s.registry.DeleteIfEmpty(matchID)
	}
}
