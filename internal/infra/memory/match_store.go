package memory

import (
	"context"
	"sync"

	"duel-quiz-service/internal/domain"
)

const defaultRating = 1200

// MatchStore is an in-process implementation of app.MatchStore, used when
// no Postgres URL is configured and throughout the unit tests.
type MatchStore struct {
	mu      sync.RWMutex
	matches map[string]*domain.Match
	ratings map[string]int
}

func NewMatchStore() *MatchStore {
	return &MatchStore{
		matches: make(map[string]*domain.Match),
		ratings: make(map[string]int),
	}
}

// SeedMatch installs a provisioned match row. Match provisioning is an
// external collaborator; the round controller never creates matches.
func (s *MatchStore) SeedMatch(match domain.Match) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if match.Status == "" {
		match.Status = domain.MatchPending
	}
	s.matches[match.ID] = &match
}

// SeedRating installs a player rating row.
func (s *MatchStore) SeedRating(playerID string, rating int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ratings[playerID] = rating
}

func (s *MatchStore) GetMatch(_ context.Context, matchID string) (domain.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	match, ok := s.matches[matchID]
	if !ok {
		return domain.Match{}, domain.ErrMatchNotFound
	}
	return *match, nil
}

func (s *MatchStore) AdvanceRound(_ context.Context, matchID, roundID string, roundNumber int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	match, ok := s.matches[matchID]
	if !ok {
		return domain.ErrMatchNotFound
	}
	match.Status = domain.MatchActive
	match.CurrentRoundID = roundID
	match.CurrentRoundNumber = roundNumber
	return nil
}

func (s *MatchStore) WriteRoundResult(_ context.Context, matchID string, payload domain.RoundResultPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	match, ok := s.matches[matchID]
	if !ok {
		return domain.ErrMatchNotFound
	}
	match.ResultsVersion = payload.ResultsVersion
	match.ResultsPayload = &payload
	return nil
}

func (s *MatchStore) FinishMatch(_ context.Context, matchID, winnerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	match, ok := s.matches[matchID]
	if !ok {
		return domain.ErrMatchNotFound
	}
	match.Status = domain.MatchFinished
	match.WinnerID = winnerID
	return nil
}

func (s *MatchStore) MarkFailed(_ context.Context, matchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	match, ok := s.matches[matchID]
	if !ok {
		return domain.ErrMatchNotFound
	}
	match.Status = domain.MatchFailed
	return nil
}

func (s *MatchStore) GetRating(_ context.Context, playerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rating, ok := s.ratings[playerID]; ok {
		return rating, nil
	}
	return defaultRating, nil
}

func (s *MatchStore) UpdateRating(_ context.Context, playerID string, rating int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ratings[playerID] = rating
	return nil
}
