package app

import (
	"context"
	"testing"

	"github.com/jonboulle/clockwork"

	"duel-quiz-service/internal/domain"
)

type nullSink struct{}

func (nullSink) Send(domain.Event) {}

// fakeStore is a minimal MatchStore for in-package tests; the exported
// surface is exercised against the real stores elsewhere.
type fakeStore struct {
	ratings map[string]int
	writes  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{ratings: make(map[string]int)}
}

func (s *fakeStore) GetMatch(context.Context, string) (domain.Match, error) {
	return domain.Match{}, domain.ErrMatchNotFound
}
func (s *fakeStore) AdvanceRound(context.Context, string, string, int) error { return nil }
func (s *fakeStore) WriteRoundResult(_ context.Context, _ string, _ domain.RoundResultPayload) error {
	s.writes++
	return nil
}
func (s *fakeStore) FinishMatch(context.Context, string, string) error { return nil }
func (s *fakeStore) MarkFailed(context.Context, string) error          { return nil }
func (s *fakeStore) GetRating(_ context.Context, playerID string) (int, error) {
	if rating, ok := s.ratings[playerID]; ok {
		return rating, nil
	}
	return 1200, nil
}
func (s *fakeStore) UpdateRating(_ context.Context, playerID string, rating int) error {
	s.ratings[playerID] = rating
	return nil
}

type fakeProvider struct{ question domain.Question }

func (p fakeProvider) FetchQuestion(context.Context) (domain.Question, error) {
	return p.question, nil
}

type nopPublisher struct{}

func (nopPublisher) PublishResult(context.Context, string, domain.RoundResultPayload) error {
	return nil
}

func newTestSession(seedVersion int64) (*MatchSession, *fakeStore) {
	store := newFakeStore()
	match := domain.Match{
		ID:             "match-7",
		Player1ID:      "alice",
		Player2ID:      "bob",
		RoundsTarget:   3,
		ResultsVersion: seedVersion,
	}
	provider := fakeProvider{question: domain.Question{
		ID:     "q1",
		Prompt: "One step",
		Steps: []domain.Step{
			{Index: 0, Prompt: "2 + 2?", Options: []string{"3", "4"}, CorrectOption: 1, Marks: 1},
		},
	}}
	return newMatchSession(match, store, provider, nopPublisher{}, clockwork.NewFakeClock(), DefaultTimeouts()), store
}

func driveToResult(t *testing.T, session *MatchSession) {
	t.Helper()
	ctx := context.Background()
	if _, err := session.Bind(ctx, "alice", nullSink{}); err != nil {
		t.Fatalf("bind alice: %v", err)
	}
	if _, err := session.Bind(ctx, "bob", nullSink{}); err != nil {
		t.Fatalf("bind bob: %v", err)
	}
	if err := session.Ready(ctx, "alice"); err != nil {
		t.Fatalf("ready alice: %v", err)
	}
	if err := session.Ready(ctx, "bob"); err != nil {
		t.Fatalf("ready bob: %v", err)
	}
	if err := session.Submit(ctx, "alice", 0, 1); err != nil {
		t.Fatalf("submit alice: %v", err)
	}
	if err := session.Submit(ctx, "bob", 0, 0); err != nil {
		t.Fatalf("submit bob: %v", err)
	}
}

func TestProduceRoundResultIsIdempotent(t *testing.T) {
	session, store := newTestSession(0)
	driveToResult(t, session)

	session.mu.Lock()
	first, ok := session.resulted[session.roundID]
	if !ok {
		session.mu.Unlock()
		t.Fatalf("expected a produced payload")
	}
	versionBefore := session.version
	totalBefore := session.players[0].total
	roundsWonBefore := session.players[0].roundsWon
	writesBefore := store.writes

	// a scheduler re-fire or client re-submission must be a strict no-op
	session.produceRoundResultLocked(context.Background())
	second := session.resulted[session.roundID]
	versionAfter := session.version
	totalAfter := session.players[0].total
	roundsWonAfter := session.players[0].roundsWon
	writesAfter := store.writes
	session.mu.Unlock()

	if first != second {
		t.Fatalf("payload replaced on replay")
	}
	if versionAfter != versionBefore {
		t.Fatalf("version moved on replay: %d -> %d", versionBefore, versionAfter)
	}
	if totalAfter != totalBefore || roundsWonAfter != roundsWonBefore {
		t.Fatalf("scores double-awarded on replay")
	}
	if writesAfter != writesBefore {
		t.Fatalf("replay hit the store again")
	}
}

func TestResultsVersionSeededFromMatchRow(t *testing.T) {
	session, _ := newTestSession(41)
	driveToResult(t, session)

	session.mu.Lock()
	payload := session.resulted[session.roundID]
	session.mu.Unlock()
	if payload.ResultsVersion != 42 {
		t.Fatalf("expected version to continue from the row, got %d", payload.ResultsVersion)
	}
}

func TestAtMostOneActiveQuestion(t *testing.T) {
	session, _ := newTestSession(0)
	driveToResult(t, session)

	session.mu.Lock()
	defer session.mu.Unlock()
	if session.question == nil {
		t.Fatalf("expected an active question during result phase")
	}
	if session.stepIndex >= len(session.question.Steps) {
		t.Fatalf("step index %d outside the active step list", session.stepIndex)
	}
}
