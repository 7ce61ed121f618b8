package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"duel-quiz-service/internal/app"
	"duel-quiz-service/internal/domain"
	"duel-quiz-service/internal/infra/memory"
	redisinfra "duel-quiz-service/internal/infra/redis"
)

type noopSink struct{}

func (noopSink) Send(domain.Event) {}

func makeSession(t *testing.T, matchID string) *app.MatchSession {
	t.Helper()
	store := memory.NewMatchStore()
	match := domain.Match{ID: matchID, Player1ID: "p1", Player2ID: "p2", RoundsTarget: 3}
	store.SeedMatch(match)
	loader := memory.NewStaticQuestionLoader([]domain.Question{
		{ID: "q1", Steps: []domain.Step{{Options: []string{"a", "b"}, CorrectOption: 0}}},
	})
	provider := memory.NewQuestionProvider(loader, time.Minute)
	service := app.NewMatchService(memory.NewSessionRegistry(), store, provider, memory.NewResultFeed(), app.InsecureVerifier{}, clockwork.NewFakeClock(), app.DefaultTimeouts())
	return service.NewSessionForMatch(match)
}

func TestRegistryMarksAndClearsLiveness(t *testing.T) {
	client := newTestClient(t)
	registry := redisinfra.NewSessionRegistry(client, time.Minute)
	ctx := context.Background()

	session := registry.GetOrCreate("m1", func() *app.MatchSession { return makeSession(t, "m1") })
	if n, err := client.Exists(ctx, "match:session:m1").Result(); err != nil || n != 1 {
		t.Fatalf("liveness key not set (n=%d err=%v)", n, err)
	}

	again := registry.GetOrCreate("m1", func() *app.MatchSession {
		t.Fatalf("factory re-ran for an existing session")
		return nil
	})
	if again != session {
		t.Fatalf("two sessions for one match")
	}

	// occupied sessions survive eviction attempts
	sink := noopSink{}
	if _, err := session.Bind(ctx, "p1", sink); err != nil {
		t.Fatalf("bind: %v", err)
	}
	registry.DeleteIfEmpty("m1")
	if _, ok := registry.Get("m1"); !ok {
		t.Fatalf("occupied session evicted")
	}

	session.Unbind("p1", sink)
	registry.DeleteIfEmpty("m1")
	if _, ok := registry.Get("m1"); ok {
		t.Fatalf("empty session survived eviction")
	}
	if n, err := client.Exists(ctx, "match:session:m1").Result(); err != nil || n != 0 {
		t.Fatalf("liveness key not cleared (n=%d err=%v)", n, err)
	}
}
