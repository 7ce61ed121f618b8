package client_test

import (
	"context"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"duel-quiz-service/internal/app"
	"duel-quiz-service/internal/client"
	"duel-quiz-service/internal/domain"
	"duel-quiz-service/internal/infra/memory"
	transport "duel-quiz-service/internal/transport/http"
)

type matchBackend struct {
	url  string
	feed *memory.ResultFeed
}

func startBackend(t *testing.T) *matchBackend {
	t.Helper()
	store := memory.NewMatchStore()
	store.SeedMatch(domain.Match{ID: "match-1", Player1ID: "alice", Player2ID: "bob", RoundsTarget: 1})

	loader := memory.NewStaticQuestionLoader([]domain.Question{
		{
			ID:     "q1",
			Prompt: "Warmup",
			Steps: []domain.Step{
				{Index: 0, Prompt: "Pick b", Options: []string{"a", "b"}, CorrectOption: 1, Marks: 1},
			},
		},
	})
	registry := memory.NewSessionRegistry()
	feed := memory.NewResultFeed()
	clock := clockwork.NewRealClock()
	timeouts := app.Timeouts{
		Thinking:    300 * time.Millisecond,
		Choosing:    300 * time.Millisecond,
		ResultDelay: 50 * time.Millisecond,
	}
	service := app.NewMatchService(registry, store, memory.NewQuestionProvider(loader, time.Minute), feed, app.InsecureVerifier{}, clock, timeouts)

	scheduler := app.NewScheduler(registry, clock, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	go scheduler.Run(ctx)

	mux := nethttp.NewServeMux()
	mux.HandleFunc("/ws", transport.NewWSHandler(service).ServeWS)
	mux.HandleFunc("GET /matches/{matchID}/state", transport.NewStateHandler(store).ServeState)
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		cancel()
		server.Close()
	})

	return &matchBackend{
		url:  "ws" + strings.TrimPrefix(server.URL, "http") + "/ws",
		feed: feed,
	}
}

// scriptedPlayer answers every choosing phase with a fixed option.
type scriptedPlayer struct {
	client *client.MatchClient
	ended  chan domain.MatchEndPayload
}

func newScriptedPlayer(t *testing.T, backend *matchBackend, token string, option int, results chan<- domain.RoundResultPayload) *scriptedPlayer {
	t.Helper()
	player := &scriptedPlayer{ended: make(chan domain.MatchEndPayload, 1)}
	cb := client.Callbacks{
		OnRoundStart: func(domain.RoundStartPayload) {
			if err := player.client.Ready(); err != nil {
				t.Errorf("%s ready: %v", token, err)
			}
		},
		OnPhaseChange: func(payload domain.PhaseChangePayload) {
			if payload.Phase == domain.PhaseChoosing {
				if err := player.client.Answer(payload.StepIndex, option); err != nil {
					t.Errorf("%s answer: %v", token, err)
				}
			}
		},
		OnResult: func(payload domain.RoundResultPayload) {
			if results != nil {
				results <- payload
			}
		},
		OnMatchEnd: func(payload domain.MatchEndPayload) {
			player.ended <- payload
		},
		OnError: func(message string) {
			t.Errorf("%s server error: %s", token, message)
		},
	}
	player.client = client.NewMatchClient(backend.url, "match-1", token, backend.feed, nil, cb, client.Options{})
	return player
}

func TestMatchClientPlaysFullMatch(t *testing.T) {
	backend := startBackend(t)

	results := make(chan domain.RoundResultPayload, 4)
	alice := newScriptedPlayer(t, backend, "alice", 1, results)
	bob := newScriptedPlayer(t, backend, "bob", 0, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	errs := make(chan error, 2)
	go func() { errs <- alice.client.Run(ctx) }()
	go func() { errs <- bob.client.Run(ctx) }()

	select {
	case result := <-results:
		if result.RoundWinner == nil || *result.RoundWinner != "alice" {
			t.Fatalf("round winner = %v, want alice", result.RoundWinner)
		}
		if result.ResultsVersion != 1 {
			t.Fatalf("results version = %d, want 1", result.ResultsVersion)
		}
	case <-ctx.Done():
		t.Fatalf("no round result before timeout")
	}

	select {
	case end := <-alice.ended:
		if end.WinnerID == nil || *end.WinnerID != "alice" {
			t.Fatalf("match winner = %v, want alice", end.WinnerID)
		}
	case <-ctx.Done():
		t.Fatalf("no match end before timeout")
	}

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			if err != nil {
				t.Fatalf("client run: %v", err)
			}
		case <-ctx.Done():
			t.Fatalf("client never returned")
		}
	}

	// push and feed both carried round 1; the render hook fired once
	select {
	case extra := <-results:
		t.Fatalf("duplicate render of %+v", extra)
	default:
	}
}
