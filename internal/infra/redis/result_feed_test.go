package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"duel-quiz-service/internal/domain"
	redisinfra "duel-quiz-service/internal/infra/redis"
)

func newTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestResultFeedRoundTrip(t *testing.T) {
	client := newTestClient(t)
	feed := redisinfra.NewResultFeed(client)
	ctx := context.Background()

	ch, cancel, err := feed.SubscribeResults(ctx, "m1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	winner := "alice"
	payload := domain.RoundResultPayload{
		RoundID:        "r1",
		RoundNumber:    2,
		RoundWinner:    &winner,
		ResultsVersion: 4,
		Players: map[string]domain.PlayerRoundResult{
			"alice": {Correct: true, Marks: 2, Total: 5, RoundsWon: 2},
		},
	}
	if err := feed.PublishResult(ctx, "m1", payload); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-ch:
		if got.RoundID != "r1" || got.ResultsVersion != 4 {
			t.Fatalf("decoded %+v", got)
		}
		if got.RoundWinner == nil || *got.RoundWinner != "alice" {
			t.Fatalf("round winner lost in transit: %+v", got.RoundWinner)
		}
		if got.Players["alice"].Total != 5 {
			t.Fatalf("player slice lost in transit: %+v", got.Players)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("published payload never arrived")
	}
}

func TestResultFeedIsolatesMatches(t *testing.T) {
	client := newTestClient(t)
	feed := redisinfra.NewResultFeed(client)
	ctx := context.Background()

	ch, cancel, err := feed.SubscribeResults(ctx, "m2")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if err := feed.PublishResult(ctx, "m1", domain.RoundResultPayload{RoundID: "r1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-ch:
		t.Fatalf("cross-match delivery: %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestResultFeedCancelClosesStream(t *testing.T) {
	client := newTestClient(t)
	feed := redisinfra.NewResultFeed(client)

	ch, cancel, err := feed.SubscribeResults(context.Background(), "m1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()

	select {
	case _, open := <-ch:
		if open {
			t.Fatalf("received a payload after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stream not closed after cancel")
	}
}
