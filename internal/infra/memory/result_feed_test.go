package memory_test

import (
	"context"
	"testing"
	"time"

	"duel-quiz-service/internal/domain"
	"duel-quiz-service/internal/infra/memory"
)

func TestResultFeedDeliversToMatchSubscribers(t *testing.T) {
	feed := memory.NewResultFeed()
	ctx := context.Background()

	ch, cancel, err := feed.SubscribeResults(ctx, "m1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	other, cancelOther, err := feed.SubscribeResults(ctx, "m2")
	if err != nil {
		t.Fatalf("subscribe other: %v", err)
	}
	defer cancelOther()

	payload := domain.RoundResultPayload{RoundID: "r1", ResultsVersion: 1}
	if err := feed.PublishResult(ctx, "m1", payload); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-ch:
		if got.RoundID != "r1" {
			t.Fatalf("got round %q", got.RoundID)
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber never received the payload")
	}

	select {
	case got := <-other:
		t.Fatalf("cross-match delivery: %+v", got)
	default:
	}
}

func TestResultFeedCancelClosesChannel(t *testing.T) {
	feed := memory.NewResultFeed()
	ch, cancel, err := feed.SubscribeResults(context.Background(), "m1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	cancel()
	cancel() // second cancel must be a no-op

	if _, open := <-ch; open {
		t.Fatalf("channel still open after cancel")
	}
	if err := feed.PublishResult(context.Background(), "m1", domain.RoundResultPayload{RoundID: "r2"}); err != nil {
		t.Fatalf("publish after cancel: %v", err)
	}
}

func TestResultFeedDropsWhenSubscriberIsFull(t *testing.T) {
	feed := memory.NewResultFeed()
	ch, cancel, err := feed.SubscribeResults(context.Background(), "m1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	// fill the buffer and one more; the overflow must not block
	for i := 0; i < cap(ch)+1; i++ {
		if err := feed.PublishResult(context.Background(), "m1", domain.RoundResultPayload{ResultsVersion: int64(i)}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	if len(ch) != cap(ch) {
		t.Fatalf("buffered %d, want full buffer %d", len(ch), cap(ch))
	}
}
