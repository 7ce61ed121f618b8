package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"duel-quiz-service/internal/domain"
)

// ResultFeed replicates round results over Redis pub/sub. It is the
// second of the three delivery channels: independent of the direct push,
// slower, and consumed by clients through SubscribeResults.
type ResultFeed struct {
	client *redis.Client
}

func NewResultFeed(client *redis.Client) *ResultFeed {
	return &ResultFeed{client: client}
}

func (f *ResultFeed) PublishResult(ctx context.Context, matchID string, payload domain.RoundResultPayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal result payload: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel(matchID), raw).Err(); err != nil {
		return fmt.Errorf("publish result: %w", err)
	}
	return nil
}

// SubscribeResults delivers every payload published for the match until
// cancel is called. Undecodable messages are logged and skipped.
func (f *ResultFeed) SubscribeResults(ctx context.Context, matchID string) (<-chan domain.RoundResultPayload, func(), error) {
	sub := f.client.Subscribe(ctx, f.channel(matchID))
	// force the subscription before returning so no publish is missed
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe results: %w", err)
	}

	out := make(chan domain.RoundResultPayload, 8)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var payload domain.RoundResultPayload
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				log.Warn().Err(err).Str("match_id", matchID).Msg("undecodable result feed message")
				continue
			}
			select {
			case out <- payload:
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() { _ = sub.Close() }
	return out, cancel, nil
}

func (f *ResultFeed) channel(matchID string) string {
	return "match:" + matchID + ":results"
}
