package memory

import (
	"context"
	"sync"

	"duel-quiz-service/internal/domain"
)

// ResultFeed is an in-process stand-in for the replicated result feed.
// Subscribers receive every payload published for their match.
type ResultFeed struct {
	mu   sync.Mutex
	subs map[string]map[chan domain.RoundResultPayload]struct{}
}

func NewResultFeed() *ResultFeed {
	return &ResultFeed{
		subs: make(map[string]map[chan domain.RoundResultPayload]struct{}),
	}
}

func (f *ResultFeed) PublishResult(_ context.Context, matchID string, payload domain.RoundResultPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs[matchID] {
		select {
		case ch <- payload:
		default:
			// drop rather than block the round controller on a slow consumer
		}
	}
	return nil
}

// SubscribeResults returns a feed channel for the match. The caller must
// invoke the returned cancel function to avoid leaks.
func (f *ResultFeed) SubscribeResults(_ context.Context, matchID string) (<-chan domain.RoundResultPayload, func(), error) {
	ch := make(chan domain.RoundResultPayload, 8)

	f.mu.Lock()
	if f.subs[matchID] == nil {
		f.subs[matchID] = make(map[chan domain.RoundResultPayload]struct{})
	}
	f.subs[matchID][ch] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if set, ok := f.subs[matchID]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(f.subs, matchID)
			}
		}
		f.mu.Unlock()
	}
	return ch, cancel, nil
}
