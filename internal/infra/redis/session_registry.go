package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"duel-quiz-service/internal/app"
)

// SessionRegistry is a Redis-aware implementation of app.SessionRegistry.
// Notes:
//   - Sessions themselves stay in-process: the round controller needs
//     exclusive ownership of a match for its lifetime, so the deployment
//     pins a match to one instance (sticky routing) and Redis only marks
//     liveness for routing/ops visibility.
//   - For true horizontal scale, session state would move to a shared
//     keyed store with single-writer affinity per match.
type SessionRegistry struct {
	client   *redis.Client
	ttl      time.Duration
	mu       sync.RWMutex
	sessions map[string]*app.MatchSession
}

func NewSessionRegistry(client *redis.Client, ttl time.Duration) *SessionRegistry {
	return &SessionRegistry{
		client:   client,
		ttl:      ttl,
		sessions: make(map[string]*app.MatchSession),
	}
}

func (r *SessionRegistry) GetOrCreate(matchID string, create func() *app.MatchSession) *app.MatchSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session, ok := r.sessions[matchID]; ok {
		return session
	}
	session := create()
	r.sessions[matchID] = session
	// best-effort liveness marker
	_ = r.client.Set(context.Background(), r.key(matchID), "1", r.ttl).Err()
	return session
}

func (r *SessionRegistry) Get(matchID string) (*app.MatchSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[matchID]
	return session, ok
}

func (r *SessionRegistry) DeleteIfEmpty(matchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[matchID]
	if !ok {
		return
	}
	if session.IsEmpty() {
		delete(r.sessions, matchID)
		_ = r.client.Del(context.Background(), r.key(matchID)).Err()
	}
}

func (r *SessionRegistry) Range(fn func(matchID string, session *app.MatchSession)) {
	r.mu.RLock()
	snapshot := make(map[string]*app.MatchSession, len(r.sessions))
	for id, session := range r.sessions {
		snapshot[id] = session
	}
	r.mu.RUnlock()

	for id, session := range snapshot {
		fn(id, session)
	}
}

func (r *SessionRegistry) key(matchID string) string {
	return "match:session:" + matchID
}
