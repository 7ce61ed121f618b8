package memory

import (
	"sync"

	"duel-quiz-service/internal/app"
)

// SessionRegistry is the in-process implementation of app.SessionRegistry.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*app.MatchSession
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
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
	}
}

// Range snapshots the session set first so scheduler ticks never hold the
// registry lock while a session transition runs.
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
