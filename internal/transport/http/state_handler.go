package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"duel-quiz-service/internal/app"
	"duel-quiz-service/internal/domain"
)

// StateHandler serves the persisted match row for the client poll
// channel. It is read-only; the round controller is the sole writer.
type StateHandler struct {
	store app.MatchStore
}

func NewStateHandler(store app.MatchStore) *StateHandler {
	return &StateHandler{store: store}
}

// ServeState handles GET /matches/{matchID}/state.
func (h *StateHandler) ServeState(w http.ResponseWriter, r *http.Request) {
	matchID := r.PathValue("matchID")
	if matchID == "" {
		http.Error(w, "missing match id", http.StatusBadRequest)
		return
	}
	match, err := h.store.GetMatch(r.Context(), matchID)
	if err != nil {
		if errors.Is(err, domain.ErrMatchNotFound) {
			http.Error(w, "match not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(match)
}
