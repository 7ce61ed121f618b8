package domain

import (
	"encoding/json"
	"time"
)

// Wire event type names. Every websocket frame is a {type, payload} envelope.
const (
	EventConnected       = "connected"
	EventBothConnected   = "bothConnected"
	EventRoundStart      = "roundStart"
	EventPhaseChange     = "phaseChange"
	EventRoundResult     = "roundResult"
	EventMatchEnd        = "matchEnd"
	EventValidationError = "validationError"
	EventGameError       = "gameError"
)

// Event is an outbound envelope.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Envelope is the inbound form, decoded in two stages.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type ConnectedPayload struct {
	MatchID  string `json:"matchId"`
	PlayerID string `json:"playerId"`
	Role     Role   `json:"role"`
}

type RoundStartPayload struct {
	RoundID     string    `json:"roundId"`
	RoundNumber int       `json:"roundNumber"`
	Phase       Phase     `json:"phase"`
	Prompt      string    `json:"prompt"`
	StepCount   int       `json:"stepCount"`
	Deadline    time.Time `json:"deadline"`
}

// PhaseChangePayload announces choosing/result boundaries within a round.
// CorrectOption and Marks are only set when Phase is result, so the step
// outcome can be rendered before the round-level payload exists.
type PhaseChangePayload struct {
	Phase         Phase          `json:"phase"`
	StepIndex     int            `json:"stepIndex"`
	Options       []string       `json:"options,omitempty"`
	Prompt        string         `json:"prompt,omitempty"`
	Deadline      time.Time      `json:"deadline"`
	CorrectOption *int           `json:"correctOption,omitempty"`
	Marks         map[string]int `json:"marks,omitempty"`
}

type MatchEndPayload struct {
	WinnerID      *string                      `json:"winnerId"`
	Summary       map[string]PlayerRoundResult `json:"summary"`
	RatingChanges []RatingChange               `json:"ratingChanges,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
