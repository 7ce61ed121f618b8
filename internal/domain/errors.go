package domain

import "errors"

var (
	// ErrMatchNotFound is returned when no match row exists for the id.
	ErrMatchNotFound = errors.New("match not found")
	// ErrSessionNotFound is returned when no live session exists for the match.
	ErrSessionNotFound = errors.New("match session not found")
	// ErrNotParticipant is returned when a player id is not part of the match.
	ErrNotParticipant = errors.New("player is not a participant of this match")
	// ErrOutOfPhase is returned for a message that is invalid in the current phase.
	ErrOutOfPhase = errors.New("action not valid in current phase")
	// ErrStepMismatch is returned when a submission targets a stale step.
	ErrStepMismatch = errors.New("submission does not target the active step")
	// ErrOptionOutOfRange is returned for an option index outside the step.
	ErrOptionOutOfRange = errors.New("option index out of range")
	// ErrDuplicateAnswer is returned when a player re-submits for the same step.
	ErrDuplicateAnswer = errors.New("answer already submitted for this step")
	// ErrMatchOver is returned for messages arriving after finalization.
	ErrMatchOver = errors.New("match already finished")
	// ErrQuestionUnavailable indicates the question provider failed.
	ErrQuestionUnavailable = errors.New("question unavailable")
	// ErrTokenRejected indicates identity verification failed.
	ErrTokenRejected = errors.New("token rejected")
)
