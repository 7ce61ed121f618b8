package domain

// Phase is the sub-state of a round.
type Phase string

const (
	PhaseThinking Phase = "thinking"
	PhaseChoosing Phase = "choosing"
	PhaseResult   Phase = "result"
)

// MatchStatus is the lifecycle state of the persisted match row.
type MatchStatus string

const (
	MatchPending  MatchStatus = "pending"
	MatchActive   MatchStatus = "active"
	MatchFinished MatchStatus = "finished"
	// MatchFailed marks a match that hit a fatal persistence error and
	// needs manual recovery; it is intentionally non-terminal.
	MatchFailed MatchStatus = "failed"
)

// Role identifies which seat of the match a connection occupies.
type Role string

const (
	RoleP1 Role = "p1"
	RoleP2 Role = "p2"
)

// Step is one independently timed and graded sub-question.
type Step struct {
	Index         int      `json:"index"`
	Prompt        string   `json:"prompt"`
	Options       []string `json:"options"`
	CorrectOption int      `json:"correctOption"`
	Marks         int      `json:"marks"` // defaults to 1 if zero
}

// Question is the unit served per round, with one or more ordered steps.
type Question struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
	Steps  []Step `json:"steps"`
}

// MarksOrDefault returns the step's mark value, treating zero as one.
func (s Step) MarksOrDefault() int {
	if s.Marks <= 0 {
		return 1
	}
	return s.Marks
}

// Match mirrors the persisted match row. The round controller is the only
// writer; client fallback channels read it for reconciliation.
type Match struct {
	ID                 string              `json:"id"`
	Player1ID          string              `json:"player1Id"`
	Player2ID          string              `json:"player2Id"`
	RoundsTarget       int                 `json:"roundsTarget"`
	Status             MatchStatus         `json:"status"`
	CurrentRoundID     string              `json:"currentRoundId"`
	CurrentRoundNumber int                 `json:"currentRoundNumber"`
	ResultsVersion     int64               `json:"resultsVersion"`
	ResultsPayload     *RoundResultPayload `json:"resultsPayload,omitempty"`
	WinnerID           string              `json:"winnerId,omitempty"`
}

// PlayerRoundResult is one player's slice of a round result.
type PlayerRoundResult struct {
	Answer    *int `json:"answer"` // nil when nothing was submitted
	Correct   bool `json:"correct"`
	Marks     int  `json:"marks"`     // marks earned in this round
	Total     int  `json:"total"`     // cumulative match score
	RoundsWon int  `json:"roundsWon"` // cumulative, draws count for both
}

// StepResult records the grading of a single step within a round.
type StepResult struct {
	StepIndex     int             `json:"stepIndex"`
	CorrectOption int             `json:"correctOption"`
	Selections    map[string]*int `json:"selections"` // player id -> chosen option
	Marks         map[string]int  `json:"marks"`      // player id -> marks awarded
}

// RoundResultPayload is the immutable unit written to the match store and
// broadcast on every channel. Once produced for a (matchId, roundId) pair
// it never changes; ResultsVersion strictly increases per match.
type RoundResultPayload struct {
	RoundID        string                       `json:"roundId"`
	RoundNumber    int                          `json:"roundNumber"`
	Players        map[string]PlayerRoundResult `json:"players"`
	RoundWinner    *string                      `json:"roundWinner"` // nil on a draw
	MatchOver      bool                         `json:"matchOver"`
	MatchWinnerID  *string                      `json:"matchWinnerId"` // nil until over, or drawn
	ResultsVersion int64                        `json:"resultsVersion"`
	StepResults    []StepResult                 `json:"stepResults,omitempty"`
}

// RatingChange reports a single player's Elo adjustment at match end.
type RatingChange struct {
	PlayerID string `json:"playerId"`
	Before   int    `json:"before"`
	After    int    `json:"after"`
}

// PlayerRating is a player's persisted rating row.
type PlayerRating struct {
	PlayerID string `json:"playerId"`
	Rating   int    `json:"rating"`
}
