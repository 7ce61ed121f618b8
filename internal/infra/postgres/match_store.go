package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"duel-quiz-service/internal/domain"
)

const defaultRating = 1200

// MatchStore persists the authoritative match row and player ratings.
// Only the round controller writes here; the poll channel reads it.
type MatchStore struct {
	pool *pgxpool.Pool
}

func NewMatchStore(pool *pgxpool.Pool) *MatchStore {
	return &MatchStore{pool: pool}
}

func (s *MatchStore) GetMatch(ctx context.Context, matchID string) (domain.Match, error) {
	var (
		match domain.Match
		raw   []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, player1_id, player2_id, rounds_target, status,
		       current_round_id, current_round_number, results_version,
		       results_payload, winner_id
		FROM matches WHERE id=$1`, matchID).Scan(
		&match.ID, &match.Player1ID, &match.Player2ID, &match.RoundsTarget,
		&match.Status, &match.CurrentRoundID, &match.CurrentRoundNumber,
		&match.ResultsVersion, &raw, &match.WinnerID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Match{}, domain.ErrMatchNotFound
	}
	if err != nil {
		return domain.Match{}, fmt.Errorf("get match: %w", err)
	}
	if len(raw) > 0 {
		var payload domain.RoundResultPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return domain.Match{}, fmt.Errorf("unmarshal results payload: %w", err)
		}
		match.ResultsPayload = &payload
	}
	return match, nil
}

func (s *MatchStore) AdvanceRound(ctx context.Context, matchID, roundID string, roundNumber int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE matches
		SET status=$2, current_round_id=$3, current_round_number=$4
		WHERE id=$1`, matchID, domain.MatchActive, roundID, roundNumber)
	if err != nil {
		return fmt.Errorf("advance round: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMatchNotFound
	}
	return nil
}

// WriteRoundResult stores the payload, guarded so a replayed write can
// never move results_version backwards.
func (s *MatchStore) WriteRoundResult(ctx context.Context, matchID string, payload domain.RoundResultPayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal results payload: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE matches
		SET results_version=$2, results_payload=$3
		WHERE id=$1 AND results_version < $2`, matchID, payload.ResultsVersion, raw)
	if err != nil {
		return fmt.Errorf("write round result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the match is gone or the version was already written;
		// the latter is the idempotent replay case and not an error.
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM matches WHERE id=$1)`, matchID).Scan(&exists); err != nil {
			return fmt.Errorf("write round result: %w", err)
		}
		if !exists {
			return domain.ErrMatchNotFound
		}
	}
	return nil
}

func (s *MatchStore) FinishMatch(ctx context.Context, matchID, winnerID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE matches SET status=$2, winner_id=$3 WHERE id=$1`,
		matchID, domain.MatchFinished, winnerID)
	if err != nil {
		return fmt.Errorf("finish match: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMatchNotFound
	}
	return nil
}

func (s *MatchStore) MarkFailed(ctx context.Context, matchID string) error {
	if _, err := s.pool.Exec(ctx, `
		UPDATE matches SET status=$2 WHERE id=$1`, matchID, domain.MatchFailed); err != nil {
		return fmt.Errorf("mark match failed: %w", err)
	}
	return nil
}

func (s *MatchStore) GetRating(ctx context.Context, playerID string) (int, error) {
	var rating int
	err := s.pool.QueryRow(ctx, `SELECT rating FROM players WHERE id=$1`, playerID).Scan(&rating)
	if errors.Is(err, pgx.ErrNoRows) {
		return defaultRating, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get rating: %w", err)
	}
	return rating, nil
}

func (s *MatchStore) UpdateRating(ctx context.Context, playerID string, rating int) error {
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO players (id, rating) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET rating=EXCLUDED.rating`, playerID, rating); err != nil {
		return fmt.Errorf("update rating: %w", err)
	}
	return nil
}

// CreateMatch seeds a provisioned match row. Provisioning is an external
// collaborator; this exists for tooling and integration tests.
func (s *MatchStore) CreateMatch(ctx context.Context, match domain.Match) error {
	status := match.Status
	if status == "" {
		status = domain.MatchPending
	}
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO matches (id, player1_id, player2_id, rounds_target, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		match.ID, match.Player1ID, match.Player2ID, match.RoundsTarget, status); err != nil {
		return fmt.Errorf("create match: %w", err)
	}
	return nil
}
