package app

import (
	"context"
	"strings"

	"duel-quiz-service/internal/domain"
)

// InsecureVerifier treats the token as an opaque pre-issued player id.
// Identity issuance is an external collaborator; deployments swap in a
// verifier backed by the real identity service.
type InsecureVerifier struct{}

func (InsecureVerifier) Verify(_ context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", domain.ErrTokenRejected
	}
	return token, nil
}
