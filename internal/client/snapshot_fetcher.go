package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"duel-quiz-service/internal/domain"
)

// HTTPSnapshotFetcher reads the match state poll endpoint.
type HTTPSnapshotFetcher struct {
	baseURL string
	client  *http.Client
}

func NewHTTPSnapshotFetcher(baseURL string, httpClient *http.Client) *HTTPSnapshotFetcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPSnapshotFetcher{baseURL: baseURL, client: httpClient}
}

func (f *HTTPSnapshotFetcher) FetchSnapshot(ctx context.Context, matchID string) (domain.Match, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/matches/"+matchID+"/state", nil)
	if err != nil {
		return domain.Match{}, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return domain.Match{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.Match{}, fmt.Errorf("match state: unexpected status %d", resp.StatusCode)
	}
	var match domain.Match
	if err := json.NewDecoder(resp.Body).Decode(&match); err != nil {
		return domain.Match{}, fmt.Errorf("decode match state: %w", err)
	}
	return match, nil
}
