package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// RerankClient scores (query, document) pairs with a cross-encoder served behind
// a llama.cpp-style /v1/rerank endpoint. Scores are raw logits.
type RerankClient struct {
	BaseURL string
	APIKey  string
	Model   string
	client  *http.Client
}

// NewRerankClient creates a new rerank client.
func NewRerankClient(baseURL, apiKey, model string) *RerankClient {
	return &RerankClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		client:  newHTTPClient(),
	}
}

// RerankRequest represents the request payload for the rerank API.
type RerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

// RerankResult is the score for the document at Index.
type RerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

// RerankResponse represents the response from the rerank API.
type RerankResponse struct {
	Results []RerankResult `json:"results"`
}

// ScorePairs returns one logit per text, aligned with texts.
func (c *RerankClient) ScorePairs(ctx context.Context, query string, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	url := fmt.Sprintf("%s/v1/rerank", c.BaseURL)

	body, err := json.Marshal(RerankRequest{Model: c.Model, Query: query, Documents: texts, TopN: len(texts)})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.APIKey))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, &StatusError{Code: resp.StatusCode, Body: string(raw)}
	}

	var rr RerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(rr.Results) != len(texts) {
		return nil, fmt.Errorf("expected %d rerank scores, got %d", len(texts), len(rr.Results))
	}

	scores := make([]float64, len(texts))
	seen := make([]bool, len(texts))
	for _, r := range rr.Results {
		if r.Index < 0 || r.Index >= len(texts) || seen[r.Index] {
			return nil, fmt.Errorf("invalid rerank result index %d", r.Index)
		}
		seen[r.Index] = true
		scores[r.Index] = r.RelevanceScore
	}
	return scores, nil
}
