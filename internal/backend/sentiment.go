package backend

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
)

// SentimentItem is one text sent for scoring.
type SentimentItem struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

type sentimentResponse struct {
	Results []struct {
		ID    *int            `json:"id"`
		Score json.RawMessage `json:"score"`
	} `json:"results"`
}

// SentimentClient calls POST {base}/sentiment/batch.
type SentimentClient struct {
	baseURL string
	client  *http.Client
}

// NewSentimentClient builds a client against baseURL.
func NewSentimentClient(baseURL string, client *http.Client) *SentimentClient {
	return &SentimentClient{baseURL: baseURL, client: client}
}

// Batch scores one chunk. Items with a missing or non-numeric score are absent from the map.
func (c *SentimentClient) Batch(ctx context.Context, items []SentimentItem) (map[int]float64, error) {
	var resp sentimentResponse
	if err := postJSON(ctx, c.client, "sentiment", joinURL(c.baseURL, "/sentiment/batch"), map[string]any{"items": items}, &resp); err != nil {
		return nil, err
	}
	out := make(map[int]float64, len(resp.Results))
	for _, item := range resp.Results {
		if item.ID == nil {
			continue
		}
		if score, ok := parseScore(item.Score); ok {
			out[*item.ID] = score
		}
	}
	return out, nil
}

// parseScore accepts a JSON number or a numeric string. NaN and infinities are rejected.
func parseScore(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
