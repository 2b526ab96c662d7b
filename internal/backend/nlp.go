package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/JakeFAU/fxnews-crawler/internal/crawler"
)

// NLPItem is one article sent for classification.
type NLPItem struct {
	ID      int    `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// NLPResult is the usable part of one NLP reply item.
type NLPResult struct {
	Category string
	Summary  string
	Pairs    []crawler.CurrencyPair
}

type nlpResponse struct {
	Results []nlpResultItem `json:"results"`
}

type nlpResultItem struct {
	ID       *int            `json:"id"`
	Category string          `json:"category"`
	Summary  string          `json:"summary"`
	Pairs    json.RawMessage `json:"pairs"`
	Error    string          `json:"error"`
}

// NLPClient calls POST {base}/nlp/batch.
type NLPClient struct {
	baseURL string
	client  *http.Client
}

// NewNLPClient builds a client against baseURL.
func NewNLPClient(baseURL string, client *http.Client) *NLPClient {
	return &NLPClient{baseURL: baseURL, client: client}
}

// DefaultCategory labels reply items the backend answered without a category.
const DefaultCategory = "general"

// Batch classifies one chunk. An error means no item of the chunk has a result. Items that
// carry an error are left out of the map.
func (c *NLPClient) Batch(ctx context.Context, items []NLPItem) (map[int]NLPResult, error) {
	var resp nlpResponse
	if err := postJSON(ctx, c.client, "nlp", joinURL(c.baseURL, "/nlp/batch"), map[string]any{"articles": items}, &resp); err != nil {
		return nil, err
	}
	out := make(map[int]NLPResult, len(resp.Results))
	for _, item := range resp.Results {
		if item.ID == nil || item.Error != "" {
			continue
		}
		category := strings.TrimSpace(item.Category)
		if category == "" {
			category = DefaultCategory
		}
		out[*item.ID] = NLPResult{
			Category: category,
			Summary:  item.Summary,
			Pairs:    decodePairs(item.Pairs),
		}
	}
	return out, nil
}

// decodePairs accepts [{"base":"EUR","quote":"USD"}] as well as ["EUR/USD"]. Anything else
// yields no pairs.
func decodePairs(raw json.RawMessage) []crawler.CurrencyPair {
	if len(raw) == 0 {
		return nil
	}
	var objects []crawler.CurrencyPair
	if err := json.Unmarshal(raw, &objects); err == nil {
		out := objects[:0]
		for _, p := range objects {
			if p.Base != "" || p.Quote != "" {
				out = append(out, p)
			}
		}
		return out
	}
	var strs []string
	if err := json.Unmarshal(raw, &strs); err != nil {
		return nil
	}
	var out []crawler.CurrencyPair
	for _, s := range strs {
		base, quote, ok := strings.Cut(s, "/")
		if !ok {
			continue
		}
		out = append(out, crawler.CurrencyPair{Base: strings.TrimSpace(base), Quote: strings.TrimSpace(quote)})
	}
	return out
}
