package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fxnews-crawler/internal/backend"
	"github.com/JakeFAU/fxnews-crawler/internal/crawler"
)

type fakeNLP struct {
	mu       sync.Mutex
	chunks   [][]backend.NLPItem
	failFrom int // chunks at or after this index fail; -1 never
	reply    func(item backend.NLPItem) (backend.NLPResult, bool)
}

func (f *fakeNLP) Batch(_ context.Context, items []backend.NLPItem) (map[int]backend.NLPResult, error) {
	f.mu.Lock()
	idx := len(f.chunks)
	f.chunks = append(f.chunks, items)
	f.mu.Unlock()
	if f.failFrom >= 0 && idx >= f.failFrom {
		return nil, errors.New("nlp unavailable")
	}
	out := make(map[int]backend.NLPResult)
	for _, it := range items {
		if r, ok := f.reply(it); ok {
			out[it.ID] = r
		}
	}
	return out, nil
}

type fakeSentiment struct {
	chunks [][]backend.SentimentItem
	scores map[int]float64
	err    error
}

func (f *fakeSentiment) Batch(_ context.Context, items []backend.SentimentItem) (map[int]float64, error) {
	f.chunks = append(f.chunks, items)
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[int]float64)
	for _, it := range items {
		if s, ok := f.scores[it.ID]; ok {
			out[it.ID] = s
		}
	}
	return out, nil
}

var enrichNow = time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

func makeArticles(n int) []crawler.Article {
	out := make([]crawler.Article, n)
	for i := range out {
		out[i] = crawler.Article{
			Title:       "Bitcoin update number",
			Content:     "Prices moved. Traders reacted. Volume rose.",
			URL:         "https://x.example/" + string(rune('a'+i%26)),
			PublishedAt: enrichNow.Add(-time.Duration(i) * time.Minute),
		}
	}
	return out
}

func TestEnrichUsesBackendsAndFallsBackPerChunk(t *testing.T) {
	t.Parallel()

	nlp := &fakeNLP{failFrom: 1, reply: func(it backend.NLPItem) (backend.NLPResult, bool) {
		if it.ID == 1 {
			return backend.NLPResult{}, false
		}
		return backend.NLPResult{Category: "forex", Summary: "remote", Pairs: []crawler.CurrencyPair{{Base: "EUR", Quote: "USD"}}}, true
	}}
	senti := &fakeSentiment{scores: map[int]float64{0: 0.5, 1: 3, 2: -7}}
	e := New(Config{NLPBatch: 2, SentimentBatch: 3}, nlp, senti, nil)

	out := e.Enrich(context.Background(), makeArticles(4))
	require.Len(t, out, 4)
	require.Len(t, nlp.chunks, 2)
	require.Len(t, senti.chunks, 2)

	// Chunk 0 answered for id 0 only; chunk 1 failed entirely.
	require.Equal(t, "forex", out[0].Category)
	require.Equal(t, "remote", out[0].Summary)
	require.Equal(t, []crawler.CurrencyPair{{Base: "EUR", Quote: "USD"}}, out[0].Pairs)
	for _, i := range []int{1, 2, 3} {
		require.Equal(t, "crypto", out[i].Category)
		require.Equal(t, "Prices moved. Traders reacted.", out[i].Summary)
		require.NotNil(t, out[i].Pairs)
		require.Empty(t, out[i].Pairs)
	}

	require.Equal(t, 0.5, out[0].SentimentScore)
	require.Equal(t, 1.0, out[1].SentimentScore)
	require.Equal(t, -1.0, out[2].SentimentScore)
	require.Equal(t, 0.0, out[3].SentimentScore)
}

func TestEnrichWithFailingBackendsIsLocalAndNeutral(t *testing.T) {
	t.Parallel()

	e := New(Config{}, &fakeNLP{failFrom: 0}, &fakeSentiment{err: errors.New("down")}, nil)
	articles := makeArticles(3)
	out := e.Enrich(context.Background(), articles)

	require.Len(t, out, 3)
	for i, a := range out {
		require.Equal(t, articles[i].URL, a.URL)
		require.Equal(t, "crypto", a.Category)
		require.Zero(t, a.SentimentScore)
	}
}

func TestEnrichKeepsScoresFiniteAndInRange(t *testing.T) {
	t.Parallel()

	senti := &fakeSentiment{scores: map[int]float64{0: math.NaN(), 1: math.Inf(1), 2: math.Inf(-1)}}
	e := New(Config{}, nil, senti, nil)

	out := e.Enrich(context.Background(), makeArticles(3))
	require.Len(t, out, 3)
	require.Equal(t, 0.0, out[0].SentimentScore)
	require.Equal(t, 1.0, out[1].SentimentScore)
	require.Equal(t, -1.0, out[2].SentimentScore)

	_, err := json.Marshal(out)
	require.NoError(t, err)
}

func TestEnrichSortsNewestFirst(t *testing.T) {
	t.Parallel()

	articles := []crawler.Article{
		{Title: "old", PublishedAt: enrichNow.Add(-time.Hour)},
		{Title: "new", PublishedAt: enrichNow},
	}
	out := New(Config{}, nil, nil, nil).Enrich(context.Background(), articles)
	require.Equal(t, "new", out[0].Title)
	require.Equal(t, "old", out[1].Title)
}

func TestEnrichEmpty(t *testing.T) {
	t.Parallel()

	out := New(Config{}, nil, nil, nil).Enrich(context.Background(), nil)
	require.NotNil(t, out)
	require.Empty(t, out)
}

func TestSentimentText(t *testing.T) {
	t.Parallel()

	require.Equal(t, "A sufficiently long title. And a long enough body", SentimentText("A sufficiently long title", "And a long enough body"))
	require.Equal(t, "Short", SentimentText("Short", "tiny"))
	require.Equal(t, "Eleven char", SentimentText("Eleven char", "x"))
}

func TestFilterByPair(t *testing.T) {
	t.Parallel()

	articles := []crawler.EnrichedArticle{
		{Article: crawler.Article{Title: "hint"}, Pairs: []crawler.CurrencyPair{{Base: "usd", Quote: "vnd"}}},
		{Article: crawler.Article{Title: "reversed hint"}, Pairs: []crawler.CurrencyPair{{Base: "VND", Quote: "USD"}}},
		{Article: crawler.Article{Title: "Rate for vnd/usd today"}},
		{Article: crawler.Article{Title: "USD strengthens", Content: "VND weakens"}},
		{Article: crawler.Article{Title: "USD only"}},
	}

	got := FilterByPair(articles, "USD", "vnd")
	require.Len(t, got, 4)
	require.Equal(t, "USD strengthens", got[3].Title)

	require.Len(t, FilterByPair(articles, "USD", ""), 5)
}

func TestSentimentAdjust(t *testing.T) {
	t.Parallel()

	require.Zero(t, SentimentAdjust(nil))
	require.Equal(t, 0.2, SentimentAdjust([]crawler.EnrichedArticle{{SentimentScore: 0.9}, {SentimentScore: 0.5}}))
	require.Equal(t, -0.2, SentimentAdjust([]crawler.EnrichedArticle{{SentimentScore: -0.6}}))
	require.InDelta(t, 0.1, SentimentAdjust([]crawler.EnrichedArticle{{SentimentScore: 0.3}, {SentimentScore: -0.1}}), 1e-9)
}
