// Package enrich attaches category, summary, currency pairs and sentiment to crawled articles.
//
// Articles go to the NLP and sentiment backends in id-tagged chunks. Whatever a backend does
// not answer for is filled in locally: a keyword classifier and an extractive summary for NLP,
// a neutral score for sentiment. Enrichment never fails.
package enrich

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/fxnews-crawler/internal/backend"
	"github.com/JakeFAU/fxnews-crawler/internal/crawler"
	"github.com/JakeFAU/fxnews-crawler/internal/metrics"
)

// NLPBackend classifies a chunk of articles.
type NLPBackend interface {
	Batch(ctx context.Context, items []backend.NLPItem) (map[int]backend.NLPResult, error)
}

// SentimentBackend scores a chunk of texts.
type SentimentBackend interface {
	Batch(ctx context.Context, items []backend.SentimentItem) (map[int]float64, error)
}

// Config sets chunk sizes.
type Config struct {
	NLPBatch       int
	SentimentBatch int
}

// Enricher runs batch enrichment. Nil backends mean local fallback only.
type Enricher struct {
	cfg       Config
	nlp       NLPBackend
	sentiment SentimentBackend
	logger    *zap.Logger
}

// New constructs an Enricher.
func New(cfg Config, nlp NLPBackend, sentiment SentimentBackend, logger *zap.Logger) *Enricher {
	if cfg.NLPBatch <= 0 {
		cfg.NLPBatch = 100
	}
	if cfg.SentimentBatch <= 0 {
		cfg.SentimentBatch = 200
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{cfg: cfg, nlp: nlp, sentiment: sentiment, logger: logger}
}

// Enrich returns one EnrichedArticle per input, newest first.
func (e *Enricher) Enrich(ctx context.Context, articles []crawler.Article) []crawler.EnrichedArticle {
	if len(articles) == 0 {
		return []crawler.EnrichedArticle{}
	}
	nlp := e.classify(ctx, articles)
	scores := e.score(ctx, articles)

	out := make([]crawler.EnrichedArticle, len(articles))
	var nlpMisses, scoreMisses int
	for i, a := range articles {
		res, ok := nlp[i]
		if !ok {
			nlpMisses++
		}
		category := res.Category
		if category == "" {
			category = Classify(a.Title, a.Content)
		}
		summary := res.Summary
		if strings.TrimSpace(summary) == "" {
			summary = Summarize(a.Content)
		}
		pairs := res.Pairs
		if pairs == nil {
			pairs = []crawler.CurrencyPair{}
		}
		score, ok := scores[i]
		if !ok {
			scoreMisses++
		}

		out[i] = crawler.EnrichedArticle{
			Article:        a,
			Category:       category,
			Summary:        summary,
			Pairs:          pairs,
			SentimentScore: clamp(score, -1, 1),
		}
	}
	metrics.ObserveEnrichFallback("nlp", nlpMisses)
	metrics.ObserveEnrichFallback("sentiment", scoreMisses)

	SortNewestFirst(out)
	return out
}

func (e *Enricher) classify(ctx context.Context, articles []crawler.Article) map[int]backend.NLPResult {
	results := make(map[int]backend.NLPResult, len(articles))
	if e.nlp == nil {
		return results
	}
	items := make([]backend.NLPItem, len(articles))
	for i, a := range articles {
		items[i] = backend.NLPItem{ID: i, Title: a.Title, Content: a.Content}
	}
	for start := 0; start < len(items); start += e.cfg.NLPBatch {
		chunk := items[start:min(start+e.cfg.NLPBatch, len(items))]
		got, err := e.nlp.Batch(ctx, chunk)
		if err != nil {
			e.logger.Warn("nlp batch failed, using local fallback",
				zap.Int("chunk_start", start),
				zap.Int("chunk_size", len(chunk)),
				zap.Error(err),
			)
			continue
		}
		for _, item := range chunk {
			if r, ok := got[item.ID]; ok {
				results[item.ID] = r
			}
		}
	}
	return results
}

func (e *Enricher) score(ctx context.Context, articles []crawler.Article) map[int]float64 {
	scores := make(map[int]float64, len(articles))
	if e.sentiment == nil {
		return scores
	}
	items := make([]backend.SentimentItem, len(articles))
	for i, a := range articles {
		items[i] = backend.SentimentItem{ID: i, Text: SentimentText(a.Title, a.Content)}
	}
	for start := 0; start < len(items); start += e.cfg.SentimentBatch {
		chunk := items[start:min(start+e.cfg.SentimentBatch, len(items))]
		got, err := e.sentiment.Batch(ctx, chunk)
		if err != nil {
			e.logger.Warn("sentiment batch failed, scoring neutral",
				zap.Int("chunk_start", start),
				zap.Int("chunk_size", len(chunk)),
				zap.Error(err),
			)
			continue
		}
		for _, item := range chunk {
			if s, ok := got[item.ID]; ok {
				scores[item.ID] = s
			}
		}
	}
	return scores
}

// SentimentText joins the parts longer than ten characters with ". ". When the result is
// shorter than twenty characters the title is used alone.
func SentimentText(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if utf8.RuneCountInString(p) > 10 {
			kept = append(kept, p)
		}
	}
	text := strings.Join(kept, ". ")
	if utf8.RuneCountInString(text) < 20 && len(parts) > 0 {
		return strings.TrimSpace(parts[0])
	}
	return text
}

// SortNewestFirst orders enriched articles by PublishedAt descending, ties in input order.
func SortNewestFirst(articles []crawler.EnrichedArticle) {
	sort.SliceStable(articles, func(i, j int) bool {
		return articles[i].PublishedAt.After(articles[j].PublishedAt)
	})
}

// clamp maps NaN to 0.
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
