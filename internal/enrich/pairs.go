package enrich

import (
	"strings"

	"github.com/JakeFAU/fxnews-crawler/internal/crawler"
)

// FilterByPair keeps articles relevant to base/quote: a matching pair hint in either direction,
// "B/Q" or "Q/B" in the text, or both codes anywhere in the text. Empty base or quote disables
// the filter.
func FilterByPair(articles []crawler.EnrichedArticle, base, quote string) []crawler.EnrichedArticle {
	b := strings.ToUpper(strings.TrimSpace(base))
	q := strings.ToUpper(strings.TrimSpace(quote))
	if b == "" || q == "" {
		return articles
	}
	out := make([]crawler.EnrichedArticle, 0, len(articles))
	for _, a := range articles {
		if hasPair(a, b, q) {
			out = append(out, a)
		}
	}
	return out
}

func hasPair(a crawler.EnrichedArticle, b, q string) bool {
	for _, p := range a.Pairs {
		pb, pq := strings.ToUpper(p.Base), strings.ToUpper(p.Quote)
		if (pb == b && pq == q) || (pb == q && pq == b) {
			return true
		}
	}
	text := strings.ToUpper(a.Title + " " + a.Content)
	if strings.Contains(text, b+"/"+q) || strings.Contains(text, q+"/"+b) {
		return true
	}
	return strings.Contains(text, b) && strings.Contains(text, q)
}

// SentimentAdjust is the mean sentiment of articles clamped to ±0.2, or 0 when empty.
func SentimentAdjust(articles []crawler.EnrichedArticle) float64 {
	if len(articles) == 0 {
		return 0
	}
	var sum float64
	for _, a := range articles {
		sum += a.SentimentScore
	}
	return clamp(sum/float64(len(articles)), -0.2, 0.2)
}
