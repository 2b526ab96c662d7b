package crawler

import (
	"time"

	"github.com/mmcdole/gofeed"
)

// EnvOverridesGroup labels feeds that came from the flat URL override.
const EnvOverridesGroup = "env_overrides"

// FeedSource is one catalog entry.
type FeedSource struct {
	URL   string `json:"url"`
	Group string `json:"group"`
}

// Group is a named list of feed URLs.
type Group struct {
	Name  string   `json:"name"`
	Feeds []string `json:"feeds"`
}

// RawEntry is a parsed feed item before normalization.
type RawEntry struct {
	Feed FeedSource
	Item *gofeed.Item
}

// Article is a normalized, windowed, deduplicated feed item.
type Article struct {
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	URL          string    `json:"url"`
	PublishedAt  time.Time `json:"published_at"`
	SourceGroup  string    `json:"source_group"`
	SourceFeed   string    `json:"source_feed"`
	SourceDomain string    `json:"source_domain"`
}

// CurrencyPair is a base/quote hint such as EUR/USD.
type CurrencyPair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// EnrichedArticle is an Article with category, summary, pair hints and a sentiment score.
type EnrichedArticle struct {
	Article
	Category       string         `json:"category"`
	Summary        string         `json:"summary"`
	Pairs          []CurrencyPair `json:"pairs"`
	SentimentScore float64        `json:"sentiment_score"`
}

// CrawlRequest scopes a single crawl.
type CrawlRequest struct {
	WindowHours int
	// Limit truncates the result when positive.
	Limit  int
	Groups []string
	// CrawlID tags the crawl's log lines. One is generated when empty.
	CrawlID string
}

// FeedValidators are the upstream cache validators remembered per feed URL.
type FeedValidators struct {
	ETag         string
	LastModified string
}
