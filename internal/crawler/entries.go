package crawler

import (
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/JakeFAU/fxnews-crawler/internal/textnorm"
)

// publishedAt prefers the published date, then the updated date. Entries carrying neither are
// stamped with now and so always pass the window filter.
func publishedAt(item *gofeed.Item, now time.Time) time.Time {
	switch {
	case item.PublishedParsed != nil:
		return item.PublishedParsed.UTC()
	case item.UpdatedParsed != nil:
		return item.UpdatedParsed.UTC()
	default:
		return now.UTC()
	}
}

func entryContent(item *gofeed.Item) string {
	content := item.Content
	if strings.TrimSpace(content) == "" {
		content = item.Description
	}
	return textnorm.StripHTML(content)
}

// buildArticle normalizes one entry. It reports false for entries without a link or published
// before since.
func buildArticle(entry RawEntry, since, now time.Time) (Article, bool) {
	item := entry.Item
	if item == nil {
		return Article{}, false
	}
	published := publishedAt(item, now)
	if published.Before(since) {
		return Article{}, false
	}
	link := strings.TrimSpace(item.Link)
	if link == "" {
		return Article{}, false
	}

	title := strings.TrimSpace(item.Title)
	content := entryContent(item)
	if content == "" {
		content = title
	}

	domain := textnorm.Domain(link)
	if domain == "" {
		domain = textnorm.Domain(entry.Feed.URL)
	}

	group := entry.Feed.Group
	if group == "" {
		group = "unknown"
	}

	return Article{
		Title:        title,
		Content:      content,
		URL:          link,
		PublishedAt:  published,
		SourceGroup:  group,
		SourceFeed:   entry.Feed.URL,
		SourceDomain: domain,
	}, true
}
