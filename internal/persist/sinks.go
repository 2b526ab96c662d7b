package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/JakeFAU/fxnews-crawler/internal/crawler"
)

// ArticleStore upserts enriched articles.
type ArticleStore interface {
	SaveArticles(ctx context.Context, articles []crawler.EnrichedArticle) (int, error)
}

// ArticleSink writes articles to an ArticleStore.
type ArticleSink struct {
	store ArticleStore
}

// NewArticleSink wraps store.
func NewArticleSink(store ArticleStore) *ArticleSink {
	return &ArticleSink{store: store}
}

// Persist saves the batch's articles.
func (s *ArticleSink) Persist(ctx context.Context, batch Batch) (int, error) {
	n, err := s.store.SaveArticles(ctx, batch.Articles)
	if err != nil {
		return 0, fmt.Errorf("save articles: %w", err)
	}
	return n, nil
}

// BlobStore writes one object.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Snapshot is the archived JSON document.
type Snapshot struct {
	CrawlID     string                    `json:"crawl_id"`
	CrawledAt   time.Time                 `json:"crawled_at"`
	WindowHours int                       `json:"window_hours"`
	Limit       int                       `json:"limit"`
	Groups      []string                  `json:"groups"`
	Base        string                    `json:"base,omitempty"`
	Quote       string                    `json:"quote,omitempty"`
	Count       int                       `json:"count"`
	Articles    []crawler.EnrichedArticle `json:"articles"`
}

// ArchiveSink writes each batch as snapshots/YYYY/MM/DD/<crawl id>.json.
type ArchiveSink struct {
	store BlobStore
}

// NewArchiveSink wraps store.
func NewArchiveSink(store BlobStore) *ArchiveSink {
	return &ArchiveSink{store: store}
}

// SnapshotPath returns the object path for a batch.
func SnapshotPath(batch Batch) string {
	return fmt.Sprintf("snapshots/%s/%s.json", batch.CrawledAt.UTC().Format("2006/01/02"), batch.CrawlID)
}

// Persist uploads the snapshot.
func (s *ArchiveSink) Persist(ctx context.Context, batch Batch) (int, error) {
	articles := batch.Articles
	if articles == nil {
		articles = []crawler.EnrichedArticle{}
	}
	body, err := json.Marshal(Snapshot{
		CrawlID:     batch.CrawlID,
		CrawledAt:   batch.CrawledAt.UTC(),
		WindowHours: batch.Request.WindowHours,
		Limit:       batch.Request.Limit,
		Groups:      batch.Request.Groups,
		Base:        batch.Base,
		Quote:       batch.Quote,
		Count:       len(articles),
		Articles:    articles,
	})
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}
	if _, err := s.store.PutObject(ctx, SnapshotPath(batch), "application/json", bytes.NewReader(body)); err != nil {
		return 0, fmt.Errorf("put snapshot: %w", err)
	}
	return len(articles), nil
}

// Publisher sends one message.
type Publisher interface {
	Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error)
}

// Event announces a finished crawl.
type Event struct {
	CrawlID   string    `json:"crawl_id"`
	CrawledAt time.Time `json:"crawled_at"`
	Count     int       `json:"count"`
	Groups    []string  `json:"groups"`
	Base      string    `json:"base,omitempty"`
	Quote     string    `json:"quote,omitempty"`
	Snapshot  string    `json:"snapshot"`
}

// NotifySink publishes an Event per batch.
type NotifySink struct {
	publisher Publisher
}

// NewNotifySink wraps publisher.
func NewNotifySink(publisher Publisher) *NotifySink {
	return &NotifySink{publisher: publisher}
}

// Persist publishes the event. The article count is reported as handled.
func (s *NotifySink) Persist(ctx context.Context, batch Batch) (int, error) {
	data, err := json.Marshal(Event{
		CrawlID:   batch.CrawlID,
		CrawledAt: batch.CrawledAt.UTC(),
		Count:     len(batch.Articles),
		Groups:    batch.Request.Groups,
		Base:      batch.Base,
		Quote:     batch.Quote,
		Snapshot:  SnapshotPath(batch),
	})
	if err != nil {
		return 0, fmt.Errorf("marshal event: %w", err)
	}
	attrs := map[string]string{"crawl_id": batch.CrawlID, "event": "crawl.completed"}
	if _, err := s.publisher.Publish(ctx, data, attrs); err != nil {
		return 0, fmt.Errorf("publish event: %w", err)
	}
	return len(batch.Articles), nil
}
