package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/fxnews-crawler/internal/metrics"
	"github.com/JakeFAU/fxnews-crawler/internal/textnorm"
)

// Config controls the fan-out of a crawl.
type Config struct {
	Workers int
	// Deadline bounds the whole fan-out. Feeds still pending when it passes are abandoned.
	Deadline time.Duration
}

// Orchestrator runs crawls against a Catalog. It is safe for concurrent use.
type Orchestrator struct {
	cfg       Config
	catalog   *Catalog
	fetcher   FeedFetcher
	scheduler HostScheduler
	clock     Clock
	ids       IDGenerator
	logger    *zap.Logger
}

// New constructs an Orchestrator.
func New(
	cfg Config,
	catalog *Catalog,
	fetcher FeedFetcher,
	scheduler HostScheduler,
	clock Clock,
	ids IDGenerator,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 32
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		catalog:   catalog,
		fetcher:   fetcher,
		scheduler: scheduler,
		clock:     clock,
		ids:       ids,
		logger:    logger,
	}
}

// Catalog exposes the orchestrator's source catalog.
func (o *Orchestrator) Catalog() *Catalog {
	return o.catalog
}

// Crawl fetches every feed selected by req and returns the windowed, deduplicated articles
// newest first. Individual feed failures are logged and skipped. An error is returned only when
// ctx itself ends.
func (o *Orchestrator) Crawl(ctx context.Context, req CrawlRequest) ([]Article, error) {
	start := time.Now()
	now := o.clock.Now().UTC()
	since := windowStart(now, req.WindowHours)
	feeds := o.catalog.Resolve(req.Groups)

	id := req.CrawlID
	if id == "" {
		id = o.crawlID()
	}
	logger := o.logger.With(zap.String("crawl_id", id))
	logger.Info("crawl start",
		zap.Int("feeds", len(feeds)),
		zap.Int("window_hours", req.WindowHours),
		zap.Int("limit", req.Limit),
		zap.Strings("groups", req.Groups),
	)

	perFeed := o.fanOut(ctx, feeds, logger)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("crawl: %w", err)
	}

	articles := assemble(perFeed, since, now, req.Limit)
	metrics.ObserveCrawl(len(articles), time.Since(start))
	logger.Info("crawl finished",
		zap.Int("articles", len(articles)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return articles, nil
}

// fanOut returns raw entries indexed like feeds so merging stays in catalog order.
func (o *Orchestrator) fanOut(ctx context.Context, feeds []FeedSource, logger *zap.Logger) [][]RawEntry {
	crawlCtx := ctx
	if o.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		crawlCtx, cancel = context.WithTimeout(ctx, o.cfg.Deadline)
		defer cancel()
	}

	results := make([][]RawEntry, len(feeds))
	var (
		mu        sync.Mutex
		abandoned int
	)

	g := new(errgroup.Group)
	g.SetLimit(o.cfg.Workers)
	for i, src := range feeds {
		if crawlCtx.Err() != nil {
			mu.Lock()
			abandoned += len(feeds) - i
			mu.Unlock()
			break
		}
		g.Go(func() error {
			entries, err := o.fetchFeed(crawlCtx, src)
			if err != nil {
				o.logFeedFailure(logger, src, err)
				if crawlCtx.Err() != nil {
					mu.Lock()
					abandoned++
					mu.Unlock()
				}
				return nil
			}
			results[i] = entries
			return nil
		})
	}
	_ = g.Wait()

	if abandoned > 0 {
		logger.Warn("crawl deadline reached, feeds abandoned",
			zap.Int("abandoned", abandoned),
			zap.Duration("deadline", o.cfg.Deadline),
		)
	}
	return results
}

func (o *Orchestrator) fetchFeed(ctx context.Context, src FeedSource) ([]RawEntry, error) {
	host := textnorm.Host(src.URL)

	permit, err := o.scheduler.Acquire(ctx, host)
	if err != nil {
		return nil, err
	}
	defer permit.Release()

	if err := o.scheduler.Throttle(ctx, host); err != nil {
		return nil, err
	}

	body, err := o.fetcher.Fetch(ctx, src.URL)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{URL: src.URL, Err: err}
	}
	entries := make([]RawEntry, 0, len(feed.Items))
	for _, item := range feed.Items {
		entries = append(entries, RawEntry{Feed: src, Item: item})
	}
	return entries, nil
}

func (o *Orchestrator) logFeedFailure(logger *zap.Logger, src FeedSource, err error) {
	var (
		fetchErr *FetchError
		parseErr *ParseError
	)
	kind := "other"
	switch {
	case errors.As(err, &fetchErr):
		kind = "fetch"
	case errors.As(err, &parseErr):
		kind = "parse"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		kind = "deadline"
	}
	metrics.ObserveFeedFailure(kind)
	logger.Warn("feed skipped",
		zap.String("feed", src.URL),
		zap.String("group", src.Group),
		zap.String("kind", kind),
		zap.Error(err),
	)
}

func (o *Orchestrator) crawlID() string {
	if o.ids == nil {
		return "unknown"
	}
	id, err := o.ids.NewID()
	if err != nil {
		return "unknown"
	}
	return id
}

// assemble normalizes, windows and deduplicates entries, then sorts newest first and applies
// limit when positive.
// windowStart is now minus hours. Windows too wide for a time.Duration reach back to the zero
// time instead of wrapping into the future.
func windowStart(now time.Time, hours int) time.Time {
	if int64(hours) > math.MaxInt64/int64(time.Hour) {
		return time.Time{}
	}
	return now.Add(-time.Duration(hours) * time.Hour)
}

func assemble(perFeed [][]RawEntry, since, now time.Time, limit int) []Article {
	seen := make(map[string]struct{})
	out := make([]Article, 0)
	for _, entries := range perFeed {
		for _, entry := range entries {
			article, ok := buildArticle(entry, since, now)
			if !ok {
				continue
			}
			key := textnorm.HashURL(article.URL)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, article)
		}
	}

	SortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// SortNewestFirst orders articles by PublishedAt descending, keeping ties in input order.
func SortNewestFirst(articles []Article) {
	sort.SliceStable(articles, func(i, j int) bool {
		return articles[i].PublishedAt.After(articles[j].PublishedAt)
	})
}
