package crawler

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fxnews-crawler/internal/policy/hostlimit"
)

var crawlNow = time.Date(2025, 4, 10, 12, 0, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type staticIDs struct{}

func (staticIDs) NewID() (string, error) { return "crawl-1", nil }

type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	errs   map[string]error
	block  map[string]bool
	calls  atomic.Int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, feedURL string) ([]byte, error) {
	f.calls.Add(1)
	f.mu.Lock()
	body, hasBody := f.bodies[feedURL]
	err := f.errs[feedURL]
	block := f.block[feedURL]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, &FetchError{URL: feedURL, Err: ctx.Err()}
	}
	if err != nil {
		return nil, err
	}
	if !hasBody {
		return []byte{}, nil
	}
	return []byte(body), nil
}

type rssItem struct {
	title, link, desc string
	published         time.Time
}

func rss(items ...rssItem) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><rss version="2.0"><channel><title>t</title>`)
	for _, it := range items {
		b.WriteString("<item>")
		fmt.Fprintf(&b, "<title>%s</title><link>%s</link>", it.title, it.link)
		if it.desc != "" {
			fmt.Fprintf(&b, "<description><![CDATA[%s]]></description>", it.desc)
		}
		if !it.published.IsZero() {
			fmt.Fprintf(&b, "<pubDate>%s</pubDate>", it.published.Format(time.RFC1123Z))
		}
		b.WriteString("</item>")
	}
	b.WriteString("</channel></rss>")
	return b.String()
}

func newTestOrchestrator(cfg Config, groups map[string][]string, fetcher FeedFetcher) *Orchestrator {
	catalog := NewCatalog(groups, []string{"first", "second"}, nil)
	scheduler := hostlimit.New(hostlimit.Config{DefaultLimit: 2})
	return New(cfg, catalog, fetcher, scheduler, fixedClock{crawlNow}, staticIDs{}, nil)
}

func TestCrawlDedupWindowOrderAndLimit(t *testing.T) {
	t.Parallel()

	groups := map[string][]string{
		"first":  {"https://one.example/rss"},
		"second": {"https://two.example/rss", "https://three.example/rss"},
	}
	fetcher := &fakeFetcher{
		bodies: map[string]string{
			"https://one.example/rss": rss(
				rssItem{title: "Shared story", link: "https://news.example/shared", desc: "<p>first copy</p>", published: crawlNow.Add(-2 * time.Hour)},
				rssItem{title: "Too old", link: "https://news.example/old", published: crawlNow.Add(-13 * time.Hour)},
				rssItem{title: "Newest", link: "https://news.example/newest", published: crawlNow.Add(-10 * time.Minute)},
			),
			"https://two.example/rss": rss(
				rssItem{title: "Shared story again", link: "https://news.example/shared", published: crawlNow.Add(-2 * time.Hour)},
				rssItem{title: "Middle", link: "https://news.example/middle", published: crawlNow.Add(-time.Hour)},
				rssItem{title: "No link", published: crawlNow.Add(-time.Hour)},
			),
		},
	}
	o := newTestOrchestrator(Config{Workers: 4}, groups, fetcher)

	articles, err := o.Crawl(context.Background(), CrawlRequest{WindowHours: 12})
	require.NoError(t, err)

	var urls []string
	for _, a := range articles {
		urls = append(urls, a.URL)
		require.False(t, a.PublishedAt.Before(crawlNow.Add(-12*time.Hour)))
	}
	require.Equal(t, []string{
		"https://news.example/newest",
		"https://news.example/middle",
		"https://news.example/shared",
	}, urls)

	shared := articles[2]
	require.Equal(t, "first", shared.SourceGroup)
	require.Equal(t, "https://one.example/rss", shared.SourceFeed)
	require.Equal(t, "first copy", shared.Content)
	require.Equal(t, "news.example", shared.SourceDomain)
	require.EqualValues(t, 3, fetcher.calls.Load())

	limited, err := o.Crawl(context.Background(), CrawlRequest{WindowHours: 12, Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
	require.Equal(t, "https://news.example/newest", limited[0].URL)
}

func TestCrawlHugeWindowKeepsRecentArticles(t *testing.T) {
	t.Parallel()

	groups := map[string][]string{"first": {"https://one.example/rss"}}
	fetcher := &fakeFetcher{bodies: map[string]string{
		"https://one.example/rss": rss(rssItem{title: "Recent", link: "https://news.example/recent", published: crawlNow.Add(-time.Hour)}),
	}}
	o := newTestOrchestrator(Config{}, groups, fetcher)

	for _, hours := range []int{24, 3_000_000, math.MaxInt} {
		articles, err := o.Crawl(context.Background(), CrawlRequest{WindowHours: hours})
		require.NoError(t, err)
		require.Len(t, articles, 1, "window_hours=%d", hours)
	}
}

func TestWindowStart(t *testing.T) {
	t.Parallel()

	require.Equal(t, crawlNow.Add(-12*time.Hour), windowStart(crawlNow, 12))
	require.Equal(t, crawlNow, windowStart(crawlNow, 0))
	require.True(t, windowStart(crawlNow, 2_562_048).IsZero())
	require.True(t, windowStart(crawlNow, 2_562_047).Before(crawlNow))
}

func TestCrawlSkipsFailingFeeds(t *testing.T) {
	t.Parallel()

	groups := map[string][]string{
		"first":  {"https://ok.example/rss", "https://down.example/rss"},
		"second": {"https://broken.example/rss", "https://unchanged.example/rss"},
	}
	fetcher := &fakeFetcher{
		bodies: map[string]string{
			"https://ok.example/rss":     rss(rssItem{title: "Alive", link: "https://ok.example/a", published: crawlNow}),
			"https://broken.example/rss": "this is not xml at all {",
		},
		errs: map[string]error{
			"https://down.example/rss": &FetchError{URL: "https://down.example/rss", StatusCode: 503},
		},
	}
	o := newTestOrchestrator(Config{}, groups, fetcher)

	articles, err := o.Crawl(context.Background(), CrawlRequest{WindowHours: 1})
	require.NoError(t, err)
	require.Len(t, articles, 1)
	require.Equal(t, "Alive", articles[0].Title)
}

func TestCrawlDeadlineAbandonsSlowFeeds(t *testing.T) {
	t.Parallel()

	groups := map[string][]string{
		"first": {"https://fast.example/rss", "https://stuck.example/rss"},
	}
	fetcher := &fakeFetcher{
		bodies: map[string]string{
			"https://fast.example/rss": rss(rssItem{title: "Quick", link: "https://fast.example/q", published: crawlNow}),
		},
		block: map[string]bool{"https://stuck.example/rss": true},
	}
	o := newTestOrchestrator(Config{Deadline: 50 * time.Millisecond}, groups, fetcher)

	start := time.Now()
	articles, err := o.Crawl(context.Background(), CrawlRequest{WindowHours: 1, Groups: []string{"first"}})
	require.NoError(t, err)
	require.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, articles, 1)
	require.Equal(t, "Quick", articles[0].Title)
}

func TestCrawlReturnsErrorWhenCallerCancels(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(Config{}, map[string][]string{"first": {"https://x.example/rss"}}, &fakeFetcher{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Crawl(ctx, CrawlRequest{WindowHours: 1})
	require.ErrorIs(t, err, context.Canceled)
}

func TestSortNewestFirstIsStable(t *testing.T) {
	t.Parallel()

	same := crawlNow
	in := []Article{
		{URL: "a", PublishedAt: same},
		{URL: "b", PublishedAt: same.Add(time.Minute)},
		{URL: "c", PublishedAt: same},
	}
	SortNewestFirst(in)
	require.Equal(t, "b", in[0].URL)
	require.Equal(t, "a", in[1].URL)
	require.Equal(t, "c", in[2].URL)
}
