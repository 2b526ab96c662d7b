// Package collyfetcher implements conditional feed fetches on top of gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/fxnews-crawler/internal/crawler"
	"github.com/JakeFAU/fxnews-crawler/internal/httpclient"
	"github.com/JakeFAU/fxnews-crawler/internal/metrics"
)

// DefaultUserAgent identifies the crawler to feed hosts.
const DefaultUserAgent = "fxnews-crawler/1.0"

// Config controls collector behavior.
type Config struct {
	UserAgent string
	// Timeout bounds one Visit including transport retries.
	Timeout time.Duration
	// Transport defaults to the retrying pooled feed transport.
	Transport http.RoundTripper
}

// Fetcher implements crawler.FeedFetcher using the Colly collector. Upstream validators are
// read from and written to the injected ValidatorStore.
type Fetcher struct {
	cfg           Config
	validators    crawler.ValidatorStore
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type fetchResult struct {
	status  int
	headers http.Header
	body    []byte
	err     error
}

// New builds a Fetcher.
func New(cfg Config, validators crawler.ValidatorStore) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.Transport == nil {
		cfg.Transport = httpclient.NewFeedTransport(httpclient.DefaultTransportConfig(), httpclient.DefaultRetryPolicy())
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.IgnoreRobotsTxt(),
		colly.UserAgent(cfg.UserAgent),
	)
	c.WithTransport(cfg.Transport)
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		validators:    validators,
		baseCollector: c,
	}
}

// Fetch performs a conditional GET. It returns an empty body when the feed answered 304 and a
// *crawler.FetchError for transport failures and non-2xx statuses.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) ([]byte, error) {
	var result fetchResult
	collector := f.buildCollector(feedURL, &result)

	if err := f.runCollector(ctx, collector, feedURL, &result); err != nil {
		metrics.ObserveFeedFetch(feedURL, "error", 0)
		return nil, err
	}

	switch {
	case result.status == http.StatusNotModified:
		metrics.ObserveFeedFetch(feedURL, "not_modified", 0)
		return []byte{}, nil
	case result.status >= 200 && result.status < 300:
		f.storeValidators(feedURL, result.headers)
		metrics.ObserveFeedFetch(feedURL, "ok", len(result.body))
		return result.body, nil
	default:
		metrics.ObserveFeedFetch(feedURL, "error", 0)
		return nil, &crawler.FetchError{
			URL:        feedURL,
			StatusCode: result.status,
			Err:        fmt.Errorf("unexpected status %d", result.status),
		}
	}
}

func (f *Fetcher) buildCollector(feedURL string, result *fetchResult) *colly.Collector {
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, feedURL, result)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, feedURL string, result *fetchResult) {
	hooks.OnRequest(func(r *colly.Request) {
		f.setConditionalHeaders(feedURL, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		result.status = r.StatusCode
		if r.Headers != nil {
			result.headers = r.Headers.Clone()
		}
		result.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.status = r.StatusCode
		}
		result.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, feedURL string, result *fetchResult) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(feedURL)
	}()

	select {
	case <-ctx.Done():
		return &crawler.FetchError{URL: feedURL, Err: fmt.Errorf("colly fetch canceled: %w", ctx.Err())}
	case err := <-done:
		if err != nil {
			return &crawler.FetchError{URL: feedURL, StatusCode: result.status, Err: fmt.Errorf("colly visit failed: %w", err)}
		}
		if result.err != nil {
			return &crawler.FetchError{URL: feedURL, StatusCode: result.status, Err: fmt.Errorf("colly response failed: %w", result.err)}
		}
		return nil
	}
}

func (f *Fetcher) setConditionalHeaders(feedURL string, r *colly.Request) {
	if f.validators == nil || r.Headers == nil {
		return
	}
	v, ok := f.validators.Get(feedURL)
	if !ok {
		return
	}
	if v.ETag != "" {
		r.Headers.Set("If-None-Match", v.ETag)
	}
	if v.LastModified != "" {
		r.Headers.Set("If-Modified-Since", v.LastModified)
	}
}

func (f *Fetcher) storeValidators(feedURL string, headers http.Header) {
	if f.validators == nil || headers == nil {
		return
	}
	v := crawler.FeedValidators{
		ETag:         headers.Get("ETag"),
		LastModified: headers.Get("Last-Modified"),
	}
	if v.ETag == "" && v.LastModified == "" {
		return
	}
	f.validators.Put(feedURL, v)
}
