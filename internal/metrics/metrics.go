// Package metrics exposes Prometheus collectors for the crawl service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	feedFetchesTotal           *prometheus.CounterVec
	feedBytesTotal             *prometheus.CounterVec
	feedRetriesTotal           *prometheus.CounterVec
	feedFailuresTotal          *prometheus.CounterVec
	hostWaitSeconds            *prometheus.HistogramVec
	crawlDurationSeconds       prometheus.Histogram
	crawlArticlesTotal         prometheus.Counter
	enrichFallbacksTotal       *prometheus.CounterVec
	responseCacheTotal         *prometheus.CounterVec
	persistTotal               *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		feedFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fxnews_feed_fetches_total",
				Help: "Total number of feed fetches, labeled by host and outcome.",
			},
			[]string{"host", "outcome"},
		)

		feedBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fxnews_feed_bytes_total",
				Help: "Total number of feed bytes fetched, labeled by host.",
			},
			[]string{"host"},
		)

		feedRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fxnews_feed_retries_total",
				Help: "Total number of retried feed requests, labeled by host.",
			},
			[]string{"host"},
		)

		feedFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fxnews_feed_failures_total",
				Help: "Feeds skipped during a crawl, labeled by failure kind.",
			},
			[]string{"kind"},
		)

		hostWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fxnews_host_wait_seconds",
				Help:    "Histogram of per-host permit and spacing waits.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"host"},
		)

		crawlDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fxnews_crawl_duration_seconds",
				Help:    "Histogram of full crawl durations.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45, 60},
			},
		)

		crawlArticlesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fxnews_crawl_articles_total",
				Help: "Total number of articles produced by crawls.",
			},
		)

		enrichFallbacksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fxnews_enrich_fallbacks_total",
				Help: "Articles that fell back to local enrichment, labeled by backend.",
			},
			[]string{"backend"},
		)

		responseCacheTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fxnews_response_cache_total",
				Help: "Response cache outcomes, labeled by state.",
			},
			[]string{"state"},
		)

		persistTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fxnews_persist_total",
				Help: "Persistence sink invocations, labeled by sink and outcome.",
			},
			[]string{"sink", "outcome"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveFeedFetch records one feed fetch outcome (ok, not_modified, error).
func ObserveFeedFetch(feedURL, outcome string, bytesFetched int) {
	Init()
	site := SanitizeSite(feedURL)
	feedFetchesTotal.WithLabelValues(site, outcome).Inc()
	if bytesFetched > 0 {
		feedBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveFeedRetry counts a retried feed request.
func ObserveFeedRetry(host string) {
	Init()
	feedRetriesTotal.WithLabelValues(SanitizeSite(host)).Inc()
}

// ObserveFeedFailure counts a feed skipped because of a fetch or parse failure.
func ObserveFeedFailure(kind string) {
	Init()
	feedFailuresTotal.WithLabelValues(kind).Inc()
}

// ObserveHostWait records how long a caller waited on a host permit or spacing.
func ObserveHostWait(host string, d time.Duration) {
	Init()
	hostWaitSeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveCrawl records a finished crawl.
func ObserveCrawl(articles int, d time.Duration) {
	Init()
	crawlDurationSeconds.Observe(d.Seconds())
	crawlArticlesTotal.Add(float64(articles))
}

// ObserveEnrichFallback counts articles enriched locally instead of by backend.
func ObserveEnrichFallback(backend string, n int) {
	Init()
	if n <= 0 {
		return
	}
	enrichFallbacksTotal.WithLabelValues(backend).Add(float64(n))
}

// ObserveResponseCache counts a response cache state.
func ObserveResponseCache(state string) {
	Init()
	responseCacheTotal.WithLabelValues(state).Inc()
}

// ObservePersist counts a persistence sink call.
func ObservePersist(sink, outcome string) {
	Init()
	persistTotal.WithLabelValues(sink, outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
