package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fxnews-crawler/internal/crawler"
	"github.com/JakeFAU/fxnews-crawler/internal/pipeline"
	"github.com/JakeFAU/fxnews-crawler/internal/respcache"
	"github.com/JakeFAU/fxnews-crawler/internal/storage/memory"
)

var apiNow = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return apiNow }

type fakePipeline struct {
	calls    atomic.Int32
	articles []crawler.EnrichedArticle
	err      error
	panicMsg string
	last     atomic.Pointer[pipeline.Request]
}

func (f *fakePipeline) Run(_ context.Context, req pipeline.Request) (pipeline.Result, error) {
	f.calls.Add(1)
	f.last.Store(&req)
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.err != nil {
		return pipeline.Result{}, f.err
	}
	return pipeline.Result{CrawlID: "c1", Articles: f.articles}, nil
}

func sampleNews() []crawler.EnrichedArticle {
	return []crawler.EnrichedArticle{
		{
			Article: crawler.Article{
				Title:       "Fed signals pause",
				URL:         "https://example.com/fed",
				PublishedAt: apiNow.Add(-30 * time.Minute),
				SourceGroup: "central_banks",
			},
			Category: "central_banks",
			Pairs:    []crawler.CurrencyPair{},
		},
	}
}

func newTestServer(p Pipeline, checks ...ReadyCheck) *Server {
	cache := respcache.New(memory.NewMetaStore(func() time.Time { return apiNow }), time.Minute, func() time.Time { return apiNow }, nil)
	return NewServer(Options{
		Pipeline:       p,
		Catalog:        crawler.NewCatalog(nil, nil, nil),
		Cache:          cache,
		Clock:          fixedClock{},
		AllowedOrigins: []string{"https://fx.example"},
		ReadyChecks:    checks,
	})
}

func do(t *testing.T, s *Server, method, target string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	t.Parallel()

	rec := do(t, newTestServer(&fakePipeline{}), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"healthy","service":"crawl-service"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCrawlFreshThenShortCircuit(t *testing.T) {
	t.Parallel()

	p := &fakePipeline{articles: sampleNews()}
	s := newTestServer(p)

	rec := do(t, s, http.MethodGet, "/crawl?window_hours=6&limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "public, max-age=120", rec.Header().Get("Cache-Control"))
	require.Equal(t, "Accept, If-None-Match, If-Modified-Since", rec.Header().Get("Vary"))
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)
	require.Equal(t, apiNow.Add(-30*time.Minute).Format(http.TimeFormat), rec.Header().Get("Last-Modified"))

	var body struct {
		Status      string            `json:"status"`
		Count       int               `json:"count"`
		News        []json.RawMessage `json:"news"`
		WindowHours int               `json:"window_hours"`
		Groups      string            `json:"groups"`
		Base        *string           `json:"base"`
		Quote       *string           `json:"quote"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "success", body.Status)
	require.Equal(t, 1, body.Count)
	require.Len(t, body.News, 1)
	require.Equal(t, 6, body.WindowHours)
	require.Equal(t, "google_news,central_banks,energy,markets,crypto,financial_media,regional_vn,institutions", body.Groups)
	require.Nil(t, body.Base)
	require.Nil(t, body.Quote)

	rec = do(t, s, http.MethodGet, "/crawl?window_hours=6&limit=5", map[string]string{"If-None-Match": etag})
	require.Equal(t, http.StatusNotModified, rec.Code)
	require.Equal(t, etag, rec.Header().Get("ETag"))
	require.Equal(t, "public, max-age=300", rec.Header().Get("Cache-Control"))
	require.Empty(t, rec.Body.Bytes())
	require.EqualValues(t, 1, p.calls.Load())
}

func TestCrawlValidatorMatchRunsPipeline(t *testing.T) {
	t.Parallel()

	first := do(t, newTestServer(&fakePipeline{articles: sampleNews()}), http.MethodGet, "/crawl", nil)
	etag := first.Header().Get("ETag")

	p := &fakePipeline{articles: sampleNews()}
	s := newTestServer(p)
	rec := do(t, s, http.MethodGet, "/crawl", map[string]string{"If-None-Match": etag})
	require.Equal(t, http.StatusNotModified, rec.Code)
	require.EqualValues(t, 1, p.calls.Load())

	rec = do(t, s, http.MethodGet, "/crawl", map[string]string{"If-None-Match": etag})
	require.Equal(t, http.StatusNotModified, rec.Code)
	require.EqualValues(t, 1, p.calls.Load())
}

func TestCrawlIfModifiedSince(t *testing.T) {
	t.Parallel()

	p := &fakePipeline{articles: sampleNews()}
	s := newTestServer(p)
	rec := do(t, s, http.MethodGet, "/crawl", map[string]string{"If-Modified-Since": apiNow.Format(http.TimeFormat)})
	require.Equal(t, http.StatusNotModified, rec.Code)

	rec = do(t, s, http.MethodGet, "/crawl", map[string]string{"If-Modified-Since": apiNow.Add(-2 * time.Hour).Format(http.TimeFormat)})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCrawlPassesParameters(t *testing.T) {
	t.Parallel()

	p := &fakePipeline{}
	s := newTestServer(p)
	rec := do(t, s, http.MethodGet, "/crawl?groups=energy,+markets&base=EUR&quote=USD", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"success","count":0,"news":[],"window_hours":12,"groups":"energy, markets","base":"EUR","quote":"USD"}`, rec.Body.String())

	req := p.last.Load()
	require.NotNil(t, req)
	require.Equal(t, []string{"energy", "markets"}, req.Groups)
	require.Equal(t, 50, req.Limit)
	require.Equal(t, "EUR", req.Base)
}

func TestCrawlRejectsBadParameters(t *testing.T) {
	t.Parallel()

	p := &fakePipeline{}
	s := newTestServer(p)

	rec := do(t, s, http.MethodGet, "/crawl?window_hours=abc", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"status":"error","message":"invalid window_hours"}`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/crawl?limit=-1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"status":"error","message":"invalid limit"}`, rec.Body.String())
	require.Zero(t, p.calls.Load())
}

func TestCrawlFailuresAreSanitized(t *testing.T) {
	t.Parallel()

	rec := do(t, newTestServer(&fakePipeline{err: errors.New("dial tcp 10.0.0.1: refused")}), http.MethodGet, "/crawl", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"status":"error","message":"internal error"}`, rec.Body.String())

	rec = do(t, newTestServer(&fakePipeline{panicMsg: "boom"}), http.MethodGet, "/crawl", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"status":"error","message":"internal error"}`, rec.Body.String())
}

func TestCrawlUnencodableResultIsNotCached(t *testing.T) {
	t.Parallel()

	news := sampleNews()
	news[0].SentimentScore = math.NaN()
	p := &fakePipeline{articles: news}
	s := newTestServer(p)

	rec := do(t, s, http.MethodGet, "/crawl", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"status":"error","message":"internal error"}`, rec.Body.String())
	require.Empty(t, rec.Header().Get("ETag"))
	require.Empty(t, rec.Header().Get("Last-Modified"))

	// Nothing was recorded, so a conditional retry reaches the pipeline again.
	p.articles = sampleNews()
	rec = do(t, s, http.MethodGet, "/crawl", map[string]string{"If-Modified-Since": apiNow.Format(http.TimeFormat)})
	require.Equal(t, http.StatusNotModified, rec.Code)
	require.EqualValues(t, 2, p.calls.Load())
}

func TestWriteJSONEncodeFailure(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	rec.Header().Set("ETag", "abc")
	writeJSON(rec, http.StatusOK, map[string]float64{"score": math.Inf(1)})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Empty(t, rec.Header().Get("ETag"))
	require.JSONEq(t, `{"status":"error","message":"internal error"}`, rec.Body.String())
}

func TestSourcesConditional(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakePipeline{})
	rec := do(t, s, http.MethodGet, "/sources?groups=crypto", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "public, max-age=300", rec.Header().Get("Cache-Control"))

	var body sourcesPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "success", body.Status)
	require.Len(t, body.Groups, 1)
	require.Equal(t, "crypto", body.Groups[0].Name)
	require.Equal(t, apiNow.Format(time.RFC3339), body.GeneratedAt)

	etag := rec.Header().Get("ETag")
	rec = do(t, s, http.MethodGet, "/sources?groups=crypto", map[string]string{"If-None-Match": etag})
	require.Equal(t, http.StatusNotModified, rec.Code)

	rec = do(t, s, http.MethodGet, "/sources?groups=energy", map[string]string{"If-None-Match": etag})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	ok := newTestServer(&fakePipeline{}, ReadyCheck{Name: "redis", Check: func(context.Context) error { return nil }})
	require.Equal(t, http.StatusOK, do(t, ok, http.MethodGet, "/readyz", nil).Code)

	bad := newTestServer(&fakePipeline{}, ReadyCheck{Name: "postgres", Check: func(context.Context) error { return errors.New("down") }})
	rec := do(t, bad, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "postgres")
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakePipeline{})
	rec := do(t, s, http.MethodOptions, "/crawl", map[string]string{
		"Origin":                         "https://fx.example",
		"Access-Control-Request-Method":  http.MethodGet,
		"Access-Control-Request-Headers": "If-None-Match",
	})
	require.Equal(t, "https://fx.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, s, http.MethodGet, "/health", map[string]string{"Origin": "https://evil.example"})
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakePipeline{})
	_ = do(t, s, http.MethodGet, "/health", nil)
	rec := do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}
