package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fxnews-crawler/internal/crawler"
	"github.com/JakeFAU/fxnews-crawler/internal/httpclient"
)

type mapValidators struct {
	mu   sync.Mutex
	data map[string]crawler.FeedValidators
}

func newMapValidators() *mapValidators {
	return &mapValidators{data: make(map[string]crawler.FeedValidators)}
}

func (m *mapValidators) Get(u string) (crawler.FeedValidators, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[u]
	return v, ok
}

func (m *mapValidators) Put(u string, v crawler.FeedValidators) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[u] = v
}

func noRetryTransport() http.RoundTripper {
	return httpclient.NewRetryTransport(http.DefaultTransport, httpclient.RetryPolicy{MaxAttempts: 1})
}

func TestFetchStoresValidatorsAndSendsThemBack(t *testing.T) {
	t.Parallel()

	var (
		calls   atomic.Int32
		gotINM  atomic.Value
		gotIMS  atomic.Value
		gotUA   atomic.Value
		lastMod = "Wed, 21 Oct 2015 07:28:00 GMT"
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.UserAgent())
		if calls.Add(1) > 1 {
			gotINM.Store(r.Header.Get("If-None-Match"))
			gotIMS.Store(r.Header.Get("If-Modified-Since"))
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Last-Modified", lastMod)
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte("<rss/>"))
	}))
	defer srv.Close()

	store := newMapValidators()
	f := New(Config{Transport: noRetryTransport(), Timeout: 5 * time.Second}, store)

	body, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "<rss/>", string(body))

	v, ok := store.Get(srv.URL)
	require.True(t, ok)
	require.Equal(t, `"v1"`, v.ETag)
	require.Equal(t, lastMod, v.LastModified)

	body, err = f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.NotNil(t, body)
	require.Empty(t, body)
	require.Equal(t, `"v1"`, gotINM.Load())
	require.Equal(t, lastMod, gotIMS.Load())
	require.Equal(t, DefaultUserAgent, gotUA.Load())
}

func TestFetchWithoutValidatorsStoresNothing(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<feed/>"))
	}))
	defer srv.Close()

	store := newMapValidators()
	f := New(Config{Transport: noRetryTransport()}, store)

	_, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	_, ok := store.Get(srv.URL)
	require.False(t, ok)
}

func TestFetchNon2xxIsFetchError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(Config{Transport: noRetryTransport()}, nil)
	_, err := f.Fetch(context.Background(), srv.URL)

	var fetchErr *crawler.FetchError
	require.True(t, errors.As(err, &fetchErr))
	require.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
	require.Equal(t, srv.URL, fetchErr.URL)
}

func TestFetchHonorsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	f := New(Config{Transport: noRetryTransport()}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := f.Fetch(ctx, srv.URL)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	store := newMapValidators()
	store.Put("https://example.com/rss", crawler.FeedValidators{ETag: "abc"})
	f := New(Config{}, store)

	var result fetchResult
	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, "https://example.com/rss", &result)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "abc", collyReq.Headers.Get("If-None-Match"))
	require.Empty(t, collyReq.Headers.Get("If-Modified-Since"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Headers:    &http.Header{"Etag": {"x"}},
	})
	require.Equal(t, http.StatusOK, result.status)
	require.Equal(t, "body", string(result.body))
	require.Equal(t, "x", result.headers.Get("ETag"))

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("boom"))
	require.EqualError(t, result.err, "boom")
	require.Equal(t, http.StatusBadGateway, result.status)
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
