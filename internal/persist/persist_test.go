package persist

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fxnews-crawler/internal/crawler"
	pubmemory "github.com/JakeFAU/fxnews-crawler/internal/publisher/memory"
)

var crawledAt = time.Date(2024, 3, 9, 14, 30, 0, 0, time.UTC)

type mockBlobStore struct {
	mock.Mock
}

func (m *mockBlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	data, _ := io.ReadAll(r)
	args := m.Called(ctx, path, contentType, data)
	return args.String(0), args.Error(1)
}

type fakeArticleStore struct {
	saved []crawler.EnrichedArticle
	err   error
}

func (f *fakeArticleStore) SaveArticles(_ context.Context, articles []crawler.EnrichedArticle) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.saved = append(f.saved, articles...)
	return len(articles), nil
}

func sampleBatch() Batch {
	return Batch{
		CrawlID:   "crawl-1",
		CrawledAt: crawledAt,
		Request:   crawler.CrawlRequest{WindowHours: 12, Limit: 50, Groups: []string{"central_banks"}},
		Base:      "EUR",
		Quote:     "USD",
		Articles: []crawler.EnrichedArticle{
			{Article: crawler.Article{Title: "a", URL: "https://a.example/1"}, Category: "forex"},
			{Article: crawler.Article{Title: "b", URL: "https://b.example/2"}, Category: "general"},
		},
	}
}

func TestNoopReportsBatchSize(t *testing.T) {
	t.Parallel()

	n, err := Noop{}.Persist(context.Background(), sampleBatch())
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestSnapshotPath(t *testing.T) {
	t.Parallel()

	require.Equal(t, "snapshots/2024/03/09/crawl-1.json", SnapshotPath(sampleBatch()))
}

func TestArchiveSinkUploadsSnapshot(t *testing.T) {
	t.Parallel()

	store := &mockBlobStore{}
	store.On("PutObject", mock.Anything, "snapshots/2024/03/09/crawl-1.json", "application/json", mock.MatchedBy(func(data []byte) bool {
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return false
		}
		return snap.CrawlID == "crawl-1" && snap.Count == 2 && snap.Base == "EUR" && len(snap.Articles) == 2
	})).Return("memory://snapshots/2024/03/09/crawl-1.json", nil).Once()

	n, err := NewArchiveSink(store).Persist(context.Background(), sampleBatch())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	store.AssertExpectations(t)
}

func TestArchiveSinkWrapsUploadError(t *testing.T) {
	t.Parallel()

	store := &mockBlobStore{}
	store.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("bucket gone"))

	_, err := NewArchiveSink(store).Persist(context.Background(), sampleBatch())
	require.ErrorContains(t, err, "bucket gone")
}

func TestNotifySinkPublishesEvent(t *testing.T) {
	t.Parallel()

	pub := pubmemory.New()
	n, err := NewNotifySink(pub).Persist(context.Background(), sampleBatch())
	require.NoError(t, err)
	require.Equal(t, 2, n)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "crawl-1", msgs[0].Attributes["crawl_id"])
	var ev Event
	require.NoError(t, json.Unmarshal(msgs[0].Data, &ev))
	require.Equal(t, 2, ev.Count)
	require.Equal(t, "snapshots/2024/03/09/crawl-1.json", ev.Snapshot)
}

func TestArticleSink(t *testing.T) {
	t.Parallel()

	store := &fakeArticleStore{}
	n, err := NewArticleSink(store).Persist(context.Background(), sampleBatch())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, store.saved, 2)

	_, err = NewArticleSink(&fakeArticleStore{err: errors.New("down")}).Persist(context.Background(), sampleBatch())
	require.Error(t, err)
}

func TestMultiContinuesPastFailures(t *testing.T) {
	t.Parallel()

	good := &fakeArticleStore{}
	multi := NewMulti(nil,
		Named{Name: "postgres", Sink: NewArticleSink(&fakeArticleStore{err: errors.New("down")})},
		Named{Name: "none", Sink: nil},
		Named{Name: "articles", Sink: NewArticleSink(good)},
	)
	require.Equal(t, 2, multi.Len())

	n, err := multi.Persist(context.Background(), sampleBatch())
	require.Error(t, err)
	require.ErrorContains(t, err, "postgres")
	require.Equal(t, 2, n)
	require.Len(t, good.saved, 2)
}

func TestMultiAllFailedReportsZero(t *testing.T) {
	t.Parallel()

	multi := NewMulti(nil, Named{Name: "postgres", Sink: NewArticleSink(&fakeArticleStore{err: errors.New("down")})})
	n, err := multi.Persist(context.Background(), sampleBatch())
	require.Error(t, err)
	require.Zero(t, n)
}

func TestMultiEmptyIsNoop(t *testing.T) {
	t.Parallel()

	n, err := NewMulti(nil).Persist(context.Background(), sampleBatch())
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
