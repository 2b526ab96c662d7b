package crawler

import (
	"context"
	"time"

	"github.com/JakeFAU/fxnews-crawler/internal/policy/hostlimit"
)

// FeedFetcher performs a conditional GET of a feed. An empty body with a nil error means the
// feed has not changed since the last fetch.
type FeedFetcher interface {
	Fetch(ctx context.Context, feedURL string) ([]byte, error)
}

// HostScheduler bounds and spaces requests per host.
type HostScheduler interface {
	Acquire(ctx context.Context, host string) (*hostlimit.Permit, error)
	Throttle(ctx context.Context, host string) error
}

// ValidatorStore remembers upstream ETag/Last-Modified per feed URL.
type ValidatorStore interface {
	Get(feedURL string) (FeedValidators, bool)
	Put(feedURL string, v FeedValidators)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces crawl IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
