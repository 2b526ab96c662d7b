package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/fxnews-crawler/internal/metrics"
)

// RetryPolicy bounds retries of idempotent requests.
type RetryPolicy struct {
	// MaxAttempts counts the first try; 3 means up to two retries.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Statuses    []int
}

// DefaultRetryPolicy retries 429 and transient 5xx with backoff 0.5s, 1s, 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Statuses: []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}
}

// Backoff returns the wait before retry number attempt (0-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

func (p RetryPolicy) retryableStatus(code int) bool {
	for _, s := range p.Statuses {
		if s == code {
			return true
		}
	}
	return false
}

// RetryTransport retries GET and HEAD requests on retryable statuses and transport errors.
// Other methods pass straight through.
type RetryTransport struct {
	Base   http.RoundTripper
	Policy RetryPolicy

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryTransport wraps base with policy.
func NewRetryTransport(base http.RoundTripper, policy RetryPolicy) *RetryTransport {
	if base == nil {
		base = NewTransport(TransportConfig{})
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &RetryTransport{
		Base:   base,
		Policy: policy,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return t.Base.RoundTrip(req)
	}

	var (
		resp *http.Response
		err  error
	)
	for attempt := 0; attempt < t.Policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			metrics.ObserveFeedRetry(req.URL.Host)
		}
		resp, err = t.Base.RoundTrip(req)
		last := attempt == t.Policy.MaxAttempts-1

		if err != nil {
			if last || !retryableError(req.Context(), err) {
				return nil, err
			}
			if sleepErr := t.sleep(req.Context(), t.Policy.Backoff(attempt)); sleepErr != nil {
				return nil, fmt.Errorf("retry wait: %w", sleepErr)
			}
			continue
		}

		if !t.Policy.retryableStatus(resp.StatusCode) || last {
			return resp, nil
		}

		wait := t.Policy.Backoff(attempt)
		if after, ok := parseRetryAfter(resp.Header.Get("Retry-After"), t.now()); ok {
			wait = after
			if t.Policy.MaxDelay > 0 && wait > t.Policy.MaxDelay {
				wait = t.Policy.MaxDelay
			}
		}
		drain(resp.Body)
		if sleepErr := t.sleep(req.Context(), wait); sleepErr != nil {
			return nil, fmt.Errorf("retry wait: %w", sleepErr)
		}
	}
	return resp, err
}

func retryableError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	at, err := http.ParseTime(v)
	if err != nil {
		return 0, false
	}
	d := at.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

func drain(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
