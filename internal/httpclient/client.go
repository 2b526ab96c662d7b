package httpclient

import (
	"net/http"
	"time"
)

// NewFeedTransport is the retrying pooled transport used under the feed collector.
func NewFeedTransport(cfg TransportConfig, policy RetryPolicy) http.RoundTripper {
	return NewRetryTransport(NewTransport(cfg), policy)
}

// NewBackendClient returns a pooled client without retries. Callers fall back locally on failure.
func NewBackendClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: NewTransport(TransportConfig{ReadTimeout: timeout}),
		Timeout:   timeout,
	}
}
