// Package backend holds the outbound clients for the NLP, sentiment and predict services.
// None of them retry; callers fall back locally when a call fails.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Error reports a failed backend call.
type Error struct {
	Backend    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s backend: status %d: %v", e.Backend, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s backend: %v", e.Backend, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// postJSON posts payload and, when out is non-nil, decodes a 2xx application/json reply into it.
func postJSON(ctx context.Context, client *http.Client, backend, url string, payload, out any) error {
	blob, err := json.Marshal(payload)
	if err != nil {
		return &Error{Backend: backend, Err: fmt.Errorf("encode request: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(blob))
	if err != nil {
		return &Error{Backend: backend, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return &Error{Backend: backend, Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Backend: backend, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status")}
	}
	if out == nil {
		return nil
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		return &Error{Backend: backend, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected content type %q", ct)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Backend: backend, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
