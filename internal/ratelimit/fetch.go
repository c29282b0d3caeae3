package ratelimit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Default fetch behavior.
const (
	DefaultMaxRetries = 3
	DefaultTimeout    = 15 * time.Second

	rateLimitBackoff = 1 * time.Second
	networkBackoff   = 500 * time.Millisecond
)

// UpstreamError is returned when a fetch exhausts its retries.
type UpstreamError struct {
	URL    string
	Status int // 0 when the failure never produced a response
	Cause  error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream %s: status %d: %v", e.URL, e.Status, e.Cause)
	}
	return fmt.Sprintf("upstream %s: %v", e.URL, e.Cause)
}

func (e *UpstreamError) Unwrap() error { return e.Cause }

// FetchOptions tunes a single fetch.
type FetchOptions struct {
	MaxRetries int
	Timeout    time.Duration
	Headers    map[string]string
	// Body, when non-nil, turns the request into a POST with a JSON body.
	Body any
}

// FetchJSON issues an HTTP request with Accept: application/json and
// decodes a 2xx response into out. 429 responses wait 1s x (attempt+1);
// network errors wait 0.5s x (attempt+1); other non-2xx statuses are
// recorded and retried until retries are exhausted.
func FetchJSON(ctx context.Context, client *http.Client, url string, out any, opts *FetchOptions) error {
	if client == nil {
		client = http.DefaultClient
	}
	maxRetries := DefaultMaxRetries
	timeout := DefaultTimeout
	var headers map[string]string
	var body any
	if opts != nil {
		if opts.MaxRetries > 0 {
			maxRetries = opts.MaxRetries
		}
		if opts.Timeout > 0 {
			timeout = opts.Timeout
		}
		headers = opts.Headers
		body = opts.Body
	}

	var lastErr error
	lastStatus := 0

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := networkBackoff * time.Duration(attempt)
			if lastStatus == http.StatusTooManyRequests {
				backoff = rateLimitBackoff * time.Duration(attempt)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		status, err := fetchOnce(ctx, client, url, out, headers, body, timeout)
		if err == nil {
			return nil
		}
		lastErr = err
		lastStatus = status
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return &UpstreamError{URL: url, Status: lastStatus, Cause: lastErr}
}

func fetchOnce(ctx context.Context, client *http.Client, url string, out any, headers map[string]string, body any, timeout time.Duration) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := http.MethodGet
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request body: %w", err)
		}
		method = http.MethodPost
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, url, reader)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return resp.StatusCode, fmt.Errorf("rate limited (429)")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(respBody, 200))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
