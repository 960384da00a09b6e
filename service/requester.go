package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Fullstackdeveloper4545/aws/config"
)

// Result is a single upstream response with the body already decoded.
// Data holds parsed JSON when the body is JSON, raw text otherwise.
type Result struct {
	StatusCode int
	Data       any
}

// Requester issues one upstream call with a bounded retry policy
// specialized for HTTP 429. Transport failures are never retried here;
// 5xx retries live at the transport layer inside the session.
type Requester struct {
	client      *http.Client
	base        time.Duration
	cap         time.Duration
	maxAttempts int
	sleep       func(time.Duration)
}

// NewRequester builds a requester over the session's client using the
// configured rate-limit backoff policy.
func NewRequester(session *SecureSession, pacing config.PacingConfig) *Requester {
	return &Requester{
		client:      session.Client(),
		base:        time.Duration(pacing.RetryBaseSeconds) * time.Second,
		cap:         time.Duration(pacing.RetryCapSeconds) * time.Second,
		maxAttempts: pacing.MaxAttempts,
		sleep:       time.Sleep,
	}
}

// Do performs the request. On 429 it waits min(cap, base·2^(attempt−1)),
// honoring a larger Retry-After from the server, and tries again up to
// the attempt budget; exhausting the budget yields a RateLimitError so
// callers can pace the loop instead of failing the job.
func (r *Requester) Do(ctx context.Context, method, rawURL string, params url.Values) (*Result, error) {
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		rawURL += sep + params.Encode()
	}

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := r.client.Do(req)
		if err != nil {
			// TLS, connection and timeout failures are classified apart
			// from rate limiting and surface immediately.
			return nil, &TransportError{Err: err}
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			if attempt == r.maxAttempts {
				return nil, &RateLimitError{Attempts: r.maxAttempts}
			}

			wait := r.base << (attempt - 1)
			if wait > r.cap {
				wait = r.cap
			}
			if retryAfter > wait {
				wait = retryAfter
			}
			slog.Warn("rate limited by upstream, backing off",
				"attempt", attempt,
				"wait", wait.String(),
				"url", rawURL,
			)
			r.sleep(wait)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, &TransportError{Err: err}
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			var data any
			if err := json.Unmarshal(body, &data); err != nil {
				// Not JSON; hand back the raw text.
				data = string(body)
			}
			return &Result{StatusCode: resp.StatusCode, Data: data}, nil
		}

		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return nil, &RateLimitError{Attempts: r.maxAttempts}
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
