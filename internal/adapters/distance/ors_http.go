package distance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"donation-logistics-service/internal/platform/obs"

	"go.uber.org/zap"
)

// Error bodies are truncated to this many bytes before they reach the log.
const maxErrorBody = 2048

// retryPolicy bounds the retries of one ORS call. Backoff doubles per
// attempt up to maxBackoff; a Retry-After header on 429/503 wins when it
// is shorter than maxBackoff.
type retryPolicy struct {
	maxAttempts int
	backoff     time.Duration
	maxBackoff  time.Duration
}

var defaultRetryPolicy = retryPolicy{
	maxAttempts: 4,
	backoff:     200 * time.Millisecond,
	maxBackoff:  3 * time.Second,
}

// WithRetry overrides the retry policy. attempts below 1 mean a single try.
func WithRetry(attempts int, backoff, maxBackoff time.Duration) ORSOption {
	return func(o *ORSDistanceProvider) {
		if attempts < 1 {
			attempts = 1
		}
		o.retry = retryPolicy{maxAttempts: attempts, backoff: backoff, maxBackoff: maxBackoff}
	}
}

type httpStatusError struct {
	Code       int
	Body       string
	retryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("ors responded %d: %s", e.Code, e.Body)
}

func (e *httpStatusError) transient() bool {
	switch e.Code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (o *ORSDistanceProvider) newRequest(
	ctx context.Context,
	method string,
	url string,
	body io.Reader,
) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", o.apiKey)
	req.Header.Set("Accept", "application/json")
	if id := obs.RequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

func (o *ORSDistanceProvider) do(req *http.Request) (*http.Response, error) {
	resp, err := o.session.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 400 {
		return resp, nil
	}

	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return nil, &httpStatusError{
		Code:       resp.StatusCode,
		Body:       strings.TrimSpace(string(b)),
		retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

// doWithRetry retries transient failures (network errors, 429 and 5xx
// responses) while respecting context cancellation. makeReq is called once
// per attempt so request bodies can be replayed.
func (o *ORSDistanceProvider) doWithRetry(
	ctx context.Context,
	makeReq func() (*http.Request, error),
) (*http.Response, error) {
	policy := o.retry
	backoff := policy.backoff

	var lastErr error
	for attempt := 1; attempt <= policy.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := makeReq()
		if err != nil {
			return nil, fmt.Errorf("make request: %w", err)
		}

		resp, err := o.do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		wait, retry := retryDelay(err, backoff, policy.maxBackoff)
		if !retry || attempt == policy.maxAttempts {
			return nil, lastErr
		}

		o.log.Debug("retrying ORS request",
			zap.String("req_id", obs.RequestID(ctx)),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		backoff = min(backoff*2, policy.maxBackoff)
	}

	return nil, lastErr
}

// retryDelay decides whether err is worth another attempt and how long to
// wait before it.
func retryDelay(err error, backoff, maxBackoff time.Duration) (time.Duration, bool) {
	var he *httpStatusError
	if errors.As(err, &he) {
		if !he.transient() {
			return 0, false
		}
		if he.retryAfter > 0 && he.retryAfter <= maxBackoff {
			return he.retryAfter, true
		}
		return backoff, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return backoff, true
	}
	return 0, false
}

// parseRetryAfter understands the delay-seconds form only. HTTP-date
// values yield zero.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
