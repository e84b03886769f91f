// Package external wraps the third-party services the forum engine talks to.
// HTTP providers go through BaseClient, which adds a circuit breaker, retries
// on 429 and 5xx, and maps failures to types.AppError codes.
package external

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"quora/internal/types"
)

// RetryPolicy bounds the retries of one BaseClient call.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy is used by mail providers unless overridden.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		MinWait:    500 * time.Millisecond,
		MaxWait:    5 * time.Second,
	}
}

// errRetryableStatus marks a response the breaker should count as a failure.
var errRetryableStatus = errors.New("retryable upstream status")

// BaseClient is an *http.Client behind a circuit breaker with retries.
type BaseClient struct {
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	policy    RetryPolicy
	userAgent string
	sleep     func(time.Duration)
}

// BaseClientOption configures a BaseClient.
type BaseClientOption func(*BaseClient)

// WithSleepFunc replaces time.Sleep between retries.
func WithSleepFunc(fn func(time.Duration)) BaseClientOption {
	return func(c *BaseClient) { c.sleep = fn }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *gobreaker.CircuitBreaker[*http.Response]) BaseClientOption {
	return func(c *BaseClient) { c.breaker = cb }
}

// NewBaseClient returns a client whose breaker trips after more than five
// consecutive failures and half-opens after 30 seconds.
func NewBaseClient(httpClient *http.Client, name string, policy RetryPolicy, userAgent string, opts ...BaseClientOption) *BaseClient {
	c := &BaseClient{
		client:    httpClient,
		policy:    policy,
		userAgent: userAgent,
		sleep:     time.Sleep,
		breaker: gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends req, retrying 429 and 5xx responses and transport errors. Any
// other response is returned to the caller, who must close its body. After
// the last attempt, or when the breaker is open, an AppError is returned.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	if id := types.GetRequestID(req.Context()); id != "" {
		req.Header.Set("X-Request-Id", id)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to buffer request body", err)
		}
	}

	var (
		lastStatus int
		lastErr    error
	)
	attempts := c.policy.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
			req.ContentLength = int64(len(body))
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, err := c.client.Do(req)
			if err != nil {
				return nil, err
			}
			if r.StatusCode == http.StatusTooManyRequests || r.StatusCode >= 500 {
				return r, fmt.Errorf("%w: %d", errRetryableStatus, r.StatusCode)
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}

		lastErr = err
		lastStatus = 0
		var wait time.Duration
		if resp != nil {
			lastStatus = resp.StatusCode
			wait = c.backoff(attempt, resp.Header.Get("Retry-After"))
			resp.Body.Close()
		} else {
			wait = c.backoff(attempt, "")
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		if req.Context().Err() != nil {
			break
		}
		if attempt < attempts-1 {
			c.sleep(wait)
		}
	}

	return nil, mapTransportError(lastStatus, lastErr)
}

// backoff honours Retry-After (seconds or HTTP date) and otherwise picks a
// jittered wait in [MinWait, MinWait*2^attempt], capped at MaxWait.
func (c *BaseClient) backoff(attempt int, retryAfter string) time.Duration {
	clamp := func(d time.Duration) time.Duration {
		return max(c.policy.MinWait, min(d, c.policy.MaxWait))
	}
	if retryAfter != "" {
		if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
			return clamp(time.Duration(secs) * time.Second)
		}
		if at, err := http.ParseTime(retryAfter); err == nil {
			return clamp(time.Until(at))
		}
	}

	ceiling := c.policy.MinWait << attempt
	if ceiling > c.policy.MaxWait || ceiling < c.policy.MinWait {
		ceiling = c.policy.MaxWait
	}
	if ceiling <= c.policy.MinWait {
		return c.policy.MinWait
	}
	return c.policy.MinWait + time.Duration(rand.Int63n(int64(ceiling-c.policy.MinWait)))
}

func mapTransportError(status int, err error) *types.AppError {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "circuit breaker open", err)
	case status == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "upstream rate limit exceeded", err)
	case status >= 500:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, fmt.Sprintf("upstream returned %d after retries", status), err)
	default:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "upstream request failed", err)
	}
}
