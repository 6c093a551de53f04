// Package external is the anti-corruption layer between the courier worker and
// the services it talks to over HTTP or vendor SDKs: the user service, the
// template service, the status endpoint of the API gateway, and the outbound
// mail transports. Outbound HTTP goes through BaseClient, which applies circuit
// breaking, retries on 429/5xx, trace propagation and error mapping.
package external

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"courier/internal/types"
)

// RetryPolicy configures the retry behavior for the BaseClient.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy returns the defaults used for collaborator lookups.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		MinWait:    200 * time.Millisecond,
		MaxWait:    2 * time.Second,
	}
}

// NoRetryPolicy sends each request exactly once. Used where the caller owns
// the retry loop (mail transports) or retries are pointless (status reports).
func NoRetryPolicy() RetryPolicy {
	return RetryPolicy{}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// SleepContext is the production SleepFunc.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// BaseClient wraps an *http.Client and a circuit breaker.
type BaseClient struct {
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	retryPolicy RetryPolicy
	userAgent   string
	sleepFn     SleepFunc
}

// BaseClientOption is a functional option for configuring a BaseClient.
type BaseClientOption func(*BaseClient)

// WithSleepFunc overrides the sleep used between retries. Tests use it to
// avoid real delays.
func WithSleepFunc(fn SleepFunc) BaseClientOption {
	return func(c *BaseClient) {
		c.sleepFn = fn
	}
}

// NewBaseClient creates a BaseClient with its own circuit breaker named
// breakerName.
func NewBaseClient(
	httpClient *http.Client,
	breakerName string,
	retryPolicy RetryPolicy,
	userAgent string,
	opts ...BaseClientOption,
) *BaseClient {
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation says nothing about upstream health.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return NewBaseClientWithBreaker(httpClient, cb, retryPolicy, userAgent, opts...)
}

// NewMailTransportBaseClient creates a single-shot BaseClient for a mail
// transport. Its breaker counts failures but never opens, so every attempt the
// delivery gateway makes reaches the provider.
func NewMailTransportBaseClient(
	httpClient *http.Client,
	breakerName string,
	userAgent string,
	opts ...BaseClientOption,
) *BaseClient {
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:     breakerName,
		Interval: 60 * time.Second,
		ReadyToTrip: func(gobreaker.Counts) bool {
			return false
		},
	})

	return NewBaseClientWithBreaker(httpClient, cb, NoRetryPolicy(), userAgent, opts...)
}

// NewBaseClientWithBreaker creates a BaseClient with a caller-provided circuit
// breaker.
func NewBaseClientWithBreaker(
	httpClient *http.Client,
	breaker *gobreaker.CircuitBreaker[*http.Response],
	retryPolicy RetryPolicy,
	userAgent string,
	opts ...BaseClientOption,
) *BaseClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	bc := &BaseClient{
		client:      httpClient,
		breaker:     breaker,
		retryPolicy: retryPolicy,
		userAgent:   userAgent,
		sleepFn:     SleepContext,
	}

	for _, opt := range opts {
		opt(bc)
	}

	return bc
}

// Do executes the request with trace and User-Agent headers, the circuit
// breaker, and retries on 429/5xx (honouring Retry-After).
//
// Any response that is not 429 or 5xx is returned as-is and the caller closes
// the body. Exhausted retries, an open breaker and transport failures return a
// *types.AppError; for 429/5xx its Details carry "status_code".
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if traceID := types.GetRequestID(ctx); traceID != "" {
		req.Header.Set("X-B3-TraceId", traceID)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	// Snapshot the body so it can be replayed on retries.
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, types.NewAppError(
				types.ErrCodeInternalUnexpected,
				"failed to read request body for retry support",
				err,
			)
		}
		req.Body.Close()
	}

	var lastResp *http.Response
	var lastErr error

	maxAttempts := 1 + c.retryPolicy.MaxRetries
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			req.ContentLength = int64(len(bodyBytes))
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, doErr := c.client.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			if r.StatusCode >= 500 {
				return r, fmt.Errorf("upstream returned %d", r.StatusCode)
			}
			if r.StatusCode == http.StatusTooManyRequests {
				return r, fmt.Errorf("upstream returned 429")
			}
			return r, nil
		})

		if err == nil {
			return resp, nil
		}

		lastErr = err
		lastResp = nil
		if resp != nil {
			if attempt < maxAttempts-1 {
				resp.Body.Close()
			} else {
				lastResp = resp
			}
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		if ctx.Err() != nil {
			break
		}

		if resp != nil && resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
			return resp, nil
		}

		if attempt < maxAttempts-1 {
			if sleepErr := c.sleepFn(ctx, c.computeBackoff(attempt, resp)); sleepErr != nil {
				lastErr = sleepErr
				break
			}
		}
	}

	if lastResp != nil {
		lastResp.Body.Close()
	}

	return nil, c.mapError(lastResp, lastErr)
}

// computeBackoff honours Retry-After when present and otherwise returns an
// exponential delay with jitter clamped to [MinWait, MaxWait].
func (c *BaseClient) computeBackoff(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
				wait := time.Duration(seconds) * time.Second
				if wait > c.retryPolicy.MaxWait {
					wait = c.retryPolicy.MaxWait
				}
				return wait
			}
			if t, err := http.ParseTime(retryAfter); err == nil {
				wait := time.Until(t)
				if wait <= 0 {
					return c.retryPolicy.MinWait
				}
				if wait > c.retryPolicy.MaxWait {
					wait = c.retryPolicy.MaxWait
				}
				return wait
			}
		}
	}

	base := float64(c.retryPolicy.MinWait) * math.Pow(2, float64(attempt))
	maxWait := float64(c.retryPolicy.MaxWait)
	if base > maxWait {
		base = maxWait
	}

	minWait := float64(c.retryPolicy.MinWait)
	if base <= minWait {
		return c.retryPolicy.MinWait
	}
	jittered := minWait + rand.Float64()*(base-minWait)
	return time.Duration(jittered)
}

// mapError translates HTTP-level failures into AppErrors.
func (c *BaseClient) mapError(resp *http.Response, err error) *types.AppError {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			"circuit breaker is open; upstream service unavailable",
			err,
		)
	}

	if resp != nil {
		details := map[string]any{"status_code": resp.StatusCode}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return types.NewAppErrorWithDetails(
				types.ErrCodeUpstreamRateLimited,
				"upstream rate limit exceeded",
				err,
				details,
			)
		case resp.StatusCode >= 500:
			return types.NewAppErrorWithDetails(
				types.ErrCodeUpstreamUnavailable,
				fmt.Sprintf("upstream returned status %d", resp.StatusCode),
				err,
				details,
			)
		}
	}

	return types.NewAppError(
		types.ErrCodeUpstreamUnavailable,
		fmt.Sprintf("upstream request failed: %v", err),
		err,
	)
}

// StatusCodeOf returns the HTTP status recorded on an AppError produced by
// BaseClient, or 0.
func StatusCodeOf(err error) int {
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Details == nil {
		return 0
	}
	code, _ := appErr.Details["status_code"].(int)
	return code
}
