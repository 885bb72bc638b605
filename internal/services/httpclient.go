package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/trobanga/siphon/internal/lib"
	"github.com/trobanga/siphon/internal/models"
)

// HTTPClient wraps the standard http.Client with retry logic and configuration
type HTTPClient struct {
	client      *http.Client
	retryConfig lib.RetryConfig
	logger      *lib.Logger
}

// NewHTTPClient creates an HTTP client with timeout and retry configuration
func NewHTTPClient(timeout time.Duration, retryConfig models.RetryConfig, logger *lib.Logger) *HTTPClient {
	return &HTTPClient{
		client: &http.Client{
			Timeout: timeout,
		},
		retryConfig: lib.NewRetryConfigFromModel(retryConfig),
		logger:      logger,
	}
}

// DefaultHTTPClient creates an HTTP client with sensible defaults
func DefaultHTTPClient() *HTTPClient {
	return NewHTTPClient(
		30*time.Second,
		models.RetryConfig{
			MaxAttempts:      5,
			InitialBackoffMs: 1000,
			MaxBackoffMs:     30000,
		},
		lib.DefaultLogger,
	)
}

// Get performs an HTTP GET request with retry logic
func (c *HTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	return c.Do(req)
}

// Do executes an HTTP request, retrying transient failures with
// exponential backoff. Network errors and 5xx/408/429 statuses are
// transient; any other status is returned to the caller untouched so it
// can read the error details. Backoff waits abort early when the
// request's context is cancelled.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryConfig.MaxAttempts; attempt++ {
		startTime := time.Now()
		resp, err := c.client.Do(req)
		duration := time.Since(startTime)

		lib.LogServiceCall(c.logger, req.URL.Host, req.URL.Path, req.Method)

		if err == nil {
			lib.LogServiceResponse(c.logger, req.URL.Host, resp.StatusCode, duration)

			if resp.StatusCode < 400 || !lib.IsTransientHTTPStatus(resp.StatusCode) {
				return resp, nil
			}

			// Transient HTTP status: retry after backoff
			lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
			_ = resp.Body.Close()
		} else {
			if !lib.IsNetworkError(err) {
				return nil, err
			}
			lastErr = err
		}

		if attempt == c.retryConfig.MaxAttempts-1 {
			break
		}

		lib.LogRetry(c.logger, req.URL.String(), attempt, c.retryConfig.MaxAttempts, lastErr)

		backoff := lib.CalculateBackoff(attempt, c.retryConfig.InitialBackoffMs, c.retryConfig.MaxBackoffMs)
		select {
		case <-time.After(backoff):
		case <-req.Context().Done():
			return nil, fmt.Errorf("request aborted: %w", req.Context().Err())
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", c.retryConfig.MaxAttempts, lastErr)
}
