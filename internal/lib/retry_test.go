package lib

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/siphon/internal/models"
)

func TestCalculateBackoff_ExponentialGrowth(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, CalculateBackoff(0, 100, 10000))
	assert.Equal(t, 200*time.Millisecond, CalculateBackoff(1, 100, 10000))
	assert.Equal(t, 400*time.Millisecond, CalculateBackoff(2, 100, 10000))
	assert.Equal(t, 800*time.Millisecond, CalculateBackoff(3, 100, 10000))
}

func TestCalculateBackoff_CapsAtMax(t *testing.T) {
	assert.Equal(t, 10*time.Second, CalculateBackoff(20, 100, 10000))
}

func TestCalculateBackoff_NegativeAttemptClamped(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, CalculateBackoff(-3, 100, 10000))
}

func TestIsTransientHTTPStatus(t *testing.T) {
	transient := []int{500, 501, 502, 503, 504, 599, 408, 429}
	for _, status := range transient {
		assert.True(t, IsTransientHTTPStatus(status), "status %d should be transient", status)
	}

	permanent := []int{200, 201, 301, 400, 401, 403, 404, 409, 422}
	for _, status := range permanent {
		assert.False(t, IsTransientHTTPStatus(status), "status %d should not be transient", status)
	}
}

func TestShouldRetry(t *testing.T) {
	assert.True(t, ShouldRetry(true, 0, 3))
	assert.True(t, ShouldRetry(true, 2, 3))
	assert.False(t, ShouldRetry(true, 3, 3))
	assert.False(t, ShouldRetry(false, 0, 3))
}

func TestExecuteWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	operation := func() error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	}

	config := RetryConfig{MaxAttempts: 5, InitialBackoffMs: 1, MaxBackoffMs: 10}
	err := ExecuteWithRetry(context.Background(), operation, config, IsNetworkError)

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestExecuteWithRetry_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	operation := func() error {
		attempts++
		return errors.New("connection refused")
	}

	config := RetryConfig{MaxAttempts: 3, InitialBackoffMs: 1, MaxBackoffMs: 10}
	err := ExecuteWithRetry(context.Background(), operation, config, IsNetworkError)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, attempts)
}

func TestExecuteWithRetry_NonRetryableStopsImmediately(t *testing.T) {
	attempts := 0
	operation := func() error {
		attempts++
		return errors.New("validation failed")
	}

	config := RetryConfig{MaxAttempts: 5, InitialBackoffMs: 1, MaxBackoffMs: 10}
	err := ExecuteWithRetry(context.Background(), operation, config, IsNetworkError)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-retryable")
	assert.Equal(t, 1, attempts)
}

func TestExecuteWithRetry_CancelledContextAbortsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	operation := func() error {
		attempts++
		cancel() // cancel during the first backoff wait
		return errors.New("connection refused")
	}

	config := RetryConfig{MaxAttempts: 5, InitialBackoffMs: 60000, MaxBackoffMs: 120000}

	start := time.Now()
	err := ExecuteWithRetry(ctx, operation, config, IsNetworkError)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry aborted")
	assert.Equal(t, 1, attempts)
	assert.Less(t, time.Since(start), 5*time.Second, "cancellation must not wait out the backoff")
}

func TestNewRetryConfigFromModel(t *testing.T) {
	model := models.RetryConfig{MaxAttempts: 4, InitialBackoffMs: 50, MaxBackoffMs: 500}
	config := NewRetryConfigFromModel(model)

	assert.Equal(t, model.MaxAttempts, config.MaxAttempts)
	assert.Equal(t, model.InitialBackoffMs, config.InitialBackoffMs)
	assert.Equal(t, model.MaxBackoffMs, config.MaxBackoffMs)
}

func TestIsNetworkError(t *testing.T) {
	networkErrors := []string{
		"dial tcp 127.0.0.1:8042: connection refused",
		"read tcp: connection reset by peer",
		"lookup orthanc2: no such host",
		"context deadline exceeded",
		"unexpected EOF",
	}
	for _, msg := range networkErrors {
		assert.True(t, IsNetworkError(errors.New(msg)), msg)
	}

	assert.False(t, IsNetworkError(errors.New("invalid study uid")))
	assert.False(t, IsNetworkError(nil))
}
