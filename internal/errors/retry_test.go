package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	cfg.Jitter = false
	return cfg
}

func TestRetry_SucceedsAfterTransientError(t *testing.T) {
	// Given: a function that fails twice with a retryable error
	attempts := 0
	fn := func() error {
		attempts++
		if attempts < 3 {
			return Network("flaky", nil)
		}
		return nil
	}

	// When: retrying
	err := Retry(context.Background(), fastRetry(), fn)

	// Then: succeeds on the third attempt
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_FailsAfterMaxRetries(t *testing.T) {
	attempts := 0
	cfg := fastRetry()
	cfg.MaxRetries = 2

	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return RateLimited("limited", nil)
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.Equal(t, 3, attempts)
}

func TestRetry_DoesNotRetryNotFound(t *testing.T) {
	// Given: a function returning not-found
	attempts := 0

	// When: retrying with the default predicate
	err := Retry(context.Background(), fastRetry(), func() error {
		attempts++
		return NotFound("docs/gone.md", nil)
	})

	// Then: the error surfaces immediately, unwrapped
	assert.Equal(t, 1, attempts)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NotContains(t, err.Error(), "retries")
}

func TestRetry_NilPredicateRetriesEverything(t *testing.T) {
	attempts := 0
	cfg := fastRetry()
	cfg.ShouldRetry = nil

	_ = Retry(context.Background(), cfg, func() error {
		attempts++
		return errors.New("plain")
	})

	assert.Equal(t, cfg.MaxRetries+1, attempts)
}

func TestRetry_RespectsContextCancellation(t *testing.T) {
	// Given: an already cancelled context
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// When: retrying
	called := false
	err := Retry(ctx, fastRetry(), func() error {
		called = true
		return nil
	})

	// Then: nothing runs
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestRetry_OnRetryReportsAttempts(t *testing.T) {
	var seen []int
	cfg := fastRetry()
	cfg.MaxRetries = 2
	cfg.OnRetry = func(attempt int, _ error, _ time.Duration) {
		seen = append(seen, attempt)
	}

	_ = Retry(context.Background(), cfg, func() error { return Network("x", nil) })

	assert.Equal(t, []int{1, 2}, seen)
}

func TestRetryWithResult_ReturnsValue(t *testing.T) {
	attempts := 0
	got, err := RetryWithResult(context.Background(), fastRetry(), func() (string, error) {
		attempts++
		if attempts == 1 {
			return "", Network("first", nil)
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}
