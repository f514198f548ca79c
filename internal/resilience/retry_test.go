package resilience

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDoRetriesTransientErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetryConfig(3), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("upstream hiccup"), http.StatusBadGateway)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	permanent := errors.New("bad request")
	err := Do(context.Background(), fastRetryConfig(5), func(ctx context.Context) error {
		calls++
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetryConfig(3), func(ctx context.Context) error {
		calls++
		return NewTransientError(errors.New("still down"), http.StatusServiceUnavailable)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoValReturnsValueFromSuccessfulAttempt(t *testing.T) {
	calls := 0
	val, err := DoVal(context.Background(), fastRetryConfig(3), func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", NewTransientError(errors.New("retry me"), 0)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", val)
	assert.Equal(t, 2, calls)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, fastRetryConfig(10), func(ctx context.Context) error {
		calls++
		cancel()
		return NewTransientError(errors.New("flaky"), 0)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoOnRetryCallback(t *testing.T) {
	var attempts []int
	cfg := fastRetryConfig(3)
	cfg.OnRetry = func(attempt int, err error) {
		attempts = append(attempts, attempt)
	}
	_ = Do(context.Background(), cfg, func(ctx context.Context) error {
		return NewTransientError(errors.New("nope"), 0)
	})
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDoShouldRetryOverride(t *testing.T) {
	calls := 0
	cfg := fastRetryConfig(3)
	cfg.ShouldRetry = func(err error) bool { return true }
	sentinel := errors.New("normally permanent")
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("validation failed")))
	assert.True(t, IsTransient(NewTransientError(errors.New("x"), 503)))
	assert.True(t, IsTransient(errors.New("read tcp: connection reset by peer")))
	assert.True(t, IsTransient(errors.New("dial tcp: i/o timeout")))
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 201, 400, 401, 403, 404, 409, 422} {
		assert.False(t, IsTransientHTTPStatus(code), "status %d", code)
	}
}

func TestComputeBackoffCapsAndGrows(t *testing.T) {
	cfg := applyDefaults(RetryConfig{
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     40 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0,
	})
	assert.Equal(t, 10*time.Millisecond, computeBackoff(0, cfg))
	assert.Equal(t, 20*time.Millisecond, computeBackoff(1, cfg))
	assert.Equal(t, 40*time.Millisecond, computeBackoff(2, cfg))
	assert.Equal(t, 40*time.Millisecond, computeBackoff(5, cfg))
}
