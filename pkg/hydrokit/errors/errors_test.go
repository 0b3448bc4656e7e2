package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategoryString(t *testing.T) {
	tests := []struct {
		category Category
		expected string
	}{
		{CategoryUnrecoverable, "unrecoverable"},
		{CategorySkipped, "skipped"},
		{CategoryRetried, "retried"},
		{CategoryDegraded, "degraded"},
		{CategoryTransient, "transient"},
		{Category(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.category.String())
		})
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Category
	}{
		{"nil error", nil, CategoryUnrecoverable},
		{"skipped", Skipped(errors.New("corrupt"), "expand"), CategorySkipped},
		{"retried", Retried(errors.New("await"), "transform", 2), CategoryRetried},
		{"degraded", Degraded(errors.New("no queue"), "publish"), CategoryDegraded},
		{"transient", Transient(errors.New("busy"), "claim"), CategoryTransient},
		{"wrapped skipped", fmt.Errorf("outer: %w", Skipped(errors.New("x"), "")), CategorySkipped},
		{"deadline", context.DeadlineExceeded, CategoryTransient},
		{"unknown", errors.New("boom"), CategoryUnrecoverable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Categorize(tt.err))
		})
	}
}

func TestCategorizedErrorMessage(t *testing.T) {
	base := errors.New("cache rejected")

	withContext := Unrecoverable(base, "load /tmp/a.hbc")
	assert.Equal(t, "load /tmp/a.hbc: cache rejected (category: unrecoverable, attempts: 0)", withContext.Error())
	assert.ErrorIs(t, withContext, base)

	bare := Retried(base, "", 2)
	assert.Equal(t, "cache rejected (category: retried, attempts: 2)", bare.Error())
}

func TestHelpers(t *testing.T) {
	assert.True(t, IsRetryable(Transient(errors.New("x"), "")))
	assert.False(t, IsRetryable(Skipped(errors.New("x"), "")))
	assert.True(t, IsSkippable(Skipped(errors.New("x"), "")))
	assert.True(t, IsFatal(errors.New("x")))
	assert.False(t, IsFatal(Degraded(errors.New("x"), "")))
}

func TestRetryConfigDelay(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     40 * time.Millisecond,
		BackoffFactor:  2,
	}

	assert.Equal(t, 10*time.Millisecond, cfg.Delay(0))
	assert.Equal(t, 20*time.Millisecond, cfg.Delay(1))
	assert.Equal(t, 40*time.Millisecond, cfg.Delay(2))
	assert.Equal(t, 40*time.Millisecond, cfg.Delay(10))
}

func TestWithRetry(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		BackoffFactor:  1,
	}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		res := WithRetry(context.Background(), cfg, func(context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, Transient(errors.New("busy"), "claim")
			}
			return 42, nil
		})
		require.NoError(t, res.Err)
		assert.Equal(t, 42, res.Value)
		assert.Equal(t, 3, res.Attempts)
	})

	t.Run("stops on non-retryable error", func(t *testing.T) {
		calls := 0
		res := WithRetry(context.Background(), cfg, func(context.Context) (int, error) {
			calls++
			return 0, errors.New("fatal")
		})
		require.Error(t, res.Err)
		assert.Equal(t, 1, calls)
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		res := WithRetry(context.Background(), cfg, func(context.Context) (int, error) {
			return 0, Transient(errors.New("busy"), "claim")
		})
		require.Error(t, res.Err)
		assert.Equal(t, 3, res.Attempts)
		assert.Contains(t, res.Err.Error(), "max retries exceeded")
	})

	t.Run("honours cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res := WithRetry(ctx, cfg, func(context.Context) (int, error) {
			t.Fatal("fn must not run")
			return 0, nil
		})
		require.Error(t, res.Err)
		assert.ErrorIs(t, res.Err, context.Canceled)
		assert.Equal(t, 0, res.Attempts)
	})
}
