package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func fastConfig() Config {
	return Config{
		Enabled:      true,
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_MaxAttemptsExceeded(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastConfig(), func() error {
		calls++
		return errTransient
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 4, calls)
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	fatal := errors.New("unauthorized")
	cfg := fastConfig()
	cfg.NonRetryableErrors = []error{fatal}

	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return fmt.Errorf("dial: %w", fatal)
	})
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestRetry_Disabled(t *testing.T) {
	cfg := fastConfig()
	cfg.Enabled = false

	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return errTransient
	})
	assert.Equal(t, errTransient, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_UnlimitedUntilCancelled(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = -1

	ctx, cancel := context.WithCancel(context.Background())
	var attempts []int
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
		if attempt == 5 {
			cancel()
		}
	}

	err := Retry(ctx, cfg, func() error { return errTransient })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, attempts)
}

func TestRetryWithResult(t *testing.T) {
	calls := 0
	got, err := RetryWithResult(context.Background(), fastConfig(), func() (string, error) {
		calls++
		if calls == 1 {
			return "", errTransient
		}
		return "wss://relay", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "wss://relay", got)
}

func TestCalculateDelay(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	assert.Equal(t, 100*time.Millisecond, calculateDelay(cfg, 0))
	assert.Equal(t, 400*time.Millisecond, calculateDelay(cfg, 2))
	assert.Equal(t, time.Second, calculateDelay(cfg, 10))

	cfg.Jitter = true
	for i := 0; i < 20; i++ {
		d := calculateDelay(cfg, 1)
		assert.GreaterOrEqual(t, d, 150*time.Millisecond)
		assert.Less(t, d, 250*time.Millisecond)
	}
}

func TestReconnectConfig(t *testing.T) {
	cfg := ReconnectConfig()
	assert.Equal(t, -1, cfg.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.MaxDelay)
}
