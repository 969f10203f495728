package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fast(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDo_SucceedsAfterTransientErrors(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fast(3), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_AllAttemptsFail(t *testing.T) {
	attempts := 0
	sentinel := errors.New("persistent")
	err := Do(context.Background(), fast(3), func() error {
		attempts++
		return sentinel
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, attempts)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	attempts := 0
	_ = Do(context.Background(), fast(0), func() error {
		attempts++
		return errors.New("x")
	})
	assert.Equal(t, 1, attempts)
}

func TestDo_NonRetryableStops(t *testing.T) {
	attempts := 0
	base := errors.New("bad input")
	err := Do(context.Background(), fast(5), func() error {
		attempts++
		return NonRetryable(base)
	})
	assert.Equal(t, 1, attempts)
	assert.True(t, IsNonRetryable(err))
	assert.ErrorIs(t, err, base)
	assert.Nil(t, NonRetryable(nil))
}

func TestDo_UnlimitedUntilContextEnds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	attempts := 0
	cfg := fast(-1)
	err := Do(ctx, cfg, func() error {
		attempts++
		return errors.New("not yet")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Greater(t, attempts, 2)
}

func TestDo_WakeSkipsBackoff(t *testing.T) {
	wake := make(chan struct{}, 1)
	cfg := Config{MaxAttempts: 2, InitialDelay: time.Hour, MaxDelay: time.Hour, Wake: wake}
	attempts := 0
	start := time.Now()
	err := Do(context.Background(), cfg, func() error {
		attempts++
		if attempts == 1 {
			wake <- struct{}{}
			return errors.New("first")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Less(t, time.Since(start), time.Minute)
}

func TestDo_InvalidConfig(t *testing.T) {
	called := false
	fn := func() error { called = true; return nil }
	assert.Error(t, Do(context.Background(), Config{InitialDelay: -1}, fn))
	assert.Error(t, Do(context.Background(), Config{InitialDelay: time.Second, MaxDelay: time.Millisecond}, fn))
	assert.False(t, called)
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	v, err := DoWithResult(context.Background(), fast(3), func() (int, error) {
		attempts++
		if attempts < 2 {
			return 0, errors.New("again")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}
