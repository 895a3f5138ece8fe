package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func recordingSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestDo_BackoffIsCapped(t *testing.T) {
	var delays []time.Duration
	calls := 0
	p := Policy{
		Attempts: 5,
		Delay:    5 * time.Second,
		Backoff:  10,
		MaxDelay: 500 * time.Second,
		Sleep:    recordingSleep(&delays),
	}

	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return errBoom
	})

	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 5, calls)
	assert.Equal(t, []time.Duration{
		5 * time.Second,
		50 * time.Second,
		500 * time.Second,
		500 * time.Second,
	}, delays)
}

func TestDo_StopsOnSuccess(t *testing.T) {
	var delays []time.Duration
	calls := 0
	p := Policy{Attempts: 5, Delay: 30 * time.Second, Backoff: 5, MaxDelay: 300 * time.Second, Sleep: recordingSleep(&delays)}

	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{30 * time.Second, 150 * time.Second}, delays)
}

func TestDo_RetryIfRejects(t *testing.T) {
	calls := 0
	fatal := errors.New("fatal")
	p := Policy{
		Attempts: 10,
		RetryIf:  func(err error) bool { return !errors.Is(err, fatal) },
		Sleep:    NoSleep,
	}

	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return fatal
	})

	require.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestDo_OnRetry(t *testing.T) {
	var attempts []int
	p := Policy{
		Attempts: 3,
		Sleep:    NoSleep,
		OnRetry:  func(attempt int, _ time.Duration, _ error) { attempts = append(attempts, attempt) },
	}

	_ = Do(context.Background(), p, func(context.Context) error { return errBoom })
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{Attempts: 10, Delay: time.Hour}

	err := Do(ctx, p, func(context.Context) error {
		calls++
		cancel()
		return errBoom
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, 1, calls)
}

func TestDo_InterruptedSleepReportsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{
		Attempts: 10,
		Delay:    5 * time.Second,
		Sleep: func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}

	err := Do(ctx, p, func(context.Context) error {
		calls++
		return errBoom
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, errBoom)
	assert.Equal(t, 1, calls)
}

func TestDo_CancelledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, Policy{Attempts: 3}, func(context.Context) error {
		calls++
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{}, func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
