// Package retry runs fallible operations under a bounded, capped
// exponential backoff policy.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy describes how often and how patiently an operation is retried.
//
// After a failed attempt Do sleeps Delay, then multiplies Delay by Backoff
// and caps it at MaxDelay before the next wait.
type Policy struct {
	Attempts int
	Delay    time.Duration
	Backoff  float64
	MaxDelay time.Duration

	// RetryIf decides whether an error is worth another attempt.
	// Nil retries every error.
	RetryIf func(error) bool
	// OnRetry is called before sleeping, with the attempt that just failed.
	OnRetry func(attempt int, delay time.Duration, err error)
	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do calls op until it succeeds, the attempts are used up, RetryIf rejects
// the error or ctx is cancelled. It returns the last error seen, except
// when ctx ends first: then the error wraps ctx.Err() and only quotes the
// last failure, so callers never mistake an interrupted run for an
// exhausted one.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	delay := p.Delay
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return interrupted(ctxErr, err)
		}
		if err = op(ctx); err == nil {
			return nil
		}
		if attempt == attempts || (p.RetryIf != nil && !p.RetryIf(err)) {
			return err
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return interrupted(sleepErr, err)
		}
		delay = p.next(delay)
	}
	return err
}

func interrupted(cause, last error) error {
	if last == nil {
		return cause
	}
	return fmt.Errorf("%w (last attempt: %v)", cause, last)
}

func (p Policy) next(delay time.Duration) time.Duration {
	if p.Backoff > 0 {
		delay = time.Duration(float64(delay) * p.Backoff)
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Sleep blocks for d unless ctx is done first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NoSleep is a Sleep that returns immediately.
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}
