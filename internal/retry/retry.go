// Package retry provides the single retry policy shared by script fetching
// and remote inference calls.
//
// A Policy bundles the attempt budget, the base delay, and the backoff
// function that turns an attempt number into a sleep duration:
//
//	policy := retry.Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, Backoff: retry.Exponential}
//	err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
//	    return fetch(ctx)
//	})
//
// Do returns the error of the last attempt. Callers mark permanent failures
// with Stop so that no further attempts are made.
package retry

import (
	"context"
	"errors"
	"time"
)

// BackoffFunc computes the delay before the retry that follows the given
// zero-indexed attempt.
type BackoffFunc func(base time.Duration, attempt int) time.Duration

// Exponential doubles the delay each attempt: base * 2^attempt.
func Exponential(base time.Duration, attempt int) time.Duration {
	return base << attempt
}

// Constant waits base between every attempt.
func Constant(base time.Duration, _ int) time.Duration {
	return base
}

// Policy controls how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// BaseDelay is passed to Backoff to compute each delay.
	BaseDelay time.Duration

	// MaxDelay caps any single delay. Zero means no cap.
	MaxDelay time.Duration

	// Backoff computes delays. Nil means Exponential.
	Backoff BackoffFunc

	// OnRetry, when set, is called after a failed attempt that will be
	// followed by another one.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Delay returns the sleep duration after the given zero-indexed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	backoff := p.Backoff
	if backoff == nil {
		backoff = Exponential
	}
	d := backoff(p.BaseDelay, attempt)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if d < 0 {
		d = 0
	}
	return d
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// StopError wraps an error to signal that retrying should stop immediately.
type StopError struct {
	Err error
}

func (e *StopError) Error() string { return e.Err.Error() }
func (e *StopError) Unwrap() error { return e.Err }

// Stop wraps err so that Do returns it without further attempts.
// Stop(nil) returns nil.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &StopError{Err: err}
}

// sleeper waits between attempts; tests replace it to avoid real delays.
type sleeper interface {
	sleep(ctx context.Context, d time.Duration) error
}

type timerSleeper struct{}

func (timerSleeper) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn until it succeeds, returns a StopError, the attempt budget is
// spent, or ctx is done. The returned error is the last attempt's error
// (unwrapped from StopError), or the context error when cancelled while
// waiting.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	return doWithSleeper(ctx, p, fn, timerSleeper{})
}

func doWithSleeper(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error, s sleeper) error {
	var lastErr error
	maxAttempts := p.attempts()

	for attempt := range maxAttempts {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return errors.Join(lastErr, err)
			}
			return err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}

		var stop *StopError
		if errors.As(lastErr, &stop) {
			return stop.Err
		}

		if attempt == maxAttempts-1 {
			break
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr, delay)
		}
		if err := s.sleep(ctx, delay); err != nil {
			return errors.Join(lastErr, err)
		}
	}

	return lastErr
}
