// Package retry runs operations under an exponential backoff schedule.
//
// Only errors that opt in are retried: an error is retryable when something
// in its chain implements
//
//	interface{ Retryable() bool }
//
// and returns true. Everything else surfaces after the first attempt.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Strategy decides whether and when a failed operation is attempted again.
type Strategy interface {
	// Retries is the number of retries after the first attempt.
	Retries() int
	// ShouldRetry reports whether err, returned by the given zero-based
	// attempt, warrants another attempt.
	ShouldRetry(err error, attempt int) bool
	// NextDelay is the sleep that follows the given failed attempt.
	NextDelay(attempt int) time.Duration
	// Execute runs op until it succeeds or ShouldRetry says stop.
	Execute(ctx context.Context, op func(context.Context) error) error
}

// Policy is an exponential backoff Strategy with multiplicative jitter.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Jitter is the fractional spread applied to every delay; 0.1 gives
	// delays uniformly within ±10%.
	Jitter float64
}

// DefaultPolicy returns 3 retries starting at 500ms, doubling up to 60s,
// with 10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

var _ Strategy = Policy{}

// Retries returns p.MaxRetries.
func (p Policy) Retries() int { return p.MaxRetries }

// ShouldRetry reports attempt < MaxRetries for retryable errors.
func (p Policy) ShouldRetry(err error, attempt int) bool {
	return attempt < p.MaxRetries && IsRetryable(err)
}

// NextDelay returns min(MaxDelay, InitialDelay*Multiplier^attempt) scaled by
// a random factor in [1-Jitter, 1+Jitter].
func (p Policy) NextDelay(attempt int) time.Duration {
	d := p.baseDelay(attempt)
	if p.Jitter > 0 {
		d *= 1 + (rand.Float64()*2-1)*p.Jitter
	}
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

func (p Policy) baseDelay(attempt int) float64 {
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return d
}

// Execute runs op, sleeping NextDelay between attempts while ShouldRetry
// holds. Cancelling ctx aborts the sleep.
func (p Policy) Execute(ctx context.Context, op func(context.Context) error) error {
	return execute(ctx, p, op)
}

// BackOff exposes the schedule as a backoff.BackOff that stops after
// MaxRetries delays or when ctx is done.
func (p Policy) BackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(p.MaxRetries, 0))), ctx)
}

// sleep is replaced in tests.
var sleep = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func execute(ctx context.Context, s Strategy, op func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !s.ShouldRetry(err, attempt) {
			return err
		}
		if serr := sleep(ctx, s.NextDelay(attempt)); serr != nil {
			return fmt.Errorf("retry aborted after %d attempts: %w (last error: %v)", attempt+1, serr, err)
		}
	}
}

// Do runs op under s and returns its value.
func Do[T any](ctx context.Context, s Strategy, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := s.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// IsRetryable reports whether err opts into retries.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

type markedError struct {
	err       error
	retryable bool
}

func (e *markedError) Error() string   { return e.err.Error() }
func (e *markedError) Unwrap() error   { return e.err }
func (e *markedError) Retryable() bool { return e.retryable }

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{err: err, retryable: true}
}

// Permanent marks err as not retryable, overriding anything it wraps.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{err: err, retryable: false}
}
