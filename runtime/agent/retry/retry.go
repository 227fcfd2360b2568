// Package retry implements the bounded retry policy used around oracle calls
// and capability execution. Each call to Do starts from a fresh state: no
// backoff or attempt counters are shared across turns.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// DefaultAttempts is the attempt budget used when a Policy leaves it unset.
const DefaultAttempts = 3

type (
	// Policy configures retry behavior.
	Policy struct {
		// Attempts is the maximum number of attempts including the first.
		// Values below 1 mean DefaultAttempts.
		Attempts int
		// InitialBackoff is the delay before the first retry. Zero retries
		// immediately.
		InitialBackoff time.Duration
		// MaxBackoff caps the delay between retries. Zero means no cap.
		MaxBackoff time.Duration
		// Multiplier grows the backoff after each retry. Values below 1 keep
		// the backoff constant.
		Multiplier float64
		// Jitter adds up to this fraction of random variation to each delay.
		Jitter float64
		// Retryable decides whether err warrants another attempt. Nil retries
		// every error except context cancellation and permanent errors.
		Retryable func(err error) bool
		// OnRetry is called before each retry with the failed attempt number.
		OnRetry func(attempt int, err error)
	}

	// ExhaustedError is returned when every attempt failed.
	ExhaustedError struct {
		// Attempts is the number of attempts made.
		Attempts int
		// Elapsed is the time spent across all attempts.
		Elapsed time.Duration
		// Last is the error returned by the final attempt.
		Last error
	}

	permanentError struct{ err error }
)

// Permanent marks err as not retryable. Do returns the wrapped error
// immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. fn receives the 1-based attempt number.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = DefaultAttempts
	}
	start := time.Now()
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		last = err
		if !p.retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if d := p.backoff(attempt); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return &ExhaustedError{Attempts: attempts, Elapsed: time.Since(start), Last: last}
}

// Error implements error.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts over %v: %v", e.Attempts, e.Elapsed, e.Last)
}

// Unwrap returns the last attempt error.
func (e *ExhaustedError) Unwrap() error { return e.Last }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func (p Policy) retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return true
}

func (p Policy) backoff(attempt int) time.Duration {
	if p.InitialBackoff <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialBackoff) * math.Pow(mult, float64(attempt-1))
	if p.MaxBackoff > 0 && d > float64(p.MaxBackoff) {
		d = float64(p.MaxBackoff)
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * (rand.Float64()*2 - 1) //nolint:gosec // jitter needs no crypto rand
	}
	return time.Duration(d)
}
