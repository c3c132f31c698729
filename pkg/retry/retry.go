// Package retry runs an operation with exponential backoff and jitter.
// The judge and aggregator clients classify each failure as Retryable or
// Permanent; only the former consume further attempts.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryableError marks a failure worth another attempt, a timeout or a
// 5xx from an upstream API.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err so Do retries it. A nil err stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err carries the retryable marker.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// PermanentError marks a failure that more attempts cannot fix, a bad
// handle or a 4xx.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Do stops immediately. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries the permanent marker.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Policy fixes the attempt budget and the backoff curve.
type Policy struct {
	// MaxAttempts counts the first try too.
	MaxAttempts int

	// BaseDelay is the wait after the first failure; each later wait
	// doubles it, capped at MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// Jitter spreads each wait by +/- this fraction so parallel
	// fetchers do not hammer an upstream in lockstep.
	Jitter float64
}

// Retrier executes operations under one Policy.
type Retrier struct {
	policy Policy
}

// New returns a Retrier for the given policy, normalizing nonsense
// values to something workable.
func New(p Policy) *Retrier {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = 0
	}
	return &Retrier{policy: p}
}

// AggregatorRetrier is tuned for the rating aggregator: few attempts,
// long waits, wide jitter, since it rate-limits aggressively.
func AggregatorRetrier() *Retrier {
	return New(Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      0.2,
	})
}

// JudgeRetrier is tuned for the judge submission APIs, which tolerate
// a quicker cadence.
func JudgeRetrier() *Retrier {
	return New(Policy{
		MaxAttempts: 4,
		BaseDelay:   300 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		Jitter:      0.1,
	})
}

// Do runs operation until it succeeds, returns a non-retryable error,
// exhausts the attempt budget, or ctx ends. Marker wrappers are removed
// from the returned error.
func (r *Retrier) Do(ctx context.Context, operation func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := operation(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if IsPermanent(err) {
			return errors.Unwrap(err)
		}
		if !IsRetryable(err) {
			return err
		}
		if attempt == r.policy.MaxAttempts {
			return errors.Unwrap(err)
		}

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(r.delay(attempt)):
		}
	}
}

func (r *Retrier) delay(attempt int) time.Duration {
	d := float64(r.policy.BaseDelay) * math.Pow(2, float64(attempt-1))
	if max := float64(r.policy.MaxDelay); d > max {
		d = max
	}
	if r.policy.Jitter > 0 {
		d += d * r.policy.Jitter * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
