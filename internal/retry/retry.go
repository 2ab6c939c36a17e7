// Package retry runs external-service calls with a bounded timeout and
// exponential backoff. Only transient failures are retried.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Policy configures retries. The zero value makes a single attempt.
type Policy struct {
	MaxRetries     int           // retries after the first attempt
	Initial        time.Duration // delay before the first retry
	MaxDelay       time.Duration // cap on any single delay
	Factor         float64       // multiplier per retry, 2 when <= 1
	AttemptTimeout time.Duration // per-attempt deadline, 0 = none

	// OnRetry is called before each sleep.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy returns 3 retries starting at 250ms, doubling, capped at 5s.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, Initial: 250 * time.Millisecond, MaxDelay: 5 * time.Second, Factor: 2}
}

// Delay returns the sleep before retry number n (1-based).
func (p Policy) Delay(n int) time.Duration {
	f := p.Factor
	if f <= 1 {
		f = 2
	}
	d := float64(p.Initial)
	for i := 1; i < n; i++ {
		d *= f
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// StatusError is a non-2xx response from an external service.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Body)
}

// Temporary reports whether the status is worth retrying (429 and 5xx).
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsTransient reports whether err is a network failure, timeout or retryable
// status. Cancellation and everything unrecognized are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// Do calls fn until it succeeds, returns a non-transient error, the retry
// budget runs out, or ctx is done.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for calls that return a value.
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		v, err := runAttempt(ctx, p, fn)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%w (after %d attempts: %v)", ctx.Err(), attempt+1, err)
		}
		if attempt >= p.MaxRetries || !IsTransient(err) {
			if attempt > 0 {
				return zero, fmt.Errorf("after %d attempts: %w", attempt+1, err)
			}
			return zero, err
		}

		delay := p.Delay(attempt + 1)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err, delay)
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, fmt.Errorf("%w (after %d attempts: %v)", ctx.Err(), attempt+1, err)
		case <-t.C:
		}
	}
}

func runAttempt[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	if p.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()
	return fn(actx)
}
