// Package resilience wraps unreliable remote calls with retries and
// per-name circuit breakers.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"
	"time"

	"adbot/internal/transport"
)

var (
	ErrCircuitOpen      = errors.New("resilience: circuit open")
	ErrRetriesExhausted = errors.New("resilience: retries exhausted")
)

// RetriesExhaustedError is returned when every attempt failed with a
// retryable error. It matches both ErrRetriesExhausted and the last error.
type RetriesExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("resilience: retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() []error { return []error{ErrRetriesExhausted, e.Last} }

func circuitOpen(name string) error { return fmt.Errorf("%w: %s", ErrCircuitOpen, name) }

// NoRetry marks an error as non-retryable.
//
//	return resilience.NoRetry(fmt.Errorf("bad input: %w", err))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }

// Rejected marks an error raised locally before the remote call was made,
// such as a refused admission. It is never retried and breakers ignore it.
//
//	if err := limiter.Acquire(ctx); err != nil {
//		return resilience.Rejected(err)
//	}
func Rejected(err error) error {
	if err == nil {
		return nil
	}
	return rejectedError{err: err}
}

// IsRejected reports whether err is wrapped with Rejected.
func IsRejected(err error) bool {
	var e rejectedError
	return errors.As(err, &e)
}

type rejectedError struct{ err error }

func (e rejectedError) Error() string { return e.err.Error() }
func (e rejectedError) Unwrap() error { return e.err }

// RetryAfter attaches a server-suggested delay to err. The retry loop honours
// the hint, bounded by the configured max delay, and still applies jitter.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return retryAfterError{err: err, after: after}
}

// RetryAfterError is implemented by errors that carry an explicit retry delay.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

type retryAfterError struct {
	err   error
	after time.Duration
}

func (e retryAfterError) Error() string             { return fmt.Sprintf("retry-after(%s): %v", e.after, e.err) }
func (e retryAfterError) Unwrap() error             { return e.err }
func (e retryAfterError) RetryAfter() time.Duration { return e.after }

// retryHint returns the delay suggested by err, if any.
func retryHint(err error) (time.Duration, bool) {
	var ra RetryAfterError
	if errors.As(err, &ra) {
		return ra.RetryAfter(), true
	}
	var h interface{ RetryAfterHint() time.Duration }
	if errors.As(err, &h) && h.RetryAfterHint() > 0 {
		return h.RetryAfterHint(), true
	}
	return 0, false
}

// IsRetryable reports whether err is a transient failure: rate limiting,
// gateway or availability errors, timeouts and transport-level failures.
func IsRetryable(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, context.Canceled),
		errors.Is(err, ErrCircuitOpen),
		IsNoRetry(err),
		IsRejected(err):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}
	if _, ok := retryHint(err); ok {
		return true
	}
	var tr interface{ Transient() bool }
	if errors.As(err, &tr) {
		return tr.Transient()
	}
	var sc interface{ StatusCode() int }
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		return code == 429 || code >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED)
}

type outcome int

const (
	outcomeIgnore outcome = iota
	outcomeSuccess
	outcomeFailure
)

// classifyOutcome decides how a call result counts toward a breaker. Caller
// cancellation says nothing about the remote side. Per-chat permanent errors
// mean the remote answered.
func classifyOutcome(err error) outcome {
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, context.Canceled), IsRejected(err):
		return outcomeIgnore
	case transport.IsChatScoped(err):
		return outcomeSuccess
	default:
		return outcomeFailure
	}
}
