// Package retry wraps fallible network operations with bounded retry,
// exponential backoff with jitter, and error classification. Callers receive
// a uniform Result value and never need to distinguish between thrown and
// returned failure.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rivermead/fedauth/httppool"
)

const (
	defaultMaxAttempts     = 3
	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxInterval     = 10 * time.Second
)

// Permanent marks an error as terminal: the retryer aborts immediately
// instead of scheduling further attempts. Validation and configuration
// errors must be marked this way.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Retryable classifies an error. Network errors and 5xx-equivalent failures
// are retryable; errors marked Permanent and 4xx statuses (except 429) are
// terminal.
func Retryable(err error) bool {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return false
	}

	var statusErr *httppool.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}

	// Anything else reaching the retryer is transport-level (DNS, TLS,
	// connection reset, timeout) and worth another attempt.
	return true
}

// Result is the uniform outcome of a retried operation.
type Result[T any] struct {
	Value    T
	Err      error
	Attempts int
}

// Success reports whether the operation eventually succeeded.
func (r Result[T]) Success() bool { return r.Err == nil }

// Retryer executes operations with bounded retry and exponential backoff.
// It serializes attempts only within one logical operation; concurrent
// operations are independent.
type Retryer struct {
	maxAttempts     int
	initialInterval time.Duration
	maxInterval     time.Duration
	logger          *slog.Logger
}

// Options configures a Retryer.
type Options struct {
	// MaxAttempts is the total number of attempts including the first.
	// Default: 3.
	MaxAttempts int

	// InitialInterval is the delay before the second attempt.
	// Default: 500ms.
	InitialInterval time.Duration

	// MaxInterval caps the backoff delay. Default: 10s.
	MaxInterval time.Duration

	// Logger for structured logging (nil uses the default logger).
	Logger *slog.Logger
}

// New creates a Retryer.
func New(opts Options) *Retryer {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	initial := opts.InitialInterval
	if initial <= 0 {
		initial = defaultInitialInterval
	}
	maxInterval := opts.MaxInterval
	if maxInterval <= 0 {
		maxInterval = defaultMaxInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Retryer{
		maxAttempts:     maxAttempts,
		initialInterval: initial,
		maxInterval:     maxInterval,
		logger:          logger,
	}
}

// MaxAttempts returns the configured attempt limit.
func (r *Retryer) MaxAttempts() int { return r.maxAttempts }

// newBackOff builds the per-operation backoff schedule. Jitter comes from
// the schedule's randomization factor, avoiding synchronized retry storms
// across concurrent clients.
func (r *Retryer) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialInterval
	b.MaxInterval = r.maxInterval
	b.MaxElapsedTime = 0 // attempts are bounded by count, not wall time
	b.Reset()
	return b
}

// Do executes fn up to the configured attempt count. Terminal errors abort
// immediately; retryable errors wait out the backoff delay between attempts.
// The returned Result carries the number of attempts performed.
func Do[T any](ctx context.Context, r *Retryer, operation string, fn func(context.Context) (T, error)) Result[T] {
	schedule := r.newBackOff()

	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		value, err := fn(ctx)
		if err == nil {
			return Result[T]{Value: value, Attempts: attempt}
		}
		lastErr = err

		if !Retryable(err) {
			r.logger.Debug("Operation failed with terminal error",
				"operation", operation,
				"attempt", attempt,
				"error", err)
			return Result[T]{Err: unwrapPermanent(err), Attempts: attempt}
		}
		if attempt == r.maxAttempts {
			break
		}

		delay := schedule.NextBackOff()
		r.logger.Debug("Operation failed, retrying",
			"operation", operation,
			"attempt", attempt,
			"delay", delay,
			"error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Result[T]{Err: ctx.Err(), Attempts: attempt}
		}
	}

	r.logger.Warn("Operation exhausted retry attempts",
		"operation", operation,
		"attempts", r.maxAttempts,
		"error", lastErr)
	return Result[T]{Err: lastErr, Attempts: r.maxAttempts}
}

// unwrapPermanent strips the permanent marker so callers see the underlying
// error.
func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Unwrap()
	}
	return err
}
