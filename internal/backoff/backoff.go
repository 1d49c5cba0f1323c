// Package backoff implements the generic retry engine each orchestration
// phase runs inside: exponential delay between attempts, cancellation, an
// optional attempt cap, and a per-phase circuit breaker companion that
// short-circuits a phase hammering a wholesale-down remote.
package backoff

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/artemis/bucketsinit/internal/bucketserr"
)

const (
	initialDelay = 10 * time.Millisecond
	maxDelay     = 5000 * time.Millisecond
)

// AttemptFunc is a single attempt at a phase's work. A nil error means the
// phase succeeded.
type AttemptFunc func(ctx context.Context) error

// IsTransientFunc classifies an error returned by AttemptFunc.
type IsTransientFunc func(err error) bool

// Runner repeats an AttemptFunc with exponential backoff until it succeeds,
// returns a terminal error, or exhausts its attempt cap. Each Runner
// manages a single in-flight attempt: Run must not be called again
// concurrently on the same Runner while a prior call is still executing.
type Runner struct {
	logger  *zap.Logger
	breaker *gobreaker.CircuitBreaker
}

// New constructs a Runner for a named phase. The phase name becomes the
// circuit breaker's name; it does not need to be globally unique.
func New(logger *zap.Logger, phaseName string) *Runner {
	settings := gobreaker.Settings{
		Name:        phaseName,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Runner{
		logger:  logger,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Run executes attemptFn repeatedly until success, a terminal error (per
// isTransient), context cancellation, or maxAttempts is reached (0 means
// unlimited). On cancellation it returns a bucketserr.Error of kind
// KindCanceled wrapping ctx.Err(). On exhaustion it returns a
// bucketserr.Error of kind KindMaxAttemptsReached.
func (r *Runner) Run(ctx context.Context, phaseName string, attemptFn AttemptFunc, isTransient IsTransientFunc, maxAttempts int) error {
	delay := initialDelay
	attempt := 0

	for {
		attempt++

		if err := ctx.Err(); err != nil {
			return bucketserr.Wrap(bucketserr.KindCanceled, err, phaseName+" canceled")
		}

		_, err := r.breaker.Execute(func() (any, error) {
			return nil, attemptFn(ctx)
		})

		if err == nil {
			return nil
		}

		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			r.logger.Warn("phase circuit open, short-circuiting attempt",
				zap.String("phase", phaseName),
				zap.Int("attempt", attempt),
			)
			err = gobreakerOpenError{phase: phaseName, cause: err}
		} else if !isTransient(err) {
			r.logger.Error("phase failed with terminal error",
				zap.String("phase", phaseName),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}

		r.logger.Warn("phase attempt failed, retrying",
			zap.String("phase", phaseName),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		if maxAttempts > 0 && attempt >= maxAttempts {
			return bucketserr.Wrap(bucketserr.KindMaxAttemptsReached, err, phaseName+" exhausted retry attempts")
		}

		select {
		case <-ctx.Done():
			return bucketserr.Wrap(bucketserr.KindCanceled, ctx.Err(), phaseName+" canceled during backoff")
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// gobreakerOpenError wraps the breaker's open-circuit sentinel so callers
// see a normal error value; it is always transient, never changing what the
// phase classifier considers terminal (per the circuit breaker being an
// efficiency addition layered outside the retry state machine).
type gobreakerOpenError struct {
	phase string
	cause error
}

func (e gobreakerOpenError) Error() string {
	return e.phase + ": circuit open: " + e.cause.Error()
}

func (e gobreakerOpenError) Unwrap() error {
	return e.cause
}
