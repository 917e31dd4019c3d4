// Package retry wraps fallible operations with bounded exponential backoff
// and jitter. Call sites wrap network and polling work with a Policy rather
// than looping themselves.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

const (
	defaultAttempts        = 4
	defaultInitialInterval = 250 * time.Millisecond
	defaultMaxInterval     = 5 * time.Second
	defaultMultiplier      = 2.0
	defaultJitter          = 0.5
)

// Policy describes how an operation is retried. Attempts counts every call
// of the operation, including the first.
type Policy struct {
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          float64
	// MaxElapsed bounds the total time spent retrying. Zero means no bound
	// other than Attempts.
	MaxElapsed time.Duration
	OnRetry    func(op string, attempt int, err error, delay time.Duration)
}

func Default() Policy {
	return Policy{
		Attempts:        defaultAttempts,
		InitialInterval: defaultInitialInterval,
		MaxInterval:     defaultMaxInterval,
		Multiplier:      defaultMultiplier,
		Jitter:          defaultJitter,
	}
}

// Normalize fills zero fields with defaults.
func (p Policy) Normalize() Policy {
	if p.Attempts <= 0 {
		p.Attempts = defaultAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = defaultInitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = defaultMaxInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = defaultMultiplier
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = defaultJitter
	}
	return p
}

// WithNotify returns a copy of p that also calls fn before each retry.
func (p Policy) WithNotify(fn func(op string, attempt int, err error, delay time.Duration)) Policy {
	prev := p.OnRetry
	p.OnRetry = func(op string, attempt int, err error, delay time.Duration) {
		if prev != nil {
			prev(op, attempt, err, delay)
		}
		fn(op, attempt, err, delay)
	}
	return p
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	p = p.Normalize()
	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.InitialInterval),
		backoff.WithMaxInterval(p.MaxInterval),
		backoff.WithMultiplier(p.Multiplier),
		backoff.WithRandomizationFactor(p.Jitter),
		backoff.WithMaxElapsedTime(p.MaxElapsed),
	)
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.Attempts-1)), ctx)
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempt
// budget is spent, or ctx is done.
func (p Policy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	_, err := DoValue(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, op string, fn func(context.Context) (T, error)) (T, error) {
	attempt := 0
	operation := func() (T, error) {
		attempt++
		value, err := fn(ctx)
		if err != nil && (ctx.Err() != nil || !IsRetryable(err)) {
			return value, backoff.Permanent(err)
		}
		return value, err
	}
	notify := func(err error, delay time.Duration) {
		log.Ctx(ctx).Debug().
			Str("op", op).
			Int("attempt", attempt).
			Dur("delay", delay).
			Err(err).
			Msg("retrying")
		if p.OnRetry != nil {
			p.OnRetry(op, attempt, err, delay)
		}
	}
	return backoff.RetryNotifyWithData(operation, p.backOff(ctx), notify)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type classified interface {
	Retryable() bool
}

// IsRetryable reports whether err is a transient failure. Cancellation and
// errors marked with Permanent are never retried. Errors implementing
// Retryable() bool classify themselves; anything else is treated as
// transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	var backoffPerm *backoff.PermanentError
	if errors.As(err, &backoffPerm) {
		return false
	}
	var c classified
	if errors.As(err, &c) {
		return c.Retryable()
	}
	return true
}
