// Package resilience holds the three wrappers applied around every portal
// call: a transient-only retry policy, lazy session establishment, and
// persistence after a successful mutation.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/ndewijer/nepseutils/internal/apperrors"
)

// DefaultAttempts and DefaultDelay are the account-credential policy.
const (
	DefaultAttempts = 3
	DefaultDelay    = 2 * time.Second
)

// Policy is a fixed-delay, bounded-attempt retry policy.
type Policy struct {
	Attempts int           // Total attempts including the first; values below 1 mean 1
	Delay    time.Duration // Constant wait between attempts
}

// DefaultPolicy returns the policy used for account operations.
func DefaultPolicy() Policy {
	return Policy{Attempts: DefaultAttempts, Delay: DefaultDelay}
}

func (p Policy) backoff() retry.Backoff {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.Delay
	if delay <= 0 {
		delay = time.Millisecond
	}
	return retry.WithMaxRetries(uint64(attempts-1), retry.NewConstant(delay))
}

// Retry runs op until it succeeds, returns a non-transient error, or the
// policy is exhausted. Only *apperrors.TransientError is retried; after the
// last attempt the original error is returned unchanged.
func Retry[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			if apperrors.IsTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// RetryErr is Retry for operations without a result value.
func RetryErr(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Retry(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Authenticator is anything that can tell whether it holds a token and obtain one.
type Authenticator interface {
	Authenticated() bool
	Login(ctx context.Context) error
}

// EnsureSession logs in first when no token is held, then runs op.
func EnsureSession[T any](ctx context.Context, a Authenticator, op func(ctx context.Context) (T, error)) (T, error) {
	if !a.Authenticated() {
		if err := a.Login(ctx); err != nil {
			var zero T
			return zero, err
		}
	}
	return op(ctx)
}

// Saver persists the owning state.
type Saver interface {
	Save(ctx context.Context) error
}

// SaverFunc adapts a function to Saver.
type SaverFunc func(ctx context.Context) error

func (f SaverFunc) Save(ctx context.Context) error { return f(ctx) }

// Autosave runs op and persists through s only when op succeeded.
// A save failure is joined to the result so callers see both.
func Autosave[T any](ctx context.Context, s Saver, op func(ctx context.Context) (T, error)) (T, error) {
	v, err := op(ctx)
	if err != nil {
		return v, err
	}
	if s == nil {
		return v, nil
	}
	if err := s.Save(ctx); err != nil {
		return v, errors.Join(errors.New("autosave failed"), err)
	}
	return v, nil
}
