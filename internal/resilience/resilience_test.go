package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndewijer/nepseutils/internal/apperrors"
	"github.com/ndewijer/nepseutils/internal/resilience"
)

var fast = resilience.Policy{Attempts: 3, Delay: time.Millisecond}

// TestRetry covers the attempt bound and error classification.
//
// WHY: Every portal call goes through Retry. Retrying a fatal error would
// hammer the portal with an expired password; retrying forever would hang a
// batch. Only transient errors may be retried, and at most Attempts times.
func TestRetry(t *testing.T) {
	t.Run("stops after the configured attempts on transient errors", func(t *testing.T) {
		calls := 0
		transient := apperrors.Transient("fetch", errors.New("connection reset"))

		_, err := resilience.Retry(context.Background(), fast, func(context.Context) (int, error) {
			calls++
			return 0, transient
		})

		assert.Equal(t, 3, calls)
		assert.True(t, apperrors.IsTransient(err))
		assert.ErrorIs(t, err, transient)
	})

	t.Run("returns a non-transient error without retrying", func(t *testing.T) {
		calls := 0
		fatal := apperrors.Local("acct", apperrors.ErrPasswordExpired)

		_, err := resilience.Retry(context.Background(), fast, func(context.Context) (int, error) {
			calls++
			return 0, fatal
		})

		assert.Equal(t, 1, calls)
		assert.ErrorIs(t, err, apperrors.ErrPasswordExpired)
	})

	t.Run("returns the value of the first successful attempt", func(t *testing.T) {
		calls := 0

		v, err := resilience.Retry(context.Background(), fast, func(context.Context) (string, error) {
			calls++
			if calls < 2 {
				return "", apperrors.Transient("fetch", errors.New("timeout"))
			}
			return "ok", nil
		})

		require.NoError(t, err)
		assert.Equal(t, "ok", v)
		assert.Equal(t, 2, calls)
	})

	t.Run("a single attempt policy never retries", func(t *testing.T) {
		calls := 0
		err := resilience.RetryErr(context.Background(), resilience.Policy{Attempts: 1}, func(context.Context) error {
			calls++
			return apperrors.Transient("fetch", errors.New("timeout"))
		})

		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("stops waiting when the context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		slow := resilience.Policy{Attempts: 5, Delay: time.Hour}
		calls := 0

		err := resilience.RetryErr(ctx, slow, func(context.Context) error {
			calls++
			cancel()
			return apperrors.Transient("fetch", errors.New("timeout"))
		})

		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}

type fakeAuth struct {
	token  bool
	logins int
	err    error
}

func (f *fakeAuth) Authenticated() bool { return f.token }

func (f *fakeAuth) Login(context.Context) error {
	f.logins++
	if f.err != nil {
		return f.err
	}
	f.token = true
	return nil
}

// TestEnsureSession verifies lazy authentication.
//
// WHY: Logging in on every call would burn the portal's rate limit, while
// never logging in would make every first call fail.
func TestEnsureSession(t *testing.T) {
	t.Run("logs in once when no token is held", func(t *testing.T) {
		auth := &fakeAuth{}
		op := func(context.Context) (int, error) { return 1, nil }

		_, err := resilience.EnsureSession(context.Background(), auth, op)
		require.NoError(t, err)
		_, err = resilience.EnsureSession(context.Background(), auth, op)
		require.NoError(t, err)

		assert.Equal(t, 1, auth.logins)
	})

	t.Run("does not run the operation when login fails", func(t *testing.T) {
		auth := &fakeAuth{err: apperrors.Local("acct", apperrors.ErrDematExpired)}
		ran := false

		_, err := resilience.EnsureSession(context.Background(), auth, func(context.Context) (int, error) {
			ran = true
			return 0, nil
		})

		assert.ErrorIs(t, err, apperrors.ErrDematExpired)
		assert.False(t, ran)
	})
}

type countingSaver struct {
	saves int
	err   error
}

func (s *countingSaver) Save(context.Context) error {
	s.saves++
	return s.err
}

// TestAutosave verifies persistence happens only after success.
//
// WHY: Saving after a failed fetch could persist a half-updated ledger.
func TestAutosave(t *testing.T) {
	t.Run("saves after success", func(t *testing.T) {
		s := &countingSaver{}
		v, err := resilience.Autosave(context.Background(), s, func(context.Context) (int, error) { return 7, nil })

		require.NoError(t, err)
		assert.Equal(t, 7, v)
		assert.Equal(t, 1, s.saves)
	})

	t.Run("never saves after failure", func(t *testing.T) {
		s := &countingSaver{}
		_, err := resilience.Autosave(context.Background(), s, func(context.Context) (int, error) {
			return 0, errors.New("boom")
		})

		assert.Error(t, err)
		assert.Zero(t, s.saves)
	})

	t.Run("reports a failed save", func(t *testing.T) {
		diskFull := errors.New("disk full")
		s := &countingSaver{err: diskFull}
		_, err := resilience.Autosave(context.Background(), s, func(context.Context) (int, error) { return 1, nil })

		assert.ErrorIs(t, err, diskFull)
	})

	t.Run("a nil saver is a no-op", func(t *testing.T) {
		_, err := resilience.Autosave(context.Background(), nil, func(context.Context) (int, error) { return 1, nil })
		assert.NoError(t, err)
	})

	t.Run("SaverFunc adapts a function", func(t *testing.T) {
		called := false
		var s resilience.Saver = resilience.SaverFunc(func(context.Context) error {
			called = true
			return nil
		})

		_, err := resilience.Autosave(context.Background(), s, func(context.Context) (int, error) { return 1, nil })
		require.NoError(t, err)
		assert.True(t, called)
	})
}
