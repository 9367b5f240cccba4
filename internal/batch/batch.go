// Package batch runs account operations across every selected account.
// A failure is recorded against its account and the run moves on; only a
// global error stops the run.
package batch

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ndewijer/nepseutils/internal/account"
	"github.com/ndewijer/nepseutils/internal/apperrors"
)

// Source provides the accounts a run iterates. *vault.Vault satisfies it
// with its tag-filtered view.
type Source interface {
	Accounts() []*account.Account
}

// Result is one account's outcome.
type Result[T any] struct {
	Account string
	Value   T
	Err     error
}

// Run is the outcome of one batch operation.
type Run[T any] struct {
	ID      uuid.UUID
	Results []Result[T]
	// Err is the global error that stopped the run, if any.
	Err error
}

// Succeeded counts results without an error.
func (r Run[T]) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Err == nil {
			n++
		}
	}
	return n
}

// Failed returns the results that carry an error.
func (r Run[T]) Failed() []Result[T] {
	var out []Result[T]
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Runner executes batch operations.
type Runner struct {
	src Source
	log zerolog.Logger
}

// NewRunner creates a runner over src.
func NewRunner(src Source, log zerolog.Logger) *Runner {
	return &Runner{
		src: src,
		log: log.With().Str("component", "batch").Logger(),
	}
}

// each runs fn for every account. A global error or a cancelled context
// stops the run; every other error is recorded and the next account runs.
// When logout is set each account is logged out after fn, whatever the
// outcome.
func each[T any](ctx context.Context, r *Runner, op string, logout bool, fn func(ctx context.Context, a *account.Account) (T, error)) Run[T] {
	run := Run[T]{ID: uuid.New()}
	log := r.log.With().Str("run_id", run.ID.String()).Str("op", op).Logger()

	accounts := r.src.Accounts()
	log.Info().Int("accounts", len(accounts)).Msg("Batch started")

	for _, a := range accounts {
		if err := ctx.Err(); err != nil {
			run.Err = err
			break
		}

		v, err := fn(ctx, a)
		if logout {
			if lerr := a.Logout(ctx); lerr != nil {
				log.Warn().Err(lerr).Str("account", a.Label()).Msg("Logout failed")
			}
		}
		run.Results = append(run.Results, Result[T]{Account: a.Label(), Value: v, Err: err})

		if err != nil {
			log.Error().Err(err).Str("account", a.Label()).Msg("Account failed")
			if apperrors.IsGlobal(err) || errors.Is(err, context.Canceled) {
				run.Err = err
				break
			}
		}
	}

	log.Info().
		Int("succeeded", run.Succeeded()).
		Int("failed", len(run.Failed())).
		Bool("aborted", run.Err != nil).
		Msg("Batch finished")
	return run
}
