// Package account implements one MeroShare investor account: login,
// lazy resolution of the identifiers needed to apply, issue and portfolio
// fetches, and idempotent application.
package account

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ndewijer/nepseutils/internal/apperrors"
	"github.com/ndewijer/nepseutils/internal/meroshare"
	"github.com/ndewijer/nepseutils/internal/model"
	"github.com/ndewijer/nepseutils/internal/resilience"
)

// Record is the persisted form of an account inside the vault blob.
type Record struct {
	Demat         string          `json:"dmat"`
	Password      string          `json:"password"`
	PIN           int             `json:"pin"`
	Username      int64           `json:"username"`
	Name          string          `json:"name"`
	DPID          string          `json:"dpid"`
	CRN           string          `json:"crn"`
	AccountNumber string          `json:"account"`
	CapitalID     int64           `json:"capital_id"`
	BranchID      int64           `json:"branch_id"`
	CustomerID    int64           `json:"customer_id"`
	BankID        int64           `json:"bank_id"`
	Portfolio     model.Portfolio `json:"portfolio"`
	Issues        model.Ledger    `json:"issues"`
	Tag           string          `json:"tag"`
}

// Options carries an account's collaborators.
type Options struct {
	// NewPortal creates the session on first use. Defaults to a
	// meroshare.Session against the public portal.
	NewPortal func() meroshare.Portal
	Policy    resilience.Policy
	// Saver persists the owning vault after ledger mutations. May be nil.
	Saver resilience.Saver
	Log   zerolog.Logger
}

// Account is an investor account. The embedded Record is the state that
// survives restarts; the portal session and its token do not.
type Account struct {
	Record

	newPortal  func() meroshare.Portal
	portal     meroshare.Portal
	policy     resilience.Policy
	saver      resilience.Saver
	baseLog    zerolog.Logger
	log        zerolog.Logger
	loginGroup singleflight.Group
}

// New builds an account from a record, deriving username and DP id from
// the demat number when they are missing.
func New(rec Record, opts Options) *Account {
	if rec.DPID == "" && len(rec.Demat) >= 8 {
		rec.DPID = rec.Demat[3:8]
	}
	if rec.Username == 0 && len(rec.Demat) >= 8 {
		if u, err := strconv.ParseInt(rec.Demat[len(rec.Demat)-8:], 10, 64); err == nil {
			rec.Username = u
		}
	}

	newPortal := opts.NewPortal
	if newPortal == nil {
		log := opts.Log
		newPortal = func() meroshare.Portal {
			return meroshare.NewSession(meroshare.Options{Log: log})
		}
	}

	a := &Account{
		Record:    rec,
		newPortal: newPortal,
		policy:    opts.Policy,
		saver:     opts.Saver,
	}
	a.baseLog = opts.Log.With().Str("component", "account").Logger()
	a.relabel()
	return a
}

// SetSaver attaches the persistence hook after construction.
func (a *Account) SetSaver(s resilience.Saver) { a.saver = s }

// Label names the account in logs and results.
func (a *Account) Label() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Demat
}

func (a *Account) relabel() {
	a.log = a.baseLog.With().Str("account", a.Label()).Logger()
}

// Snapshot returns a copy of the persisted state.
func (a *Account) Snapshot() Record {
	rec := a.Record
	rec.Issues = append(model.Ledger(nil), a.Issues...)
	rec.Portfolio.Entries = append([]model.PortfolioEntry(nil), a.Portfolio.Entries...)
	return rec
}

// BOID is the last eight digits of the demat number.
func (a *Account) BOID() string {
	if len(a.Demat) < 8 {
		return a.Demat
	}
	return a.Demat[len(a.Demat)-8:]
}

func (a *Account) session() meroshare.Portal {
	if a.portal == nil {
		a.portal = a.newPortal()
	}
	return a.portal
}

// Authenticated reports whether a bearer token is held.
func (a *Account) Authenticated() bool {
	return a.portal != nil && a.portal.Token() != ""
}

// Token returns the current bearer token.
func (a *Account) Token() string {
	if a.portal == nil {
		return ""
	}
	return a.portal.Token()
}

// Login authenticates against the portal, retrying transient failures.
// Concurrent callers share each in-flight attempt.
func (a *Account) Login(ctx context.Context) error {
	return resilience.RetryErr(ctx, a.policy, a.loginOnce)
}

func (a *Account) loginOnce(ctx context.Context) error {
	_, err, _ := a.loginGroup.Do("login", func() (any, error) {
		return nil, a.login(ctx)
	})
	return err
}

// attempt is the account as seen from inside a retry loop: its Login makes
// a single attempt, so the enclosing retry bounds the total number of logins.
type attempt struct{ *Account }

func (s attempt) Login(ctx context.Context) error { return s.loginOnce(ctx) }

func (a *Account) login(ctx context.Context) error {
	if a.Username == 0 || a.Password == "" || a.CapitalID == 0 {
		return apperrors.Local(a.Label(), apperrors.ErrMissingCredentials)
	}

	resp, err := a.session().Login(ctx, meroshare.LoginRequest{
		ClientID: strconv.FormatInt(a.CapitalID, 10),
		Username: a.Username,
		Password: a.Password,
	})
	if err != nil {
		a.log.Error().Err(err).Msg("Login failed")
		return err
	}

	switch {
	case resp.PasswordExpired:
		a.log.Error().Msg("Password has expired")
		return apperrors.Local(a.Label(), apperrors.ErrPasswordExpired)
	case resp.AccountExpired:
		a.log.Error().Msg("Account has expired")
		return apperrors.Local(a.Label(), apperrors.ErrAccountExpired)
	case resp.DematExpired:
		a.log.Error().Msg("Demat has expired")
		return apperrors.Local(a.Label(), apperrors.ErrDematExpired)
	}

	a.log.Debug().Msg("Logged in")
	return nil
}

// Logout ends the portal session. It is a no-op without a token.
func (a *Account) Logout(ctx context.Context) error {
	if !a.Authenticated() {
		return nil
	}
	return resilience.RetryErr(ctx, a.policy, func(ctx context.Context) error {
		if !a.Authenticated() {
			return nil
		}
		if err := a.session().Logout(ctx); err != nil {
			a.log.Warn().Err(err).Msg("Logout failed")
			return err
		}
		return nil
	})
}

// call runs op with retry and a guaranteed session. The session check sits
// inside the retry so that an expired token dropped by one attempt is
// re-established by the next, with at most one login per attempt.
func call[T any](ctx context.Context, a *Account, op func(ctx context.Context, p meroshare.Portal) (T, error)) (T, error) {
	return resilience.Retry(ctx, a.policy, func(ctx context.Context) (T, error) {
		return resilience.EnsureSession(ctx, attempt{a}, func(ctx context.Context) (T, error) {
			return op(ctx, a.session())
		})
	})
}

// saved is call followed by a vault save on success.
func saved[T any](ctx context.Context, a *Account, op func(ctx context.Context, p meroshare.Portal) (T, error)) (T, error) {
	return resilience.Autosave(ctx, a.saver, func(ctx context.Context) (T, error) {
		return call(ctx, a, op)
	})
}

// GetDetails resolves name, account number, bank, branch and customer ids,
// skipping every lookup whose target is already known.
func (a *Account) GetDetails(ctx context.Context) (Record, error) {
	a.log.Info().Msg("Getting account details")

	_, err := call(ctx, a, func(ctx context.Context, p meroshare.Portal) (struct{}, error) {
		if a.AccountNumber == "" || a.Name == "" {
			detail, err := p.OwnDetail(ctx, a.Demat)
			if err != nil {
				return struct{}{}, err
			}
			if a.Name == "" {
				a.Name = detail.Name
			}
			if a.AccountNumber == "" {
				bank, err := p.BankRequest(ctx, detail.BankCode)
				if err != nil {
					return struct{}{}, err
				}
				a.AccountNumber = bank.AccountNumber
			}
		}

		if a.BankID == 0 {
			banks, err := p.Banks(ctx)
			if err != nil {
				return struct{}{}, err
			}
			if len(banks) == 0 {
				return struct{}{}, apperrors.Transient("fetch banks", fmt.Errorf("no linked bank"))
			}
			a.BankID = banks[0].ID
		}

		if a.BranchID == 0 || a.CustomerID == 0 {
			detail, err := p.BankDetail(ctx, a.BankID)
			if err != nil {
				return struct{}{}, err
			}
			if a.BranchID == 0 {
				a.BranchID = detail.AccountBranchID
			}
			if a.CustomerID == 0 {
				a.CustomerID = detail.ID
			}
		}
		return struct{}{}, nil
	})
	if err != nil {
		return Record{}, err
	}

	a.relabel()
	return a.Snapshot(), nil
}

// linked reports whether every field the apply payload needs is present.
func (a *Account) linked() bool {
	return a.Demat != "" && a.AccountNumber != "" && a.CustomerID != 0 &&
		a.BranchID != 0 && a.CRN != "" && a.PIN != 0 && a.BankID != 0
}
