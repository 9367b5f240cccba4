package vault

import (
	"context"
	"fmt"
	"slices"

	"github.com/ndewijer/nepseutils/internal/account"
	"github.com/ndewijer/nepseutils/internal/apperrors"
)

// AddRequest holds what a user supplies to add an account. CapitalID may be
// zero, in which case it is looked up from the DP code inside the demat.
type AddRequest struct {
	Demat     string
	Password  string
	CRN       string
	PIN       int
	CapitalID int64
	Tag       string
}

// AddAccount resolves the new account's details against the portal and
// stores it. Nothing is stored if the details cannot be resolved.
func (v *Vault) AddAccount(ctx context.Context, req AddRequest) (*account.Account, error) {
	if len(req.Demat) < 8 {
		return nil, fmt.Errorf("invalid demat %q", req.Demat)
	}
	if len(req.Password) < MinPasswordLength {
		return nil, apperrors.ErrShortPassword
	}
	for _, a := range v.accounts {
		if a.Demat == req.Demat {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrDuplicateAccount, req.Demat)
		}
	}

	capitalID := req.CapitalID
	if capitalID == 0 {
		id, err := v.LookupCapital(ctx, req.Demat[3:8])
		if err != nil {
			return nil, err
		}
		capitalID = id
	}

	a := account.New(account.Record{
		Demat:     req.Demat,
		Password:  req.Password,
		PIN:       req.PIN,
		CRN:       req.CRN,
		CapitalID: capitalID,
		Tag:       normalizeTag(req.Tag),
	}, account.Options{
		NewPortal: v.opts.NewPortal,
		Policy:    v.opts.Policy,
		Log:       v.opts.Log,
	})

	if _, err := a.GetDetails(ctx); err != nil {
		v.log.Error().Err(err).Str("demat", req.Demat).Msg("Failed to obtain account details")
		return nil, err
	}
	if err := a.Logout(ctx); err != nil {
		v.log.Warn().Err(err).Msg("Logout after add failed")
	}

	a.SetSaver(v)
	v.accounts = append(v.accounts, a)
	if err := v.Save(ctx); err != nil {
		return nil, err
	}
	v.log.Info().Str("account", a.Label()).Msg("Account added")
	return a, nil
}

func (v *Vault) at(index int) (*account.Account, error) {
	if index < 0 || index >= len(v.accounts) {
		return nil, fmt.Errorf("%w: %d", apperrors.ErrAccountIndex, index)
	}
	return v.accounts[index], nil
}

// RemoveAccount deletes the account at index of All.
func (v *Vault) RemoveAccount(ctx context.Context, index int) error {
	a, err := v.at(index)
	if err != nil {
		return err
	}
	v.accounts = slices.Delete(v.accounts, index, index+1)
	v.log.Info().Str("account", a.Label()).Msg("Account removed")
	return v.Save(ctx)
}

// SetTag sets the tag of the account at index. An empty tag or "all"
// clears it.
func (v *Vault) SetTag(ctx context.Context, index int, tag string) error {
	a, err := v.at(index)
	if err != nil {
		return err
	}
	a.Tag = normalizeTag(tag)
	return v.Save(ctx)
}

func normalizeTag(tag string) string {
	if tag == "all" {
		return ""
	}
	return tag
}

// SetAccountPassword stores a new portal password for the account at index.
func (v *Vault) SetAccountPassword(ctx context.Context, index int, password string) error {
	a, err := v.at(index)
	if err != nil {
		return err
	}
	if len(password) < MinPasswordLength {
		return apperrors.ErrShortPassword
	}
	a.Password = password
	return v.Save(ctx)
}

// ChangePassword re-encrypts the vault under a new password.
func (v *Vault) ChangePassword(ctx context.Context, password string) error {
	if len(password) < MinPasswordLength {
		return apperrors.ErrShortPassword
	}
	old := v.key
	v.key = DeriveKey(password)
	if err := v.Save(ctx); err != nil {
		v.key = old
		return err
	}
	v.log.Info().Msg("Vault password changed")
	return nil
}

// SetNotification enables Telegram notifications.
func (v *Vault) SetNotification(ctx context.Context, token, chatID string) error {
	if token == "" || chatID == "" {
		return fmt.Errorf("telegram bot token and chat id are required")
	}
	v.telegramToken, v.telegramChatID = token, chatID
	return v.Save(ctx)
}

// DisableNotification removes the Telegram credentials.
func (v *Vault) DisableNotification(ctx context.Context) error {
	v.telegramToken, v.telegramChatID = "", ""
	return v.Save(ctx)
}

// SetLogLevel persists a python-style log level.
func (v *Vault) SetLogLevel(ctx context.Context, level int) error {
	switch level {
	case LevelDebug, LevelInfo, LevelWarning, LevelError, LevelCritical:
	default:
		return fmt.Errorf("%w: %d", apperrors.ErrInvalidLogLevel, level)
	}
	v.logLevel = level
	return v.Save(ctx)
}

// Import appends records as accounts without contacting the portal and
// saves. Records whose demat is already stored are skipped.
func (v *Vault) Import(ctx context.Context, records []account.Record) ([]*account.Account, error) {
	var added []*account.Account
	for _, rec := range records {
		if slices.ContainsFunc(v.accounts, func(a *account.Account) bool { return a.Demat == rec.Demat }) {
			v.log.Warn().Str("demat", rec.Demat).Msg("Skipping duplicate account")
			continue
		}
		a := v.newAccount(rec)
		v.accounts = append(v.accounts, a)
		added = append(added, a)
	}
	if err := v.Save(ctx); err != nil {
		return nil, err
	}
	return added, nil
}
