// Package legacy imports the pre-versioning ~/.nepseutils/data.db file,
// a bare Fernet token of {"accounts": [...]}, into a new vault.
package legacy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/ndewijer/nepseutils/internal/account"
	"github.com/ndewijer/nepseutils/internal/apperrors"
	"github.com/ndewijer/nepseutils/internal/vault"
)

// ErrNoLegacyFile indicates there is nothing to convert.
var ErrNoLegacyFile = errors.New("legacy: no data file found")

// flexInt decodes a number that older files stored either as a JSON number
// or as a numeric string.
type flexInt int64

func (n *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("legacy: invalid number %q", data)
	}
	*n = flexInt(v)
	return nil
}

type legacyAccount struct {
	Demat     string  `json:"dmat"`
	Password  string  `json:"password"`
	PIN       flexInt `json:"pin"`
	CRN       string  `json:"crn"`
	CapitalID flexInt `json:"capital_id"`
}

type legacyFile struct {
	Accounts []legacyAccount `json:"accounts"`
}

// Read decrypts the legacy file and returns its accounts as records.
func Read(path, password string) ([]account.Record, error) {
	tok, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoLegacyFile
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read legacy file: %w", err)
	}

	plain, err := vault.OpenToken(password, bytes.TrimSpace(tok))
	if err != nil {
		return nil, err
	}

	var f legacyFile
	if err := json.Unmarshal(plain, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrVaultCorrupted, err)
	}

	records := make([]account.Record, 0, len(f.Accounts))
	for _, a := range f.Accounts {
		records = append(records, account.Record{
			Demat:     a.Demat,
			Password:  a.Password,
			PIN:       int(a.PIN),
			CRN:       a.CRN,
			CapitalID: int64(a.CapitalID),
		})
	}
	return records, nil
}

// Convert creates a vault at vaultPath protected by the legacy password and
// imports every legacy account into it. Account details are resolved on a
// best-effort basis; an account whose details cannot be resolved is still
// imported.
func Convert(ctx context.Context, legacyPath, vaultPath, password string, opts vault.Options) (*vault.Vault, error) {
	log := opts.Log.With().Str("component", "legacy").Logger()

	records, err := Read(legacyPath, password)
	if err != nil {
		return nil, err
	}
	log.Info().Int("accounts", len(records)).Msg("Converting legacy data file")

	v, err := vault.Create(ctx, vaultPath, password, opts)
	if err != nil {
		return nil, err
	}

	added, err := v.Import(ctx, records)
	if err != nil {
		return nil, err
	}
	resolveDetails(ctx, added, log)

	if err := v.Save(ctx); err != nil {
		return nil, err
	}
	return v, nil
}

func resolveDetails(ctx context.Context, accounts []*account.Account, log zerolog.Logger) {
	for _, a := range accounts {
		if _, err := a.GetDetails(ctx); err != nil {
			log.Warn().Err(err).Str("demat", a.Demat).Msg("Could not resolve account details")
			continue
		}
		if err := a.Logout(ctx); err != nil {
			log.Warn().Err(err).Str("account", a.Label()).Msg("Logout failed")
		}
	}
}
