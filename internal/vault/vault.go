// Package vault is the encrypted on-disk store of accounts, cached capital
// ids and tool settings. It is the only state persisted between runs.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/fernet/fernet-go"
	"github.com/rs/zerolog"

	"github.com/ndewijer/nepseutils/internal/account"
	"github.com/ndewijer/nepseutils/internal/apperrors"
	"github.com/ndewijer/nepseutils/internal/capital"
	"github.com/ndewijer/nepseutils/internal/meroshare"
	"github.com/ndewijer/nepseutils/internal/resilience"
	"github.com/ndewijer/nepseutils/internal/version"
)

// FileMode is the permission of the vault file.
const FileMode = 0600

// Python logging levels, kept as the persisted log verbosity.
const (
	LevelDebug    = 10
	LevelInfo     = 20
	LevelWarning  = 30
	LevelError    = 40
	LevelCritical = 50
)

// MinPasswordLength is the shortest account or vault password accepted.
const MinPasswordLength = 8

// envelope is the cleartext JSON file. Data holds the encrypted accounts.
type envelope struct {
	ConfigVersion    string         `json:"config_version"`
	LoggingLevel     int            `json:"logging_level"`
	TelegramBotToken *string        `json:"telegram_bot_token"`
	TelegramChatID   *string        `json:"telegram_chat_id"`
	Capitals         *capital.Cache `json:"capitals"`
	Data             string         `json:"data"`
}

// Options carries the collaborators handed to every account.
type Options struct {
	// NewPortal creates portal sessions, one per account plus one for the
	// capital listing. Defaults to meroshare.NewSession.
	NewPortal func() meroshare.Portal
	Policy    resilience.Policy
	Log       zerolog.Logger
}

// Vault is a decrypted vault held in memory.
type Vault struct {
	path string
	key  *fernet.Key

	version        string
	logLevel       int
	telegramToken  string
	telegramChatID string
	capitals       *capital.Cache
	accounts       []*account.Account
	tags           []string

	opts Options
	log  zerolog.Logger
}

// DefaultPath is $HOME/.config/nepseutils/config.json.
func DefaultPath() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		dir = "~"
	}
	return filepath.Join(dir, ".config", "nepseutils", "config.json")
}

func newVault(path string, key *fernet.Key, opts Options) *Vault {
	if opts.NewPortal == nil {
		log := opts.Log
		opts.NewPortal = func() meroshare.Portal {
			return meroshare.NewSession(meroshare.Options{Log: log})
		}
	}
	return &Vault{
		path:     path,
		key:      key,
		version:  version.Version,
		logLevel: LevelError,
		capitals: capital.NewCache(nil),
		opts:     opts,
		log:      opts.Log.With().Str("component", "vault").Logger(),
	}
}

// Create writes a new empty vault at path and fills its capital cache from
// the portal. If the capital fetch fails the new file is removed.
func Create(ctx context.Context, path, password string, opts Options) (*Vault, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, apperrors.ErrVaultExists
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat vault: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}

	v := newVault(path, DeriveKey(password), opts)
	v.log.Info().Str("path", path).Msg("Creating new vault")

	if err := v.Save(ctx); err != nil {
		return nil, err
	}
	if err := v.UpdateCapitals(ctx); err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			v.log.Warn().Err(rmErr).Msg("Failed to remove vault after aborted create")
		}
		return nil, fmt.Errorf("failed to initialise capital list: %w", err)
	}
	return v, nil
}

// Load opens the vault at path. A wrong password returns
// apperrors.ErrWrongPassword and no vault.
func Load(path, password string, opts Options) (*Vault, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.ErrVaultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read vault: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrVaultCorrupted, err)
	}

	key := DeriveKey(password)
	plain, err := open(key, env.Data)
	if err != nil {
		return nil, err
	}

	var records []account.Record
	if err := json.Unmarshal(plain, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrVaultCorrupted, err)
	}

	v := newVault(path, key, opts)
	if env.ConfigVersion != "" {
		v.version = env.ConfigVersion
	}
	if env.LoggingLevel != 0 {
		v.logLevel = env.LoggingLevel
	}
	if env.TelegramBotToken != nil {
		v.telegramToken = *env.TelegramBotToken
	}
	if env.TelegramChatID != nil {
		v.telegramChatID = *env.TelegramChatID
	}
	if env.Capitals != nil {
		v.capitals = env.Capitals
	}
	for _, rec := range records {
		v.accounts = append(v.accounts, v.newAccount(rec))
	}

	v.log.Debug().Int("accounts", len(v.accounts)).Msg("Vault loaded")
	return v, nil
}

func (v *Vault) newAccount(rec account.Record) *account.Account {
	return account.New(rec, account.Options{
		NewPortal: v.opts.NewPortal,
		Policy:    v.opts.Policy,
		Saver:     v,
		Log:       v.opts.Log,
	})
}

// Save rewrites the whole vault file. Every account is written, regardless
// of the tag filter.
func (v *Vault) Save(ctx context.Context) error {
	records := make([]account.Record, 0, len(v.accounts))
	for _, a := range v.accounts {
		records = append(records, a.Snapshot())
	}
	plain, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to marshal accounts: %w", err)
	}
	data, err := seal(v.key, plain)
	if err != nil {
		return err
	}

	env := envelope{
		ConfigVersion: v.version,
		LoggingLevel:  v.logLevel,
		Capitals:      v.capitals,
		Data:          data,
	}
	if v.telegramToken != "" && v.telegramChatID != "" {
		env.TelegramBotToken = &v.telegramToken
		env.TelegramChatID = &v.telegramChatID
	}

	out, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal vault: %w", err)
	}
	if err := writeAtomic(v.path, out); err != nil {
		return err
	}
	v.log.Debug().Msg("Vault saved")
	return nil
}

// writeAtomic writes data to a temporary file beside path and renames it
// into place.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, FileMode)
	if err != nil {
		return fmt.Errorf("failed to create temporary vault file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write temporary vault file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync temporary vault file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close temporary vault file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move vault file into place: %w", err)
	}
	return nil
}

// Path is the vault file location.
func (v *Vault) Path() string { return v.path }

// Version is the format version the vault was written with.
func (v *Vault) Version() string { return v.version }

// LogLevel is the persisted python-style log level.
func (v *Vault) LogLevel() int { return v.logLevel }

// Notification returns the Telegram credentials, ok is false when disabled.
func (v *Vault) Notification() (token, chatID string, ok bool) {
	return v.telegramToken, v.telegramChatID, v.telegramToken != "" && v.telegramChatID != ""
}

// Accounts returns the accounts selected by the tag filter, or all of them
// when no filter is set.
func (v *Vault) Accounts() []*account.Account {
	if len(v.tags) == 0 {
		return slices.Clone(v.accounts)
	}
	var out []*account.Account
	for _, a := range v.accounts {
		if slices.Contains(v.tags, a.Tag) {
			out = append(out, a)
		}
	}
	return out
}

// All returns every account, ignoring the tag filter.
func (v *Vault) All() []*account.Account { return slices.Clone(v.accounts) }

// SetTagFilter restricts Accounts to accounts carrying one of tags.
// The filter is never persisted.
func (v *Vault) SetTagFilter(tags ...string) { v.tags = slices.Clone(tags) }

// ClearTagFilter selects every account again.
func (v *Vault) ClearTagFilter() { v.tags = nil }

// TagFilter returns the active tag filter.
func (v *Vault) TagFilter() []string { return slices.Clone(v.tags) }

// DefaultAccount is the first selected account.
func (v *Vault) DefaultAccount() (*account.Account, error) {
	accounts := v.Accounts()
	if len(accounts) == 0 {
		return nil, apperrors.ErrNoAccounts
	}
	return accounts[0], nil
}

// Capitals returns a copy of the cached DP code to capital id map.
func (v *Vault) Capitals() map[string]int64 { return v.capitals.Snapshot() }

// UpdateCapitals refreshes the capital cache from the portal and saves.
func (v *Vault) UpdateCapitals(ctx context.Context) error {
	portal := v.opts.NewPortal()
	ids, err := resilience.Retry(ctx, v.opts.Policy, func(ctx context.Context) (map[string]int64, error) {
		return capital.Fetch(ctx, portal)
	})
	if err != nil {
		v.log.Error().Err(err).Msg("Failed to update capital list")
		return err
	}
	v.capitals.Replace(ids)
	v.log.Info().Int("capitals", len(ids)).Msg("Capital list updated")
	return v.Save(ctx)
}

// LookupCapital returns the capital id of a DP code, refreshing the cache
// once on a miss.
func (v *Vault) LookupCapital(ctx context.Context, dpid string) (int64, error) {
	if id, ok := v.capitals.Lookup(dpid); ok {
		return id, nil
	}
	v.log.Info().Str("dpid", dpid).Msg("DP code not cached, updating capital list")
	if err := v.UpdateCapitals(ctx); err != nil {
		return 0, err
	}
	if id, ok := v.capitals.Lookup(dpid); ok {
		return id, nil
	}
	return 0, fmt.Errorf("%w: %s", apperrors.ErrCapitalNotFound, dpid)
}

// Settings is the cleartext part of the envelope, readable without the
// password.
type Settings struct {
	Version        string
	LogLevel       int
	TelegramToken  string
	TelegramChatID string
}

// ReadSettings reads the envelope settings without decrypting the accounts,
// so a logger can be configured before Load.
func ReadSettings(path string) (Settings, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Settings{}, apperrors.ErrVaultNotFound
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read vault: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Settings{}, fmt.Errorf("%w: %v", apperrors.ErrVaultCorrupted, err)
	}
	s := Settings{Version: env.ConfigVersion, LogLevel: env.LoggingLevel}
	if s.LogLevel == 0 {
		s.LogLevel = LevelError
	}
	if env.TelegramBotToken != nil && env.TelegramChatID != nil {
		s.TelegramToken, s.TelegramChatID = *env.TelegramBotToken, *env.TelegramChatID
	}
	return s, nil
}
