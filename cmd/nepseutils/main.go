// nepseutils manages MeroShare accounts from the command line: it keeps
// credentials in an encrypted vault, applies for open issues with every
// account, and tracks allotment results and holdings.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/ndewijer/nepseutils/internal/apperrors"
	"github.com/ndewijer/nepseutils/internal/config"
	"github.com/ndewijer/nepseutils/internal/logger"
	"github.com/ndewijer/nepseutils/internal/meroshare"
	"github.com/ndewijer/nepseutils/internal/notify"
	"github.com/ndewijer/nepseutils/internal/vault"
	"github.com/ndewijer/nepseutils/internal/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type app struct {
	cfg    *config.Config
	out    io.Writer
	tags   []string
	pretty bool
	level  string

	log      zerolog.Logger
	notifier *notify.Notifier
}

type handler func(ctx context.Context, a *app, args []string) error

var usages = map[string]string{
	"init":      "init",
	"add":       "add <demat> <crn> <pin> [--capital-id N] [--tag T]",
	"remove":    "remove <account#>",
	"list":      "list [--full]",
	"capitals":  "capitals [--update]",
	"tag":       "tag <account#> <tag>",
	"sync":      "sync",
	"apply":     "apply [<share-id> <quantity>]",
	"status":    "status <share-id>",
	"result":    "result <share-id>",
	"portfolio": "portfolio [<account#> | all] [--refresh]",
	"edis":      "edis [<account#>]",
	"stats":     "stats",
	"auto":      "auto",
	"telegram":  "telegram <bot-token> <chat-id> | telegram off",
	"loglevel":  "loglevel <debug|info|warning|error|critical>",
	"lock":      "lock [--account N]",
	"migrate":   "migrate",
}

var commands = map[string]handler{
	"init":      cmdInit,
	"add":       cmdAdd,
	"remove":    cmdRemove,
	"list":      cmdList,
	"capitals":  cmdCapitals,
	"tag":       cmdTag,
	"sync":      cmdSync,
	"apply":     cmdApply,
	"status":    cmdStatus,
	"result":    cmdResult,
	"portfolio": cmdPortfolio,
	"edis":      cmdEDIS,
	"stats":     cmdStats,
	"auto":      cmdAuto,
	"telegram":  cmdTelegram,
	"loglevel":  cmdLogLevel,
	"lock":      cmdLock,
	"migrate":   cmdMigrate,
}

var commandOrder = []string{
	"init", "add", "remove", "list", "capitals", "tag", "sync", "apply", "status",
	"result", "portfolio", "edis", "stats", "auto", "telegram", "loglevel", "lock", "migrate",
}

func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	a := &app{cfg: cfg, out: os.Stdout}

	flagSet := pflag.NewFlagSet("nepseutils", pflag.ContinueOnError)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&cfg.Vault.Path, "vault", cfg.Vault.Path, "path to the vault file")
	flagSet.StringSliceVar(&a.tags, "tag", nil, "only act on accounts with these tags")
	flagSet.StringVar(&a.level, "log-level", cfg.Log.Level, "override the vault's log level")
	flagSet.BoolVar(&a.pretty, "pretty", cfg.Log.Pretty, "human readable log output")
	flagSet.IntVar(&cfg.Retry.Attempts, "attempts", cfg.Retry.Attempts, "attempts per portal call")
	showVersion := flagSet.Bool("version", false, "print the version and exit")
	flagSet.Usage = func() { printUsage(flagSet) }

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Fprintf(a.out, "nepseutils %s\n", version.Version)
		return nil
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		printUsage(flagSet)
		return nil
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		printUsage(flagSet)
		return fmt.Errorf("unknown command %q", rest[0])
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.log = logger.New(logger.Config{Level: a.levelOr(vault.LevelError), Pretty: a.pretty})
	defer a.shutdown()

	return cmd(ctx, a, rest[1:])
}

func printUsage(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "Usage: nepseutils [flags] <command> [args]\n\nCommands:\n")
	for _, name := range commandOrder {
		fmt.Fprintf(os.Stderr, "  %s\n", usages[name])
	}
	fmt.Fprintf(os.Stderr, "\nFlags:\n%s", flagSet.FlagUsages())
}

// levelOr returns the --log-level override, or the python level otherwise.
func (a *app) levelOr(python int) string {
	if a.level != "" {
		return a.level
	}
	return strconv.Itoa(python)
}

// configureLogging rebuilds the logger from the vault's persisted settings
// and starts the Telegram notifier when one is configured.
func (a *app) configureLogging(s vault.Settings) error {
	var extra []io.Writer
	if s.TelegramToken != "" && s.TelegramChatID != "" {
		a.notifier = notify.New(notify.Config{
			Token:    s.TelegramToken,
			ChatID:   s.TelegramChatID,
			APIBase:  a.cfg.Notify.APIBase,
			Interval: a.cfg.Notify.Interval,
			Log:      a.log,
		})
		if err := a.notifier.Start(); err != nil {
			return err
		}
		extra = append(extra, a.notifier)
	}
	a.log = logger.New(logger.Config{
		Level:  a.levelOr(s.LogLevel),
		Pretty: a.pretty,
		Extra:  extra,
	})
	return nil
}

func (a *app) shutdown() {
	if a.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.notifier.Stop(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: telegram flush failed: %v\n", err)
	}
}

func (a *app) vaultOptions() vault.Options {
	log := a.log
	cfg := a.cfg.Portal
	return vault.Options{
		NewPortal: func() meroshare.Portal {
			return meroshare.NewSession(meroshare.Options{
				BaseURL:    cfg.BaseURL,
				HTTPClient: &http.Client{Timeout: cfg.Timeout},
				Log:        log,
			})
		},
		Policy: a.cfg.Retry.Policy(),
		Log:    log,
	}
}

// openVault prompts for the password, configures logging from the vault's
// settings and loads it with the tag filter applied.
func (a *app) openVault() (*vault.Vault, error) {
	settings, err := vault.ReadSettings(a.cfg.Vault.Path)
	if errors.Is(err, apperrors.ErrVaultNotFound) {
		return nil, fmt.Errorf("%w: run 'nepseutils init' or 'nepseutils migrate' first", err)
	}
	if err != nil {
		return nil, err
	}
	if err := a.configureLogging(settings); err != nil {
		return nil, err
	}

	password, err := a.password("Vault password: ")
	if err != nil {
		return nil, err
	}
	v, err := vault.Load(a.cfg.Vault.Path, password, a.vaultOptions())
	if err != nil {
		return nil, err
	}
	if len(a.tags) > 0 {
		v.SetTagFilter(a.tags...)
	}
	return v, nil
}
