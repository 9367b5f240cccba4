package main

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/ndewijer/nepseutils/internal/account"
	"github.com/ndewijer/nepseutils/internal/batch"
	"github.com/ndewijer/nepseutils/internal/legacy"
	"github.com/ndewijer/nepseutils/internal/logger"
	"github.com/ndewijer/nepseutils/internal/meroshare"
	"github.com/ndewijer/nepseutils/internal/model"
	"github.com/ndewijer/nepseutils/internal/vault"
)

func (a *app) table() *tabwriter.Writer {
	return tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
}

// accountIndex parses a 1-based account number as printed by list.
func accountIndex(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid account number %q", s)
	}
	return n - 1, nil
}

func parseID(name, s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	return n, nil
}

func cmdInit(ctx context.Context, a *app, _ []string) error {
	password := a.cfg.Password
	if password == "" {
		var err error
		if password, err = newSecret("New vault password: "); err != nil {
			return err
		}
	}
	if len(password) < vault.MinPasswordLength {
		return fmt.Errorf("vault password must be at least %d characters", vault.MinPasswordLength)
	}

	v, err := vault.Create(ctx, a.cfg.Vault.Path, password, a.vaultOptions())
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Created vault at %s with %d capitals\n", v.Path(), len(v.Capitals()))
	return nil
}

func cmdAdd(ctx context.Context, a *app, args []string) error {
	flagSet := pflag.NewFlagSet("add", pflag.ContinueOnError)
	capitalID := flagSet.Int64("capital-id", 0, "capital id when the DP code is not listed")
	tag := flagSet.String("tag", "", "tag for the new account")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() != 3 {
		return fmt.Errorf("usage: %s", usages["add"])
	}
	pin, err := strconv.Atoi(flagSet.Arg(2))
	if err != nil {
		return fmt.Errorf("invalid pin: %w", err)
	}

	v, err := a.openVault()
	if err != nil {
		return err
	}
	password, err := readSecret("MeroShare password: ")
	if err != nil {
		return err
	}

	acct, err := v.AddAccount(ctx, vault.AddRequest{
		Demat:     flagSet.Arg(0),
		Password:  password,
		CRN:       flagSet.Arg(1),
		PIN:       pin,
		CapitalID: *capitalID,
		Tag:       *tag,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Added %s\n", acct.Label())
	return nil
}

func cmdRemove(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", usages["remove"])
	}
	idx, err := accountIndex(args[0])
	if err != nil {
		return err
	}
	v, err := a.openVault()
	if err != nil {
		return err
	}
	return v.RemoveAccount(ctx, idx)
}

func cmdList(_ context.Context, a *app, args []string) error {
	flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
	full := flagSet.Bool("full", false, "show bank linkage")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	v, err := a.openVault()
	if err != nil {
		return err
	}

	w := a.table()
	if *full {
		fmt.Fprintln(w, "#\tName\tDemat\tCRN\tAccount\tCapital\tBank\tBranch\tCustomer\tTag")
	} else {
		fmt.Fprintln(w, "#\tName\tDemat\tTag")
	}
	selected := v.Accounts()
	for i, acct := range v.All() {
		if !contains(selected, acct) {
			continue
		}
		if *full {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n", i+1, acct.Name, acct.Demat, acct.CRN,
				acct.AccountNumber, acct.CapitalID, acct.BankID, acct.BranchID, acct.CustomerID, acct.Tag)
		} else {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, acct.Name, acct.Demat, acct.Tag)
		}
	}
	return w.Flush()
}

func contains(list []*account.Account, a *account.Account) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

func cmdCapitals(ctx context.Context, a *app, args []string) error {
	flagSet := pflag.NewFlagSet("capitals", pflag.ContinueOnError)
	update := flagSet.Bool("update", false, "refresh from the portal first")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	v, err := a.openVault()
	if err != nil {
		return err
	}
	if *update {
		if err := v.UpdateCapitals(ctx); err != nil {
			return err
		}
	}

	w := a.table()
	fmt.Fprintln(w, "DP\tCapital ID")
	for code, id := range v.Capitals() {
		fmt.Fprintf(w, "%s\t%d\n", code, id)
	}
	return w.Flush()
}

func cmdTag(ctx context.Context, a *app, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: %s", usages["tag"])
	}
	idx, err := accountIndex(args[0])
	if err != nil {
		return err
	}
	v, err := a.openVault()
	if err != nil {
		return err
	}
	return v.SetTag(ctx, idx, args[1])
}

func cmdSync(ctx context.Context, a *app, _ []string) error {
	v, err := a.openVault()
	if err != nil {
		return err
	}
	run := batch.NewRunner(v, a.log).SyncAll(ctx)

	w := a.table()
	fmt.Fprintln(w, "Account\tHoldings\tIssues\tPending\tError")
	for _, res := range run.Results {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", res.Account, res.Value.Holdings, res.Value.Issues, res.Value.Pending, errText(res.Err))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return run.Err
}

func cmdApply(ctx context.Context, a *app, args []string) error {
	v, err := a.openVault()
	if err != nil {
		return err
	}

	if len(args) == 0 {
		lead, err := v.DefaultAccount()
		if err != nil {
			return err
		}
		issues, err := lead.FetchApplicableIssues(ctx)
		if err != nil {
			return err
		}
		if err := lead.Logout(ctx); err != nil {
			a.log.Warn().Err(err).Msg("Logout failed")
		}
		w := a.table()
		fmt.Fprintln(w, "Share ID\tCompany\tScrip\tType\tGroup\tClose Date")
		for _, i := range issues {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", i.CompanyShareID, i.CompanyName, i.Scrip, i.ShareTypeName, i.ShareGroupName, i.IssueCloseDate)
		}
		return w.Flush()
	}
	if len(args) != 2 {
		return fmt.Errorf("usage: %s", usages["apply"])
	}
	shareID, err := parseID("share id", args[0])
	if err != nil {
		return err
	}
	qty, err := parseID("quantity", args[1])
	if err != nil {
		return err
	}

	run := batch.NewRunner(v, a.log).ApplyAll(ctx, shareID, qty)

	w := a.table()
	fmt.Fprintln(w, "Account\tQuantity\tApplied\tMessage")
	for _, res := range run.Results {
		msg := res.Value.Message
		if res.Err != nil {
			msg = res.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%d\t%t\t%s\n", res.Account, qty, res.Err == nil && res.Value.Status == meroshare.StatusCreated, msg)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return run.Err
}

func cmdStatus(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", usages["status"])
	}
	shareID, err := parseID("share id", args[0])
	if err != nil {
		return err
	}
	v, err := a.openVault()
	if err != nil {
		return err
	}
	run := batch.NewRunner(v, a.log).StatusAll(ctx, shareID)

	w := a.table()
	fmt.Fprintln(w, "Account\tStatus\tDetail")
	for _, res := range run.Results {
		if res.Err != nil {
			fmt.Fprintf(w, "%s\tN/A\t%s\n", res.Account, res.Err)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", res.Account, res.Value.StatusName, res.Value.ReasonOrRemark)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return run.Err
}

func cmdResult(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", usages["result"])
	}
	shareID, err := parseID("share id", args[0])
	if err != nil {
		return err
	}
	v, err := a.openVault()
	if err != nil {
		return err
	}
	run := batch.NewRunner(v, a.log).ResultAll(ctx, shareID)

	w := a.table()
	fmt.Fprintln(w, "Account\tAllotted\tQuantity")
	for _, res := range run.Results {
		issue := res.Value.Issue
		switch {
		case !res.Value.Applied:
			fmt.Fprintf(w, "%s\tN/A\t\n", res.Account)
		case res.Err != nil:
			fmt.Fprintf(w, "%s\t%s\t%s\n", res.Account, issue.Allotment, res.Err)
		case issue.Allotment == model.AllotmentAllotted:
			fmt.Fprintf(w, "%s\tYes\t%s\n", res.Account, issue.AllottedQuantity)
		case issue.Allotment.Resolved():
			fmt.Fprintf(w, "%s\tNo\t\n", res.Account)
		default:
			fmt.Fprintf(w, "%s\tPending\t\n", res.Account)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return run.Err
}

func cmdPortfolio(ctx context.Context, a *app, args []string) error {
	flagSet := pflag.NewFlagSet("portfolio", pflag.ContinueOnError)
	refresh := flagSet.Bool("refresh", false, "fetch holdings even when stored")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	v, err := a.openVault()
	if err != nil {
		return err
	}

	var portfolio model.Portfolio
	switch {
	case flagSet.NArg() == 0 || flagSet.Arg(0) == "all":
		var run batch.Run[model.Portfolio]
		portfolio, run = batch.NewRunner(v, a.log).AggregatePortfolio(ctx, *refresh)
		for _, res := range run.Failed() {
			fmt.Fprintf(a.out, "skipped %s: %v\n", res.Account, res.Err)
		}
	default:
		idx, err := accountIndex(flagSet.Arg(0))
		if err != nil {
			return err
		}
		all := v.All()
		if idx >= len(all) {
			return fmt.Errorf("no account number %d", idx+1)
		}
		acct := all[idx]
		portfolio = acct.Snapshot().Portfolio
		if *refresh || len(portfolio.Entries) == 0 {
			if portfolio, err = acct.FetchPortfolio(ctx); err != nil {
				return err
			}
			if err := acct.Logout(ctx); err != nil {
				a.log.Warn().Err(err).Msg("Logout failed")
			}
		}
	}

	w := a.table()
	fmt.Fprintln(w, "Scrip\tBalance\tLast Transaction Price\tValue")
	for _, e := range portfolio.Entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Symbol, e.CurrentBalance, e.LastTransactionPrice.StringFixed(1), e.ValueAsOfLastTransactionPrice.StringFixed(1))
	}
	fmt.Fprintf(w, "Total\t\t\t%s\n", portfolio.TotalValueAsOfLastTransactionPrice.StringFixed(1))
	return w.Flush()
}

func cmdEDIS(ctx context.Context, a *app, args []string) error {
	v, err := a.openVault()
	if err != nil {
		return err
	}
	acct, err := v.DefaultAccount()
	if err != nil {
		return err
	}
	if len(args) == 1 {
		idx, err := accountIndex(args[0])
		if err != nil {
			return err
		}
		all := v.All()
		if idx >= len(all) {
			return fmt.Errorf("no account number %d", idx+1)
		}
		acct = all[idx]
	}

	records, err := acct.FetchEDISHistory(ctx)
	if err != nil {
		return err
	}
	w := a.table()
	fmt.Fprintln(w, "Script\tSettle ID\tSettle Date\tQuantity\tStatus\tRequested")
	for _, r := range records {
		o := r.Contract.Obligation
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", o.ScriptCode, o.SettleID, o.SettleDate, o.Quantity, r.StatusName, r.RequestedDate)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return acct.Logout(ctx)
}

func cmdStats(_ context.Context, a *app, _ []string) error {
	v, err := a.openVault()
	if err != nil {
		return err
	}
	rows, total := batch.NewRunner(v, a.log).Stats()

	w := a.table()
	fmt.Fprintln(w, "Name\tApplied\tRejected\tAllotted\tUnits Allotted\tAmount Allotted\t% Allotted")
	for _, r := range append(rows, batch.AccountStats{Account: "Total", Stats: total}) {
		s := r.Stats
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%s\t%s%%\n", r.Account, s.Applied, s.Rejected, s.Allotted,
			s.UnitsAllotted, s.AmountAllotted.StringFixed(2), s.AllotmentRate().StringFixed(2))
	}
	return w.Flush()
}

func cmdAuto(ctx context.Context, a *app, _ []string) error {
	v, err := a.openVault()
	if err != nil {
		return err
	}
	report, err := batch.NewRunner(v, a.log).AutoApply(ctx)
	if err != nil {
		return err
	}
	for _, res := range report.Applications {
		a.log.Info().
			Str("scrip", res.Issue.Scrip).
			Int64("quantity", res.Quantity).
			Int("applied", res.Run.Succeeded()).
			Int("failed", len(res.Run.Failed())).
			Msg("Auto apply finished")
	}
	return v.Save(ctx)
}

func cmdTelegram(ctx context.Context, a *app, args []string) error {
	v, err := a.openVault()
	if err != nil {
		return err
	}
	switch {
	case len(args) == 1 && args[0] == "off":
		return v.DisableNotification(ctx)
	case len(args) == 2:
		return v.SetNotification(ctx, args[0], args[1])
	default:
		return fmt.Errorf("usage: %s", usages["telegram"])
	}
}

func cmdLogLevel(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", usages["loglevel"])
	}
	level, ok := logger.ToPython(args[0])
	if !ok {
		return fmt.Errorf("unknown log level %q", args[0])
	}
	v, err := a.openVault()
	if err != nil {
		return err
	}
	return v.SetLogLevel(ctx, level)
}

func cmdLock(ctx context.Context, a *app, args []string) error {
	flagSet := pflag.NewFlagSet("lock", pflag.ContinueOnError)
	accountNo := flagSet.Int("account", 0, "change this account's MeroShare password instead")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	v, err := a.openVault()
	if err != nil {
		return err
	}

	if *accountNo > 0 {
		password, err := newSecret("New MeroShare password: ")
		if err != nil {
			return err
		}
		return v.SetAccountPassword(ctx, *accountNo-1, password)
	}

	password, err := newSecret("New vault password: ")
	if err != nil {
		return err
	}
	return v.ChangePassword(ctx, password)
}

func cmdMigrate(ctx context.Context, a *app, _ []string) error {
	password, err := a.password("Legacy data password: ")
	if err != nil {
		return err
	}
	v, err := legacy.Convert(ctx, a.cfg.Legacy.Path, a.cfg.Vault.Path, password, a.vaultOptions())
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Converted %d accounts into %s\n", len(v.All()), v.Path())
	return nil
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
