package batch

import (
	"context"

	"github.com/ndewijer/nepseutils/internal/account"
	"github.com/ndewijer/nepseutils/internal/apperrors"
	"github.com/ndewijer/nepseutils/internal/meroshare"
	"github.com/ndewijer/nepseutils/internal/model"
)

// Auto-apply selection and fallback quantity.
const (
	AutoShareType  = "IPO"
	AutoShareGroup = "Ordinary Shares"
	AutoSubGroup   = "For General Public"
	FallbackUnits  = 10
)

// ApplyAll applies for quantity units of shareID with every account and
// logs each one out afterwards.
func (r *Runner) ApplyAll(ctx context.Context, shareID, quantity int64) Run[meroshare.ApplyResult] {
	return each(ctx, r, "apply", true, func(ctx context.Context, a *account.Account) (meroshare.ApplyResult, error) {
		return a.Apply(ctx, shareID, quantity)
	})
}

// SyncSummary is what a sync refreshed for one account.
type SyncSummary struct {
	Holdings int
	Issues   int
	Pending  int
}

// SyncAll refreshes portfolio, ledger and allotment status of every account.
func (r *Runner) SyncAll(ctx context.Context) Run[SyncSummary] {
	return each(ctx, r, "sync", true, func(ctx context.Context, a *account.Account) (SyncSummary, error) {
		portfolio, err := a.FetchPortfolio(ctx)
		if err != nil {
			return SyncSummary{}, err
		}
		if _, err := a.FetchAppliedIssues(ctx, false); err != nil {
			return SyncSummary{}, err
		}
		ledger, err := a.FetchAppliedIssuesStatus(ctx, nil)
		if err != nil {
			return SyncSummary{}, err
		}

		s := SyncSummary{Holdings: len(portfolio.Entries), Issues: len(ledger)}
		for _, issue := range ledger {
			if !issue.Allotment.Resolved() {
				s.Pending++
			}
		}
		return s, nil
	})
}

// StatusAll fetches every account's application detail for shareID.
func (r *Runner) StatusAll(ctx context.Context, shareID int64) Run[meroshare.ApplicationDetail] {
	return each(ctx, r, "status", true, func(ctx context.Context, a *account.Account) (meroshare.ApplicationDetail, error) {
		return a.FetchApplicationStatus(ctx, 0, shareID)
	})
}

// Allotment is one account's result for a single issue. Applied is false
// when the account's ledger has no application for it.
type Allotment struct {
	Applied bool
	Issue   model.Issue
}

// ResultAll reports every account's allotment of shareID from its ledger.
// Only that issue's status is fetched, and only where it is unresolved;
// accounts that never applied are not contacted.
func (r *Runner) ResultAll(ctx context.Context, shareID int64) Run[Allotment] {
	return each(ctx, r, "result", true, func(ctx context.Context, a *account.Account) (Allotment, error) {
		i := a.Issues.FindShare(shareID)
		if i < 0 {
			return Allotment{}, nil
		}
		if !a.Issues[i].Allotment.Resolved() {
			ledger, err := a.FetchAppliedIssuesStatus(ctx, &shareID)
			if err != nil {
				return Allotment{Applied: true, Issue: a.Issues[i]}, err
			}
			return Allotment{Applied: true, Issue: ledger[i]}, nil
		}
		return Allotment{Applied: true, Issue: a.Issues[i]}, nil
	})
}

// AutoApplication is one issue picked by AutoApply.
type AutoApplication struct {
	Issue    meroshare.ApplicableIssue
	Quantity int64
	Run      Run[meroshare.ApplyResult]
}

// AutoReport is the outcome of AutoApply.
type AutoReport struct {
	Applications []AutoApplication
	Sync         Run[SyncSummary]
}

// AutoApply applies the minimum quantity of every open general-public IPO
// with every account, then refreshes each ledger. The open issues and the
// minimum quantity come from the first account.
func (r *Runner) AutoApply(ctx context.Context) (AutoReport, error) {
	accounts := r.src.Accounts()
	if len(accounts) == 0 {
		return AutoReport{}, apperrors.ErrNoAccounts
	}
	lead := accounts[0]

	issues, err := lead.FetchApplicableIssues(ctx)
	if err != nil {
		return AutoReport{}, err
	}

	var report AutoReport
	for _, issue := range issues {
		if !Eligible(issue) {
			continue
		}

		qty, err := lead.FindMinApplyUnit(ctx, issue.CompanyShareID)
		if err != nil || qty <= 0 {
			r.log.Warn().Err(err).Str("scrip", issue.Scrip).Int64("fallback", FallbackUnits).Msg("Could not read minimum unit")
			qty = FallbackUnits
		}

		r.log.Info().Str("scrip", issue.Scrip).Int64("quantity", qty).Msg("Auto applying")
		report.Applications = append(report.Applications, AutoApplication{
			Issue:    issue,
			Quantity: qty,
			Run:      r.ApplyAll(ctx, issue.CompanyShareID, qty),
		})
	}
	if len(report.Applications) == 0 {
		r.log.Info().Msg("No applicable issues found")
	}

	report.Sync = each(ctx, r, "auto-sync", true, func(ctx context.Context, a *account.Account) (SyncSummary, error) {
		if _, err := a.FetchAppliedIssues(ctx, false); err != nil {
			return SyncSummary{}, err
		}
		ledger, err := a.FetchAppliedIssuesStatus(ctx, nil)
		return SyncSummary{Issues: len(ledger)}, err
	})
	return report, nil
}

// Eligible reports whether auto mode applies for issue.
func Eligible(issue meroshare.ApplicableIssue) bool {
	return issue.ShareTypeName == AutoShareType &&
		issue.ShareGroupName == AutoShareGroup &&
		issue.SubGroup == AutoSubGroup
}

// AggregatePortfolio merges the portfolios of every account. Accounts with
// no stored holdings, or every account when refresh is set, are fetched
// first.
func (r *Runner) AggregatePortfolio(ctx context.Context, refresh bool) (model.Portfolio, Run[model.Portfolio]) {
	run := each(ctx, r, "portfolio", false, func(ctx context.Context, a *account.Account) (model.Portfolio, error) {
		if refresh || len(a.Portfolio.Entries) == 0 {
			return a.FetchPortfolio(ctx)
		}
		return a.Snapshot().Portfolio, nil
	})

	parts := make([]model.Portfolio, 0, len(run.Results))
	for _, res := range run.Results {
		if res.Err == nil {
			parts = append(parts, res.Value)
		}
	}
	return model.Merge(parts...), run
}

// AccountStats is one row of the stats table.
type AccountStats struct {
	Account string
	Stats   model.LedgerStats
}

// Stats summarises every account's ledger and the total across them.
// It does not contact the portal.
func (r *Runner) Stats() ([]AccountStats, model.LedgerStats) {
	var (
		rows  []AccountStats
		total model.LedgerStats
	)
	for _, a := range r.src.Accounts() {
		s := a.Issues.Stats()
		rows = append(rows, AccountStats{Account: a.Label(), Stats: s})
		total = total.Add(s)
	}
	return rows, total
}
