package account

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ndewijer/nepseutils/internal/apperrors"
	"github.com/ndewijer/nepseutils/internal/meroshare"
	"github.com/ndewijer/nepseutils/internal/model"
	"github.com/ndewijer/nepseutils/internal/resilience"
)

// AlreadyAppliedMessage is the message of the synthetic result returned when
// the portal marks an issue as applied.
const AlreadyAppliedMessage = "Issue already applied!"

// FetchApplicableIssues lists the issues currently open to this account.
func (a *Account) FetchApplicableIssues(ctx context.Context) ([]meroshare.ApplicableIssue, error) {
	a.log.Debug().Msg("Fetching applicable issues")
	return saved(ctx, a, func(ctx context.Context, p meroshare.Portal) ([]meroshare.ApplicableIssue, error) {
		return p.ApplicableIssues(ctx)
	})
}

// FetchApplicationReports lists the account's applications from the active
// feed, or from the migrated feed when active is false.
func (a *Account) FetchApplicationReports(ctx context.Context, active bool) ([]meroshare.ApplicationReport, error) {
	return saved(ctx, a, func(ctx context.Context, p meroshare.Portal) ([]meroshare.ApplicationReport, error) {
		return p.ApplicationReports(ctx, active)
	})
}

// FetchAppliedIssues merges both report feeds into the ledger. With refetch
// the ledger is rebuilt from scratch, discarding known allotments.
func (a *Account) FetchAppliedIssues(ctx context.Context, refetch bool) (model.Ledger, error) {
	a.log.Info().Bool("refetch", refetch).Msg("Fetching applied issues")

	return saved(ctx, a, func(ctx context.Context, p meroshare.Portal) (model.Ledger, error) {
		active, err := p.ApplicationReports(ctx, true)
		if err != nil {
			return nil, err
		}
		migrated, err := p.ApplicationReports(ctx, false)
		if err != nil {
			return nil, err
		}

		var ledger model.Ledger
		if !refetch {
			ledger = append(ledger, a.Issues...)
		}
		ledger = ledger.MergeActive(toReports(active))
		ledger = ledger.MergeMigrated(toReports(migrated))

		a.Issues = ledger
		return append(model.Ledger(nil), ledger...), nil
	})
}

func toReports(rows []meroshare.ApplicationReport) []model.Report {
	out := make([]model.Report, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Report{
			Name:            r.CompanyName,
			Symbol:          r.Scrip,
			Status:          r.StatusName,
			ShareType:       r.ShareTypeName,
			CompanyShareID:  r.CompanyShareID,
			ApplicantFormID: r.ApplicantFormID,
		})
	}
	return out
}

// FetchAppliedIssuesStatus fetches the allotment detail of every unresolved
// issue, or only the one with shareID when it is non-nil. The vault is saved
// after each fetched issue. A failed detail request is logged and the loop
// moves on; losing the session is returned as an error.
func (a *Account) FetchAppliedIssuesStatus(ctx context.Context, shareID *int64) (model.Ledger, error) {
	var pending []int
	for i, issue := range a.Issues {
		if issue.Allotment.Resolved() {
			continue
		}
		if shareID != nil && issue.CompanyShareID != *shareID {
			continue
		}
		pending = append(pending, i)
	}
	if len(pending) == 0 {
		return append(model.Ledger(nil), a.Issues...), nil
	}

	if !a.Authenticated() {
		if err := a.Login(ctx); err != nil {
			return nil, err
		}
	}

	for _, i := range pending {
		issue := a.Issues[i]

		detail, err := call(ctx, a, func(ctx context.Context, p meroshare.Portal) (meroshare.ApplicationDetail, error) {
			return p.ApplicationDetail(ctx, issue.ApplicantFormID, issue.Source == model.SourceMigrated)
		})
		if err != nil {
			if apperrors.IsTransient(err) && a.Authenticated() {
				a.log.Warn().Err(err).Str("symbol", issue.Symbol).Msg("Failed to fetch application status")
				continue
			}
			return nil, err
		}

		updated := &a.Issues[i]
		updated.Allotment = model.AllotmentFromStatus(detail.StatusName)
		if updated.Allotment == model.AllotmentAllotted {
			updated.AllottedQuantity = detail.ReceivedKitta
		}
		updated.AppliedDate = detail.AppliedDate
		updated.AppliedQuantity = detail.AppliedKitta
		updated.AppliedAmount = detail.Amount
		updated.BlockAmountStatus = detail.MeroshareRemark

		a.log.Debug().
			Str("symbol", updated.Symbol).
			Stringer("allotment", updated.Allotment).
			Msg("Fetched application status")

		if a.saver != nil {
			if err := a.saver.Save(ctx); err != nil {
				return nil, fmt.Errorf("autosave failed: %w", err)
			}
		}
	}
	return append(model.Ledger(nil), a.Issues...), nil
}

// FetchApplicationStatus returns the detail of one application. When formID
// is zero it is looked up among the active reports by shareID.
func (a *Account) FetchApplicationStatus(ctx context.Context, formID, shareID int64) (meroshare.ApplicationDetail, error) {
	if formID == 0 {
		reports, err := a.FetchApplicationReports(ctx, true)
		if err != nil {
			return meroshare.ApplicationDetail{}, err
		}
		for _, r := range reports {
			if r.CompanyShareID == shareID {
				formID = r.ApplicantFormID
				break
			}
		}
		if formID == 0 {
			return meroshare.ApplicationDetail{}, apperrors.Local(a.Label(),
				fmt.Errorf("%w: share id %d", apperrors.ErrIssueNotFound, shareID))
		}
	}

	return call(ctx, a, func(ctx context.Context, p meroshare.Portal) (meroshare.ApplicationDetail, error) {
		return p.ApplicationDetail(ctx, formID, false)
	})
}

// FetchPortfolio replaces the stored portfolio with the portal's current one.
func (a *Account) FetchPortfolio(ctx context.Context) (model.Portfolio, error) {
	a.log.Info().Msg("Fetching portfolio")

	return saved(ctx, a, func(ctx context.Context, p meroshare.Portal) (model.Portfolio, error) {
		resp, err := p.Portfolio(ctx, a.Demat, a.DPID)
		if err != nil {
			return model.Portfolio{}, err
		}

		portfolio := model.Portfolio{
			Entries:                            make([]model.PortfolioEntry, 0, len(resp.Entries)),
			TotalItems:                         resp.TotalItems,
			TotalValueAsOfLastTransactionPrice: resp.TotalValueAsOfLastTransactionPrice,
			TotalValueAsOfPreviousClosingPrice: resp.TotalValueAsOfPreviousClosingPrice,
		}
		for _, item := range resp.Entries {
			portfolio.Entries = append(portfolio.Entries, model.PortfolioEntry{
				Symbol:                        item.Script,
				Description:                   item.ScriptDesc,
				CurrentBalance:                item.CurrentBalance,
				LastTransactionPrice:          item.LastTransactionPrice,
				PreviousClosingPrice:          item.PreviousClosingPrice,
				ValueAsOfLastTransactionPrice: item.ValueAsOfLastTransactionPrice,
				ValueAsOfPreviousClosingPrice: item.ValueAsOfPreviousClosingPrice,
			})
		}

		a.Portfolio = portfolio
		return a.Snapshot().Portfolio, nil
	})
}

// FindMinApplyUnit returns the minimum quantity accepted for an issue.
func (a *Account) FindMinApplyUnit(ctx context.Context, shareID int64) (int64, error) {
	unit, err := call(ctx, a, func(ctx context.Context, p meroshare.Portal) (meroshare.MinUnit, error) {
		return p.MinUnit(ctx, shareID)
	})
	if err != nil {
		return 0, err
	}
	return unit.MinUnit, nil
}

// FetchEDISHistory lists the account's EDIS transfer requests.
func (a *Account) FetchEDISHistory(ctx context.Context) ([]meroshare.EDISRecord, error) {
	records, err := call(ctx, a, func(ctx context.Context, p meroshare.Portal) ([]meroshare.EDISRecord, error) {
		return p.EDISHistory(ctx)
	})
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		a.log.Debug().
			Str("script", r.Contract.Obligation.ScriptCode).
			Str("settle_id", r.Contract.Obligation.SettleID).
			Str("status", r.StatusName).
			Msg("EDIS record")
	}
	return records, nil
}

// Apply applies for quantity units of the issue with shareID.
//
// Each attempt re-reads the applicable issues, so an application accepted
// by the portal on an attempt whose response was lost is seen as already
// applied on the next attempt and is not submitted again.
func (a *Account) Apply(ctx context.Context, shareID, quantity int64) (meroshare.ApplyResult, error) {
	if shareID <= 0 || quantity <= 0 {
		return meroshare.ApplyResult{}, apperrors.Local(a.Label(), apperrors.ErrInvalidApplication)
	}

	if !a.linked() {
		if _, err := a.GetDetails(ctx); err != nil {
			return meroshare.ApplyResult{}, err
		}
		if !a.linked() {
			return meroshare.ApplyResult{}, apperrors.Local(a.Label(),
				fmt.Errorf("%w: crn and pin must be set to apply", apperrors.ErrMissingCredentials))
		}
	}

	result, err := resilience.Retry(ctx, a.policy, func(ctx context.Context) (meroshare.ApplyResult, error) {
		return resilience.EnsureSession(ctx, attempt{a}, func(ctx context.Context) (meroshare.ApplyResult, error) {
			return a.apply(ctx, shareID, quantity)
		})
	})
	if err != nil {
		a.log.Error().Err(err).Int64("share_id", shareID).Msg("Apply failed")
		return meroshare.ApplyResult{}, err
	}

	if _, err := a.FetchAppliedIssues(ctx, false); err != nil {
		a.log.Warn().Err(err).Msg("Failed to refresh applied issues after apply")
	}
	return result, nil
}

func (a *Account) apply(ctx context.Context, shareID, quantity int64) (meroshare.ApplyResult, error) {
	p := a.session()

	issues, err := p.ApplicableIssues(ctx)
	if err != nil {
		return meroshare.ApplyResult{}, err
	}

	var match *meroshare.ApplicableIssue
	for i := range issues {
		if issues[i].CompanyShareID == shareID {
			match = &issues[i]
			break
		}
	}
	if match == nil {
		return meroshare.ApplyResult{}, apperrors.Global(
			fmt.Errorf("%w: share id %d", apperrors.ErrNoMatchingIssue, shareID))
	}

	if match.Action != "" {
		a.log.Info().Str("scrip", match.Scrip).Msg("Issue already applied")
		return meroshare.ApplyResult{Status: meroshare.StatusCreated, Message: AlreadyAppliedMessage}, nil
	}

	result, err := p.Apply(ctx, meroshare.ApplyRequest{
		Demat:           a.Demat,
		BOID:            a.BOID(),
		AccountNumber:   a.AccountNumber,
		CustomerID:      a.CustomerID,
		AccountBranchID: a.BranchID,
		AppliedKitta:    strconv.FormatInt(quantity, 10),
		CRNNumber:       a.CRN,
		TransactionPIN:  a.PIN,
		CompanyShareID:  strconv.FormatInt(shareID, 10),
		BankID:          a.BankID,
	})
	if err != nil {
		return meroshare.ApplyResult{}, err
	}

	a.log.Info().Str("scrip", match.Scrip).Int64("quantity", quantity).Msg("Applied")
	return result, nil
}
