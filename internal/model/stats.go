package model

import "github.com/shopspring/decimal"

// LedgerStats summarises an account's application history.
type LedgerStats struct {
	Applied        int             `json:"applied"`
	Allotted       int             `json:"allotted"`
	Rejected       int             `json:"rejected"`
	UnitsAllotted  decimal.Decimal `json:"units_allotted"`
	AmountAllotted decimal.Decimal `json:"amount_allotted"`
}

// statusBlockFailed is the portal status of an application whose amount
// could not be blocked.
const statusBlockFailed = "BLOCK_FAILED"

// Stats computes LedgerStats. AmountAllotted sums the applied amount of
// allotted issues.
func (l Ledger) Stats() LedgerStats {
	var s LedgerStats
	s.Applied = len(l)
	for _, issue := range l {
		if issue.Allotment == AllotmentAllotted {
			s.Allotted++
			s.UnitsAllotted = s.UnitsAllotted.Add(issue.AllottedQuantity)
			s.AmountAllotted = s.AmountAllotted.Add(issue.AppliedAmount)
		}
		if issue.Allotment == AllotmentRejected || issue.Status == statusBlockFailed {
			s.Rejected++
		}
	}
	return s
}

// Add sums two LedgerStats, used for the all-accounts total row.
func (s LedgerStats) Add(o LedgerStats) LedgerStats {
	return LedgerStats{
		Applied:        s.Applied + o.Applied,
		Allotted:       s.Allotted + o.Allotted,
		Rejected:       s.Rejected + o.Rejected,
		UnitsAllotted:  s.UnitsAllotted.Add(o.UnitsAllotted),
		AmountAllotted: s.AmountAllotted.Add(o.AmountAllotted),
	}
}

// AllotmentRate is Allotted/Applied as a percentage, zero when nothing was applied.
func (s LedgerStats) AllotmentRate() decimal.Decimal {
	if s.Applied == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(s.Allotted)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(s.Applied)))
}
