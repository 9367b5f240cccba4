package model

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Allotment is the outcome of an application.
type Allotment int

const (
	AllotmentUnknown Allotment = iota
	AllotmentAllotted
	AllotmentNotAllotted
	AllotmentRejected
)

// Portal status labels, matched exactly.
const (
	StatusAlloted    = "Alloted"
	StatusNotAlloted = "Not Alloted"
	StatusRejected   = "Rejected"
)

// AllotmentFromStatus maps a portal status label to an Allotment.
// Any label other than the three known ones stays Unknown.
func AllotmentFromStatus(status string) Allotment {
	switch status {
	case StatusAlloted:
		return AllotmentAllotted
	case StatusNotAlloted:
		return AllotmentNotAllotted
	case StatusRejected:
		return AllotmentRejected
	default:
		return AllotmentUnknown
	}
}

func (a Allotment) String() string {
	switch a {
	case AllotmentAllotted:
		return "allotted"
	case AllotmentNotAllotted:
		return "not_allotted"
	case AllotmentRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Resolved reports whether the allotment no longer needs fetching.
func (a Allotment) Resolved() bool { return a != AllotmentUnknown }

func (a Allotment) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Allotment) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("allotment: %w", err)
	}
	switch s {
	case "allotted":
		*a = AllotmentAllotted
	case "not_allotted":
		*a = AllotmentNotAllotted
	case "rejected":
		*a = AllotmentRejected
	case "unknown", "":
		*a = AllotmentUnknown
	default:
		return fmt.Errorf("allotment: unknown value %q", s)
	}
	return nil
}

// Source records which report feed an issue was observed in.
type Source int

const (
	SourceActive Source = iota
	SourceMigrated
)

func (s Source) String() string {
	if s == SourceMigrated {
		return "migrated"
	}
	return "active"
}

func (s Source) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Source) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	switch v {
	case "migrated":
		*s = SourceMigrated
	case "active", "":
		*s = SourceActive
	default:
		return fmt.Errorf("source: unknown value %q", v)
	}
	return nil
}

// Issue is one application in an account's ledger.
type Issue struct {
	Name              string          `json:"name"`
	Symbol            string          `json:"symbol"`
	Status            string          `json:"status"`
	ShareType         string          `json:"share_type"`
	CompanyShareID    int64           `json:"company_share_id"`
	ApplicantFormID   int64           `json:"applicant_form_id"`
	Allotment         Allotment       `json:"allotment"`
	AllottedQuantity  decimal.Decimal `json:"alloted_quantity"`
	AppliedDate       string          `json:"applied_date"`
	AppliedQuantity   decimal.Decimal `json:"applied_quantity"`
	AppliedAmount     decimal.Decimal `json:"applied_amount"`
	BlockAmountStatus string          `json:"block_amount_status"`
	Source            Source          `json:"source"`
}

// MarshalJSON writes the nullable "alloted" and "old" booleans next to the
// enums so that older releases can still read the ledger. A rejected
// application is written to them as not allotted.
func (i Issue) MarshalJSON() ([]byte, error) {
	type plain Issue
	var alloted *bool
	if i.Allotment.Resolved() {
		v := i.Allotment == AllotmentAllotted
		alloted = &v
	}
	return json.Marshal(struct {
		plain
		Alloted *bool `json:"alloted"`
		Old     bool  `json:"old"`
	}{plain: plain(i), Alloted: alloted, Old: i.Source == SourceMigrated})
}

// UnmarshalJSON also accepts records written by older vaults, which used a
// nullable "alloted" boolean and an "old" boolean instead of enums.
func (i *Issue) UnmarshalJSON(data []byte) error {
	type plain Issue
	aux := struct {
		*plain
		Allotment *Allotment `json:"allotment"`
		Source    *Source    `json:"source"`
		Alloted   *bool      `json:"alloted"`
		Old       *bool      `json:"old"`
	}{plain: (*plain)(i)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	switch {
	case aux.Allotment != nil:
		i.Allotment = *aux.Allotment
	case aux.Alloted != nil && *aux.Alloted:
		i.Allotment = AllotmentAllotted
	case aux.Alloted != nil:
		i.Allotment = AllotmentNotAllotted
	default:
		i.Allotment = AllotmentUnknown
	}

	switch {
	case aux.Source != nil:
		i.Source = *aux.Source
	case aux.Old != nil && *aux.Old:
		i.Source = SourceMigrated
	default:
		i.Source = SourceActive
	}
	return nil
}

// Report is the subset of an application report the ledger needs.
type Report struct {
	Name            string
	Symbol          string
	Status          string
	ShareType       string
	CompanyShareID  int64
	ApplicantFormID int64
}

// Ledger is an account's ordered issue list, unique by symbol.
type Ledger []Issue

// Find returns the index of the issue with symbol, or -1.
func (l Ledger) Find(symbol string) int {
	for i := range l {
		if l[i].Symbol == symbol {
			return i
		}
	}
	return -1
}

// FindShare returns the index of the issue with the company share id, or -1.
func (l Ledger) FindShare(shareID int64) int {
	for i := range l {
		if l[i].CompanyShareID == shareID {
			return i
		}
	}
	return -1
}

// MergeActive appends reports not already in the ledger as Active issues.
func (l Ledger) MergeActive(reports []Report) Ledger {
	for _, r := range reports {
		if l.Find(r.Symbol) >= 0 {
			continue
		}
		l = append(l, newIssue(r, SourceActive))
	}
	return l
}

// MergeMigrated flags issues already in the ledger as Migrated and appends
// the rest as Migrated issues.
func (l Ledger) MergeMigrated(reports []Report) Ledger {
	for _, r := range reports {
		if idx := l.Find(r.Symbol); idx >= 0 {
			l[idx].Source = SourceMigrated
			continue
		}
		l = append(l, newIssue(r, SourceMigrated))
	}
	return l
}

func newIssue(r Report, src Source) Issue {
	return Issue{
		Name:            r.Name,
		Symbol:          r.Symbol,
		Status:          r.Status,
		ShareType:       r.ShareType,
		CompanyShareID:  r.CompanyShareID,
		ApplicantFormID: r.ApplicantFormID,
		Source:          src,
	}
}
