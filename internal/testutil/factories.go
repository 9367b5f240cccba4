package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ndewijer/nepseutils/internal/account"
	"github.com/ndewijer/nepseutils/internal/meroshare"
	"github.com/ndewijer/nepseutils/internal/model"
	"github.com/ndewijer/nepseutils/internal/resilience"
)

// TestDemat carries DP code 13700, which the fake portal lists as capital 171.
const TestDemat = "1301370012345678"

// FastPolicy is the default attempt count with a near-zero delay.
func FastPolicy() resilience.Policy {
	return resilience.Policy{Attempts: resilience.DefaultAttempts, Delay: time.Millisecond}
}

// AccountBuilder provides a fluent interface for creating test accounts.
//
// Example usage:
//
//	// Unlinked account; details are resolved on first apply
//	acct := testutil.NewAccount().Build(t, portal)
//
//	// Fully linked account with a tag
//	acct := testutil.NewAccount().Linked().WithTag("family").Build(t, portal)
type AccountBuilder struct {
	Record account.Record
	Saver  resilience.Saver
	Policy resilience.Policy
}

// NewAccount creates an AccountBuilder with credentials the fake portal accepts.
func NewAccount() *AccountBuilder {
	return &AccountBuilder{
		Record: account.Record{
			Demat:     TestDemat,
			Password:  "secret-password",
			PIN:       1234,
			CRN:       "CRN-0001",
			CapitalID: 171,
		},
		Policy: FastPolicy(),
	}
}

// WithDemat sets a custom demat.
func (b *AccountBuilder) WithDemat(demat string) *AccountBuilder {
	b.Record.Demat = demat
	return b
}

// WithName sets the account name.
func (b *AccountBuilder) WithName(name string) *AccountBuilder {
	b.Record.Name = name
	return b
}

// WithTag sets the account tag.
func (b *AccountBuilder) WithTag(tag string) *AccountBuilder {
	b.Record.Tag = tag
	return b
}

// WithIssues seeds the ledger.
func (b *AccountBuilder) WithIssues(issues ...model.Issue) *AccountBuilder {
	b.Record.Issues = issues
	return b
}

// WithSaver attaches a persistence hook.
func (b *AccountBuilder) WithSaver(s resilience.Saver) *AccountBuilder {
	b.Saver = s
	return b
}

// Linked fills every field the apply payload needs with the values the
// fake portal would resolve.
func (b *AccountBuilder) Linked() *AccountBuilder {
	b.Record.Name = "Test Investor"
	b.Record.AccountNumber = "00112233445566"
	b.Record.BankID = 44
	b.Record.BranchID = 66
	b.Record.CustomerID = 5555
	return b
}

// Build creates the account against portal. A nil portal yields an account
// whose session points nowhere, for tests that never reach the network.
func (b *AccountBuilder) Build(t *testing.T, portal *FakePortal) *account.Account {
	t.Helper()

	opts := account.Options{
		Policy: b.Policy,
		Saver:  b.Saver,
		Log:    zerolog.Nop(),
	}
	if portal != nil {
		opts.NewPortal = portal.Portal()
	} else {
		opts.NewPortal = func() meroshare.Portal {
			return meroshare.NewSession(meroshare.Options{BaseURL: "http://127.0.0.1:0", Log: zerolog.Nop()})
		}
	}
	return account.New(b.Record, opts)
}

// CountingSaver counts saves and can be told to fail.
type CountingSaver struct {
	Saves int
	Err   error
}

// Save implements resilience.Saver.
func (s *CountingSaver) Save(_ context.Context) error {
	s.Saves++
	return s.Err
}

// Dec parses a decimal literal, panicking on malformed input.
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Report builds an application report row for the fake portal.
func Report(symbol string, shareID, formID int64) meroshare.ApplicationReport {
	return meroshare.ApplicationReport{
		CompanyShareID:  shareID,
		ApplicantFormID: formID,
		CompanyName:     symbol + " Limited",
		Scrip:           symbol,
		ShareTypeName:   "IPO",
		ShareGroupName:  "Ordinary Shares",
		StatusName:      "TRANSACTION_SUCCESS",
	}
}

// Applicable builds an open issue for the fake portal.
func Applicable(symbol string, shareID int64) meroshare.ApplicableIssue {
	return meroshare.ApplicableIssue{
		CompanyShareID: shareID,
		CompanyName:    symbol + " Limited",
		Scrip:          symbol,
		ShareTypeName:  "IPO",
		ShareGroupName: "Ordinary Shares",
		SubGroup:       "For General Public",
	}
}

// Issue builds a ledger entry with an unknown allotment.
func Issue(symbol string, shareID, formID int64) model.Issue {
	return model.Issue{
		Name:            symbol + " Limited",
		Symbol:          symbol,
		ShareType:       "IPO",
		CompanyShareID:  shareID,
		ApplicantFormID: formID,
	}
}
