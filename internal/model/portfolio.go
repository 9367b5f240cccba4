package model

import "github.com/shopspring/decimal"

// PortfolioEntry is one holding of one instrument.
type PortfolioEntry struct {
	Symbol                        string          `json:"script"`
	Description                   string          `json:"script_desc"`
	CurrentBalance                decimal.Decimal `json:"current_balance"`
	LastTransactionPrice          decimal.Decimal `json:"last_transaction_price"`
	PreviousClosingPrice          decimal.Decimal `json:"previous_closing_price"`
	ValueAsOfLastTransactionPrice decimal.Decimal `json:"value_as_of_last_transaction_price"`
	ValueAsOfPreviousClosingPrice decimal.Decimal `json:"value_as_of_previous_closing_price"`
}

// Portfolio is an account's holdings snapshot. It is replaced wholesale on
// every fetch.
type Portfolio struct {
	Entries                            []PortfolioEntry `json:"entries"`
	TotalItems                         int              `json:"total_items"`
	TotalValueAsOfLastTransactionPrice decimal.Decimal  `json:"total_value_as_of_last_transaction_price"`
	TotalValueAsOfPreviousClosingPrice decimal.Decimal  `json:"total_value_as_of_previous_closing_price"`
}

// Merge combines several portfolios into a new one keyed by symbol.
// Balances and valuations of matching symbols are summed; the first seen
// entry supplies prices and description. Inputs are not modified.
func Merge(portfolios ...Portfolio) Portfolio {
	var out Portfolio
	index := make(map[string]int)

	for _, p := range portfolios {
		for _, e := range p.Entries {
			if i, ok := index[e.Symbol]; ok {
				m := &out.Entries[i]
				m.CurrentBalance = m.CurrentBalance.Add(e.CurrentBalance)
				m.ValueAsOfLastTransactionPrice = m.ValueAsOfLastTransactionPrice.Add(e.ValueAsOfLastTransactionPrice)
				m.ValueAsOfPreviousClosingPrice = m.ValueAsOfPreviousClosingPrice.Add(e.ValueAsOfPreviousClosingPrice)
				continue
			}
			index[e.Symbol] = len(out.Entries)
			out.Entries = append(out.Entries, e)
		}
	}

	out.TotalItems = len(out.Entries)
	for _, e := range out.Entries {
		out.TotalValueAsOfLastTransactionPrice = out.TotalValueAsOfLastTransactionPrice.Add(e.ValueAsOfLastTransactionPrice)
		out.TotalValueAsOfPreviousClosingPrice = out.TotalValueAsOfPreviousClosingPrice.Add(e.ValueAsOfPreviousClosingPrice)
	}
	return out
}

// Find returns the entry for symbol.
func (p Portfolio) Find(symbol string) (PortfolioEntry, bool) {
	for _, e := range p.Entries {
		if e.Symbol == symbol {
			return e, true
		}
	}
	return PortfolioEntry{}, false
}
