package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndewijer/nepseutils/internal/model"
	"github.com/ndewijer/nepseutils/internal/testutil"
)

func entry(symbol, balance, ltp string) model.PortfolioEntry {
	b, p := testutil.Dec(balance), testutil.Dec(ltp)
	return model.PortfolioEntry{
		Symbol:                        symbol,
		Description:                   symbol + " Limited",
		CurrentBalance:                b,
		LastTransactionPrice:          p,
		PreviousClosingPrice:          p,
		ValueAsOfLastTransactionPrice: b.Mul(p),
		ValueAsOfPreviousClosingPrice: b.Mul(p),
	}
}

// TestMerge covers the all-accounts portfolio aggregation.
//
// WHY: The aggregate view is what users read to see their family's total
// holdings. Summing the wrong fields, or mutating an account's stored
// snapshot while merging, would corrupt what is written back to the vault.
func TestMerge(t *testing.T) {
	t.Run("sums matching symbols and recomputes totals", func(t *testing.T) {
		a := model.Portfolio{Entries: []model.PortfolioEntry{entry("ABC", "10", "100"), entry("XYZ", "5", "200")}}
		b := model.Portfolio{Entries: []model.PortfolioEntry{entry("ABC", "20", "100")}}

		merged := model.Merge(a, b)

		require.Len(t, merged.Entries, 2)
		assert.Equal(t, 2, merged.TotalItems)

		abc, ok := merged.Find("ABC")
		require.True(t, ok)
		assert.True(t, abc.CurrentBalance.Equal(testutil.Dec("30")))
		assert.True(t, abc.ValueAsOfLastTransactionPrice.Equal(testutil.Dec("3000")))
		assert.True(t, abc.LastTransactionPrice.Equal(testutil.Dec("100")))

		assert.True(t, merged.TotalValueAsOfLastTransactionPrice.Equal(testutil.Dec("4000")))
		assert.True(t, merged.TotalValueAsOfPreviousClosingPrice.Equal(testutil.Dec("4000")))
	})

	t.Run("does not modify its inputs", func(t *testing.T) {
		a := model.Portfolio{Entries: []model.PortfolioEntry{entry("ABC", "10", "100")}}
		b := model.Portfolio{Entries: []model.PortfolioEntry{entry("ABC", "20", "100")}}

		model.Merge(a, b)

		assert.True(t, a.Entries[0].CurrentBalance.Equal(testutil.Dec("10")))
		assert.True(t, b.Entries[0].CurrentBalance.Equal(testutil.Dec("20")))
	})

	t.Run("no portfolios gives an empty result", func(t *testing.T) {
		merged := model.Merge()

		assert.Empty(t, merged.Entries)
		assert.Zero(t, merged.TotalItems)
		assert.True(t, merged.TotalValueAsOfLastTransactionPrice.IsZero())
	})

	t.Run("Find reports missing symbols", func(t *testing.T) {
		_, ok := model.Portfolio{}.Find("ABC")
		assert.False(t, ok)
	})
}
