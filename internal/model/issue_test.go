package model_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndewijer/nepseutils/internal/model"
	"github.com/ndewijer/nepseutils/internal/testutil"
)

func report(symbol string, shareID, formID int64) model.Report {
	return model.Report{
		Name:            symbol + " Limited",
		Symbol:          symbol,
		ShareType:       "IPO",
		CompanyShareID:  shareID,
		ApplicantFormID: formID,
	}
}

// TestLedgerMerge covers deduplication across the two report feeds.
//
// WHY: An issue can appear in both the active and the migrated feed. If the
// merge appended it twice, stats would double count applications and the
// status fetch would query the same form twice. Known allotments must also
// survive a non-refetch merge or every sync would re-query settled issues.
func TestLedgerMerge(t *testing.T) {
	t.Run("active reports are appended once per symbol", func(t *testing.T) {
		var ledger model.Ledger

		ledger = ledger.MergeActive([]model.Report{report("ABC", 1, 11), report("XYZ", 2, 12)})
		ledger = ledger.MergeActive([]model.Report{report("ABC", 1, 11)})

		require.Len(t, ledger, 2)
		assert.Equal(t, "ABC", ledger[0].Symbol)
		assert.Equal(t, model.SourceActive, ledger[0].Source)
		assert.Equal(t, model.AllotmentUnknown, ledger[0].Allotment)
	})

	t.Run("migrated reports flag existing issues instead of duplicating", func(t *testing.T) {
		ledger := model.Ledger{}.MergeActive([]model.Report{report("ABC", 1, 11)})

		ledger = ledger.MergeMigrated([]model.Report{report("ABC", 1, 11), report("OLD", 3, 13)})

		require.Len(t, ledger, 2)
		assert.Equal(t, model.SourceMigrated, ledger[0].Source)
		assert.Equal(t, "OLD", ledger[1].Symbol)
		assert.Equal(t, model.SourceMigrated, ledger[1].Source)
	})

	t.Run("existing allotment is preserved", func(t *testing.T) {
		settled := testutil.Issue("ABC", 1, 11)
		settled.Allotment = model.AllotmentAllotted
		ledger := model.Ledger{settled}

		ledger = ledger.MergeActive([]model.Report{report("ABC", 1, 11)})

		require.Len(t, ledger, 1)
		assert.Equal(t, model.AllotmentAllotted, ledger[0].Allotment)
	})

	t.Run("Find returns -1 for unknown symbols", func(t *testing.T) {
		ledger := model.Ledger{testutil.Issue("ABC", 1, 11)}

		assert.Equal(t, 0, ledger.Find("ABC"))
		assert.Equal(t, -1, ledger.Find("NOPE"))
		assert.Equal(t, 0, ledger.FindShare(ledger[0].CompanyShareID))
		assert.Equal(t, -1, ledger.FindShare(999))
	})
}

func TestAllotmentFromStatus(t *testing.T) {
	tests := []struct {
		status string
		want   model.Allotment
	}{
		{"Alloted", model.AllotmentAllotted},
		{"Not Alloted", model.AllotmentNotAllotted},
		{"Rejected", model.AllotmentRejected},
		{"Verified", model.AllotmentUnknown},
		{"alloted", model.AllotmentUnknown},
		{"", model.AllotmentUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			assert.Equal(t, tt.want, model.AllotmentFromStatus(tt.status))
		})
	}
}

// TestIssueDecode verifies records from older vaults still load.
//
// WHY: Vaults written before the allotment enum stored a nullable "alloted"
// boolean and an "old" flag. Failing to read them would lock users out of
// their history after an upgrade.
func TestIssueDecode(t *testing.T) {
	t.Run("legacy alloted true", func(t *testing.T) {
		var issue model.Issue
		err := json.Unmarshal([]byte(`{"symbol":"ABC","alloted":true,"old":true}`), &issue)

		require.NoError(t, err)
		assert.Equal(t, model.AllotmentAllotted, issue.Allotment)
		assert.Equal(t, model.SourceMigrated, issue.Source)
	})

	t.Run("legacy alloted false", func(t *testing.T) {
		var issue model.Issue
		err := json.Unmarshal([]byte(`{"symbol":"ABC","alloted":false,"old":false}`), &issue)

		require.NoError(t, err)
		assert.Equal(t, model.AllotmentNotAllotted, issue.Allotment)
		assert.Equal(t, model.SourceActive, issue.Source)
	})

	t.Run("legacy alloted null stays unknown", func(t *testing.T) {
		var issue model.Issue
		err := json.Unmarshal([]byte(`{"symbol":"ABC","alloted":null}`), &issue)

		require.NoError(t, err)
		assert.Equal(t, model.AllotmentUnknown, issue.Allotment)
	})

	t.Run("current format round trips", func(t *testing.T) {
		issue := testutil.Issue("ABC", 1, 11)
		issue.Allotment = model.AllotmentRejected
		issue.Source = model.SourceMigrated
		issue.AppliedAmount = testutil.Dec("1000")

		data, err := json.Marshal(issue)
		require.NoError(t, err)
		var decoded model.Issue
		require.NoError(t, json.Unmarshal(data, &decoded))

		assert.Equal(t, model.AllotmentRejected, decoded.Allotment)
		assert.Equal(t, model.SourceMigrated, decoded.Source)
		assert.True(t, decoded.AppliedAmount.Equal(testutil.Dec("1000")))
		assert.Contains(t, string(data), `"allotment":"rejected"`)
	})

	t.Run("legacy keys are written for older readers", func(t *testing.T) {
		tests := []struct {
			allotment model.Allotment
			source    model.Source
			want      []string
		}{
			{model.AllotmentUnknown, model.SourceActive, []string{`"alloted":null`, `"old":false`}},
			{model.AllotmentAllotted, model.SourceMigrated, []string{`"alloted":true`, `"old":true`}},
			{model.AllotmentNotAllotted, model.SourceActive, []string{`"alloted":false`}},
			{model.AllotmentRejected, model.SourceActive, []string{`"alloted":false`, `"allotment":"rejected"`}},
		}
		for _, tt := range tests {
			issue := testutil.Issue("ABC", 1, 11)
			issue.Allotment = tt.allotment
			issue.Source = tt.source

			data, err := json.Marshal(issue)
			require.NoError(t, err)
			for _, w := range tt.want {
				assert.Contains(t, string(data), w)
			}

			var decoded model.Issue
			require.NoError(t, json.Unmarshal(data, &decoded))
			assert.Equal(t, tt.allotment, decoded.Allotment)
			assert.Equal(t, tt.source, decoded.Source)
		}
	})

	t.Run("unknown allotment value is rejected", func(t *testing.T) {
		var issue model.Issue
		err := json.Unmarshal([]byte(`{"symbol":"ABC","allotment":"maybe"}`), &issue)

		assert.Error(t, err)
	})
}

func TestLedgerStats(t *testing.T) {
	allotted := testutil.Issue("ABC", 1, 11)
	allotted.Allotment = model.AllotmentAllotted
	allotted.AllottedQuantity = testutil.Dec("10")
	allotted.AppliedAmount = testutil.Dec("1000")

	rejected := testutil.Issue("DEF", 2, 12)
	rejected.Allotment = model.AllotmentRejected

	blockFailed := testutil.Issue("GHI", 3, 13)
	blockFailed.Status = "BLOCK_FAILED"

	pending := testutil.Issue("JKL", 4, 14)

	t.Run("counts applications, allotments and rejections", func(t *testing.T) {
		stats := model.Ledger{allotted, rejected, blockFailed, pending}.Stats()

		assert.Equal(t, 4, stats.Applied)
		assert.Equal(t, 1, stats.Allotted)
		assert.Equal(t, 2, stats.Rejected)
		assert.True(t, stats.UnitsAllotted.Equal(testutil.Dec("10")))
		assert.True(t, stats.AmountAllotted.Equal(testutil.Dec("1000")))
		assert.True(t, stats.AllotmentRate().Equal(testutil.Dec("25")))
	})

	t.Run("empty ledger has a zero rate", func(t *testing.T) {
		stats := model.Ledger{}.Stats()

		assert.Zero(t, stats.Applied)
		assert.True(t, stats.AllotmentRate().IsZero())
	})

	t.Run("Add sums every field", func(t *testing.T) {
		a := model.Ledger{allotted}.Stats()
		b := model.Ledger{rejected, pending}.Stats()

		total := a.Add(b)

		assert.Equal(t, 3, total.Applied)
		assert.Equal(t, 1, total.Allotted)
		assert.Equal(t, 1, total.Rejected)
		assert.True(t, total.UnitsAllotted.Equal(testutil.Dec("10")))
	})
}
