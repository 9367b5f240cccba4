package capital_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndewijer/nepseutils/internal/capital"
	"github.com/ndewijer/nepseutils/internal/meroshare"
	"github.com/ndewijer/nepseutils/internal/testutil"
)

func TestCache(t *testing.T) {
	t.Run("lookup hits and misses", func(t *testing.T) {
		c := capital.NewCache(map[string]int64{"13700": 171})

		id, ok := c.Lookup("13700")
		assert.True(t, ok)
		assert.Equal(t, int64(171), id)

		_, ok = c.Lookup("99999")
		assert.False(t, ok)
	})

	t.Run("replace swaps the whole mapping", func(t *testing.T) {
		c := capital.NewCache(map[string]int64{"13700": 171})

		c.Replace(map[string]int64{"11000": 5})

		_, ok := c.Lookup("13700")
		assert.False(t, ok)
		assert.Equal(t, 1, c.Len())
	})

	t.Run("snapshot is a copy", func(t *testing.T) {
		c := capital.NewCache(map[string]int64{"13700": 171})

		snap := c.Snapshot()
		snap["13700"] = 0

		id, _ := c.Lookup("13700")
		assert.Equal(t, int64(171), id)
	})

	t.Run("marshals as a flat object", func(t *testing.T) {
		c := capital.NewCache(map[string]int64{"13700": 171})

		data, err := json.Marshal(c)
		require.NoError(t, err)
		assert.JSONEq(t, `{"13700":171}`, string(data))

		decoded := capital.NewCache(nil)
		require.NoError(t, json.Unmarshal(data, decoded))
		id, ok := decoded.Lookup("13700")
		assert.True(t, ok)
		assert.Equal(t, int64(171), id)
	})
}

// TestFetch verifies the capital listing is read from the portal.
//
// WHY: Login needs the capital id of the account's DP. A wrong mapping means
// every account at that DP fails to log in.
func TestFetch(t *testing.T) {
	t.Run("builds the code to id map", func(t *testing.T) {
		portal := testutil.NewFakePortal(t).WithCapitals(
			meroshare.Capital{ID: 171, Code: "13700"},
			meroshare.Capital{ID: 5, Code: "11000"},
		)

		ids, err := capital.Fetch(context.Background(), portal.Portal()())

		require.NoError(t, err)
		assert.Equal(t, map[string]int64{"13700": 171, "11000": 5}, ids)
	})

	t.Run("surfaces portal failures", func(t *testing.T) {
		portal := testutil.NewFakePortal(t).FailNext(testutil.RouteCapitals, 1)

		_, err := capital.Fetch(context.Background(), portal.Portal()())

		assert.Error(t, err)
	})
}
