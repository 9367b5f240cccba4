// Package capital caches the depository-participant code to capital id
// mapping the portal needs for login.
package capital

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/ndewijer/nepseutils/internal/meroshare"
)

// Lister fetches the full capital listing from the portal.
type Lister interface {
	Capitals(ctx context.Context) ([]meroshare.Capital, error)
}

// Cache is a flat code→id map. It is refreshed wholesale, never evicted.
type Cache struct {
	ids map[string]int64
}

// NewCache creates a cache seeded with ids, which may be nil.
func NewCache(ids map[string]int64) *Cache {
	c := &Cache{ids: make(map[string]int64, len(ids))}
	maps.Copy(c.ids, ids)
	return c
}

// Lookup returns the capital id for a DP code.
func (c *Cache) Lookup(code string) (int64, bool) {
	id, ok := c.ids[code]
	return id, ok
}

// Len is the number of cached codes.
func (c *Cache) Len() int { return len(c.ids) }

// Snapshot returns a copy of the mapping.
func (c *Cache) Snapshot() map[string]int64 {
	return maps.Clone(c.ids)
}

// Replace swaps the whole mapping.
func (c *Cache) Replace(ids map[string]int64) {
	c.ids = maps.Clone(ids)
	if c.ids == nil {
		c.ids = map[string]int64{}
	}
}

// Fetch retrieves the listing and builds a fresh mapping without touching
// the cache.
func Fetch(ctx context.Context, l Lister) (map[string]int64, error) {
	list, err := l.Capitals(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch capital list: %w", err)
	}
	ids := make(map[string]int64, len(list))
	for _, c := range list {
		ids[c.Code] = c.ID
	}
	return ids, nil
}

func (c *Cache) MarshalJSON() ([]byte, error) {
	if c.ids == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c.ids)
}

func (c *Cache) UnmarshalJSON(data []byte) error {
	var ids map[string]int64
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	c.Replace(ids)
	return nil
}
