package repository

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"tablebook/internal/models"
)

// CachedTables is an in-memory read-through cache in front of a TableStore.
// Any write flushes the whole cache; table writes are rare.
type CachedTables struct {
	next  TableStore
	cache *cache.Cache
}

func NewCachedTables(next TableStore, ttl time.Duration) *CachedTables {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedTables{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

func tableKey(id string) string { return "table:" + id }

func restaurantKey(id string) string { return "restaurant:" + id }

func (c *CachedTables) GetTable(ctx context.Context, id string) (*models.Table, error) {
	if v, ok := c.cache.Get(tableKey(id)); ok {
		t := v.(models.Table)
		return &t, nil
	}
	t, err := c.next.GetTable(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(tableKey(id), *t)
	return t, nil
}

func (c *CachedTables) ListTables(ctx context.Context, restaurantID string) ([]models.Table, error) {
	if v, ok := c.cache.Get(restaurantKey(restaurantID)); ok {
		cached := v.([]models.Table)
		out := make([]models.Table, len(cached))
		copy(out, cached)
		return out, nil
	}
	list, err := c.next.ListTables(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	stored := make([]models.Table, len(list))
	copy(stored, list)
	c.cache.SetDefault(restaurantKey(restaurantID), stored)
	return list, nil
}

func (c *CachedTables) ListAllTables(ctx context.Context) ([]models.Table, error) {
	return c.next.ListAllTables(ctx)
}

func (c *CachedTables) UpsertTable(ctx context.Context, t *models.Table) error {
	defer c.cache.Flush()
	return c.next.UpsertTable(ctx, t)
}

func (c *CachedTables) UpdateTableStatus(ctx context.Context, id string, status models.TableStatus) (*models.Table, error) {
	defer c.cache.Flush()
	return c.next.UpdateTableStatus(ctx, id, status)
}

// Invalidate drops every cached entry.
func (c *CachedTables) Invalidate() {
	c.cache.Flush()
}

// Len returns the number of cached entries.
func (c *CachedTables) Len() int {
	return c.cache.ItemCount()
}
