package redis

import (
	"context"
	"fmt"
)

// CursorStore persists rotating job cursors as Redis counters, so a
// restarted worker resumes history backfill where the last run left off.
type CursorStore struct {
	cache *Cache
}

// NewCursorStore creates a CursorStore.
func NewCursorStore(cache *Cache) *CursorStore {
	return &CursorStore{cache: cache}
}

// Next advances a named cursor and returns its new position modulo
// period.
func (c *CursorStore) Next(ctx context.Context, name string, period int) (int, error) {
	if period <= 0 {
		return 0, fmt.Errorf("cursor %s: period must be positive", name)
	}
	n, err := c.cache.Incr(ctx, "cursor:"+name)
	if err != nil {
		return 0, fmt.Errorf("cursor %s: %w", name, err)
	}
	return int(n % int64(period)), nil
}
