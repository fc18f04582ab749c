package recon

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TrialBalanceCache keeps trial balance snapshots in Redis for a short TTL.
// Staleness is bounded by the TTL; verification always reads the database.
type TrialBalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTrialBalanceCache constructs the cache.
func NewTrialBalanceCache(client *redis.Client, ttl time.Duration) *TrialBalanceCache {
	return &TrialBalanceCache{client: client, ttl: ttl}
}

func (c *TrialBalanceCache) key(companyID int64) string {
	return fmt.Sprintf("girder:trial_balance:%d", companyID)
}

// Get returns the cached snapshot, false on miss or any Redis error.
func (c *TrialBalanceCache) Get(ctx context.Context, companyID int64) ([]TrialBalanceRow, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, c.key(companyID)).Bytes()
	if err != nil {
		return nil, false
	}
	var rows []TrialBalanceRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, false
	}
	return rows, true
}

// Set stores a snapshot; cache errors are ignored.
func (c *TrialBalanceCache) Set(ctx context.Context, companyID int64, rows []TrialBalanceRow) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.key(companyID), raw, c.ttl).Err()
}

// Invalidate drops a company's snapshot.
func (c *TrialBalanceCache) Invalidate(ctx context.Context, companyID int64) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, c.key(companyID)).Err()
}
