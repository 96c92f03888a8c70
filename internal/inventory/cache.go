package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// BalanceCache is a redis-backed read cache for the balance aggregate. Every
// movement invalidates the product's entry; a short TTL bounds staleness if an
// invalidation is lost.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewBalanceCache instantiates the cache helper.
func NewBalanceCache(client *redis.Client, ttl time.Duration) *BalanceCache {
	return &BalanceCache{client: client, ttl: ttl}
}

func balanceKey(productID int64) string {
	return fmt.Sprintf("inventory:balance:%d", productID)
}

// Get returns the cached balance when present.
func (c *BalanceCache) Get(ctx context.Context, productID int64) (Balance, bool) {
	if c == nil || c.client == nil {
		return Balance{}, false
	}
	payload, err := c.client.Get(ctx, balanceKey(productID)).Bytes()
	if err != nil {
		return Balance{}, false
	}
	var bal Balance
	if err := json.Unmarshal(payload, &bal); err != nil {
		return Balance{}, false
	}
	return bal, true
}

// Set stores the balance with the configured TTL.
func (c *BalanceCache) Set(ctx context.Context, bal Balance) {
	if c == nil || c.client == nil {
		return
	}
	payload, err := json.Marshal(bal)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, balanceKey(bal.ProductID), payload, c.ttl).Err()
}

// Invalidate drops the cached entry for a product.
func (c *BalanceCache) Invalidate(ctx context.Context, productID int64) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, balanceKey(productID)).Err()
}
