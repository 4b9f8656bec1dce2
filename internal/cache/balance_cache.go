// Package cache holds a read-through cache for balance queries. The cache is
// optional: a nil *BalanceCache disables caching entirely, mirroring how the
// service degrades when Redis is unreachable at startup.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"coinledger/internal/domain"
)

const keyPrefix = "coinledger:account:"

type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewBalanceCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *BalanceCache {
	return &BalanceCache{client: client, ttl: ttl, logger: logger}
}

// Connect dials Redis with the given options and returns a ready client, or
// nil if Redis is unavailable. Callers treat nil as cache-disabled.
func Connect(addr, password string, db int, logger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Warn("redis unavailable, balance cache disabled", zap.Error(err))
		return nil
	}
	return client
}

// Get returns the cached account, or nil on miss. Cache failures degrade to a
// miss; the store remains authoritative.
func (c *BalanceCache) Get(ctx context.Context, accountID string) *domain.Account {
	if c == nil || c.client == nil {
		return nil
	}

	payload, err := c.client.Get(ctx, keyPrefix+accountID).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("balance cache read failed", zap.String("account_id", accountID), zap.Error(err))
		}
		return nil
	}

	var account domain.Account
	if err := json.Unmarshal(payload, &account); err != nil {
		c.logger.Warn("balance cache entry corrupt", zap.String("account_id", accountID), zap.Error(err))
		return nil
	}
	return &account
}

func (c *BalanceCache) Set(ctx context.Context, account *domain.Account) {
	if c == nil || c.client == nil {
		return
	}

	payload, err := json.Marshal(account)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, keyPrefix+account.ID, payload, c.ttl).Err(); err != nil {
		c.logger.Warn("balance cache write failed", zap.String("account_id", account.ID), zap.Error(err))
	}
}

// Invalidate drops cached entries for every account a commit touched.
func (c *BalanceCache) Invalidate(ctx context.Context, accountIDs ...string) {
	if c == nil || c.client == nil || len(accountIDs) == 0 {
		return
	}

	keys := make([]string, len(accountIDs))
	for i, id := range accountIDs {
		keys[i] = keyPrefix + id
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("balance cache invalidation failed", zap.Strings("account_ids", accountIDs), zap.Error(err))
	}
}
