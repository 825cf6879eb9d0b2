package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "learnhub"

// RedisTokenCache implements TokenCache on Redis.
// Each token lives under its own key; a sorted set per provider orders accounts by store time.
type RedisTokenCache struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisTokenCache creates a durable cache whose keys expire ttl after their last write.
func NewRedisTokenCache(client *redis.Client, ttl time.Duration) *RedisTokenCache {
	return &RedisTokenCache{client: client, ttl: ttl, now: time.Now}
}

func redisTokenKey(provider ProviderID, accountID string) string {
	return fmt.Sprintf("%s:tokens:%s:%s", redisKeyPrefix, provider, accountID)
}

func redisAccountsKey(provider ProviderID) string {
	return fmt.Sprintf("%s:accounts:%s", redisKeyPrefix, provider)
}

// Accounts implements TokenCache. Index entries whose token key has expired are pruned.
func (c *RedisTokenCache) Accounts(ctx context.Context, provider ProviderID) ([]Account, error) {
	ids, err := c.client.ZRevRange(ctx, redisAccountsKey(provider), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list cached accounts: %w", err)
	}

	accounts := make([]Account, 0, len(ids))
	for _, id := range ids {
		token, err := c.Load(ctx, provider, id)
		if errors.Is(err, ErrNoCachedToken) {
			c.client.ZRem(ctx, redisAccountsKey(provider), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, token.Account)
	}
	return accounts, nil
}

// Load implements TokenCache.
func (c *RedisTokenCache) Load(ctx context.Context, provider ProviderID, accountID string) (CachedToken, error) {
	raw, err := c.client.Get(ctx, redisTokenKey(provider, accountID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return CachedToken{}, ErrNoCachedToken
		}
		return CachedToken{}, fmt.Errorf("load cached token: %w", err)
	}

	var token CachedToken
	if err := json.Unmarshal(raw, &token); err != nil {
		return CachedToken{}, fmt.Errorf("decode cached token: %w", err)
	}
	return token, nil
}

// Store implements TokenCache.
func (c *RedisTokenCache) Store(ctx context.Context, token CachedToken) error {
	now := c.now()
	if token.StoredAt.IsZero() {
		token.StoredAt = now
	}
	payload, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encode cached token: %w", err)
	}

	provider := token.Account.Provider
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, redisTokenKey(provider, token.Account.ID), payload, c.ttl)
	pipe.ZAdd(ctx, redisAccountsKey(provider), redis.Z{
		Score:  float64(now.UnixNano()),
		Member: token.Account.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store cached token: %w", err)
	}
	return nil
}

// Remove implements TokenCache.
func (c *RedisTokenCache) Remove(ctx context.Context, provider ProviderID, accountID string) error {
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, redisTokenKey(provider, accountID))
	pipe.ZRem(ctx, redisAccountsKey(provider), accountID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove cached token: %w", err)
	}
	return nil
}
