package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/account-service/internal/domain"
)

// ErrCacheMiss is returned when the cache holds no entry for the account.
var ErrCacheMiss = errors.New("account cache miss")

// AccountCache keeps public account profiles close to the auth middleware.
// Entries never contain the password hash.
type AccountCache interface {
	Get(ctx context.Context, id int64) (*domain.Account, error)
	// Set overwrites the entry; it is used after mutations.
	Set(ctx context.Context, account *domain.Account) error
	// Add stores the entry only when none exists; it is used by reads.
	Add(ctx context.Context, account *domain.Account) error
	Invalidate(ctx context.Context, id int64) error
}

type redisAccountCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisAccountCache returns a cache backed by Redis. A nil client yields a no-op cache.
func NewRedisAccountCache(client *redis.Client, ttl time.Duration) AccountCache {
	if client == nil || ttl <= 0 {
		return NoopAccountCache{}
	}
	return &redisAccountCache{client: client, ttl: ttl}
}

func accountCacheKey(id int64) string {
	return "account:" + strconv.FormatInt(id, 10)
}

func (c *redisAccountCache) Get(ctx context.Context, id int64) (*domain.Account, error) {
	raw, err := c.client.Get(ctx, accountCacheKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	var account domain.Account
	if err := json.Unmarshal(raw, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (c *redisAccountCache) Set(ctx context.Context, account *domain.Account) error {
	raw, err := json.Marshal(account.Public())
	if err != nil {
		return err
	}
	return c.client.Set(ctx, accountCacheKey(account.ID), raw, c.ttl).Err()
}

func (c *redisAccountCache) Add(ctx context.Context, account *domain.Account) error {
	raw, err := json.Marshal(account.Public())
	if err != nil {
		return err
	}
	return c.client.SetNX(ctx, accountCacheKey(account.ID), raw, c.ttl).Err()
}

func (c *redisAccountCache) Invalidate(ctx context.Context, id int64) error {
	return c.client.Del(ctx, accountCacheKey(id)).Err()
}

// NoopAccountCache always misses.
type NoopAccountCache struct{}

func (NoopAccountCache) Get(context.Context, int64) (*domain.Account, error) { return nil, ErrCacheMiss }
func (NoopAccountCache) Set(context.Context, *domain.Account) error          { return nil }
func (NoopAccountCache) Add(context.Context, *domain.Account) error          { return nil }
func (NoopAccountCache) Invalidate(context.Context, int64) error             { return nil }
