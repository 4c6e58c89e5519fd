package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/vibast-solutions/ms-go-isp-billing/app/provider"
)

// TokenCache stores gateway access tokens with a TTL equal to their remaining
// lifetime, so an entry disappears no later than the token expires.
type TokenCache struct {
	cli *redis.Client
	now func() time.Time
}

func NewTokenCache(cli *redis.Client) *TokenCache {
	return &TokenCache{cli: cli, now: time.Now}
}

func (c *TokenCache) Get(ctx context.Context, key string) (*provider.Token, error) {
	value, err := c.cli.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ttl, err := c.cli.PTTL(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		return nil, nil
	}

	return &provider.Token{Value: value, ExpiresAt: c.now().Add(ttl)}, nil
}

func (c *TokenCache) Set(ctx context.Context, key string, token *provider.Token) error {
	ttl := token.ExpiresAt.Sub(c.now())
	if ttl <= 0 {
		return nil
	}
	return c.cli.Set(ctx, key, token.Value, ttl).Err()
}
