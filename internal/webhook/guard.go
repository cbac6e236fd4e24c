// Package webhook remembers which signed webhook deliveries were already
// processed so provider retries of a handled message are acknowledged
// without touching the store again.
package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL = 24 * time.Hour
	keyPrefix  = "sharky:webhook:"
)

type Guard interface {
	// Claim reports whether the message id is seen for the first time. A
	// false result means another delivery already claimed it.
	Claim(ctx context.Context, messageID string) (bool, error)
	// Release forgets a claim so a failed delivery can be retried.
	Release(ctx context.Context, messageID string) error
}

// NopGuard claims every message. It is used when no Redis is configured.
type NopGuard struct{}

func (NopGuard) Claim(context.Context, string) (bool, error) { return true, nil }
func (NopGuard) Release(context.Context, string) error       { return nil }

type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisGuard connects to the Redis server at url (redis:// or rediss://)
// and checks that it answers.
func NewRedisGuard(ctx context.Context, url string, ttl time.Duration) (*RedisGuard, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisGuard{client: client, ttl: ttl}, nil
}

func (g *RedisGuard) Claim(ctx context.Context, messageID string) (bool, error) {
	ok, err := g.client.SetNX(ctx, keyPrefix+messageID, time.Now().Unix(), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim webhook %s: %w", messageID, err)
	}
	return ok, nil
}

func (g *RedisGuard) Release(ctx context.Context, messageID string) error {
	if err := g.client.Del(ctx, keyPrefix+messageID).Err(); err != nil {
		return fmt.Errorf("release webhook %s: %w", messageID, err)
	}
	return nil
}

func (g *RedisGuard) Close() error {
	return g.client.Close()
}
