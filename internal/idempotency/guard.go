package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "registration:idem:"
	DefaultTTL = 24 * time.Hour
)

// ErrEmptyKey is returned when a caller claims a blank key.
var ErrEmptyKey = errors.New("empty idempotency key")

// Guard remembers request keys for a while so a retried add-to-cart is not
// applied twice. Keys are scoped per user.
type Guard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewGuard(client *redis.Client, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{client: client, ttl: ttl}
}

func redisKey(userID, key string) string {
	return keyPrefix + userID + ":" + key
}

// Claim records the key. It returns false when the key was already claimed.
func (g *Guard) Claim(ctx context.Context, userID, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	ok, err := g.client.SetNX(ctx, redisKey(userID, key), 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	return ok, nil
}

// Release forgets a claimed key so a request that failed can be retried.
func (g *Guard) Release(ctx context.Context, userID, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := g.client.Del(ctx, redisKey(userID, key)).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
