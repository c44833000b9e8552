// Package cartstore provides the Redis-backed cart cache. Carts are hot,
// short-lived state: each entry carries an inactivity TTL and the order
// repository becomes the source of truth the moment a cart converts.
package cartstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/coursekart/internal/domain/cart"
)

var _ cart.Store = (*RedisStore)(nil)

// RedisStore implements cart.Store on a shared Redis instance. Every Set
// refreshes the TTL, so the TTL acts as an inactivity timeout.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore with the given per-cart TTL.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Get loads the user's cart. Returns cart.ErrNotFound on a miss or after
// expiry.
func (s *RedisStore) Get(ctx context.Context, userID string) (*cart.Cart, error) {
	data, err := s.client.Get(ctx, key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, cart.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get")
	}

	var c cart.Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "unmarshal cart")
	}
	return &c, nil
}

// Set stores the cart and resets its TTL.
func (s *RedisStore) Set(ctx context.Context, c *cart.Cart) error {
	data, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal cart")
	}
	if err := s.client.Set(ctx, key(c.UserID), data, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

// Delete drops the user's cart. Deleting an absent cart is not an error.
func (s *RedisStore) Delete(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, key(userID)).Err(); err != nil {
		return errors.Wrap(err, "redis del")
	}
	return nil
}

func key(userID string) string {
	return fmt.Sprintf("cart:%s", userID)
}
