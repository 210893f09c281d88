package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore handles Redis operations for rate limiting and token revocation.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying client to the rate limiter.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// revokedTokenKey returns the key marking a token id as revoked.
func revokedTokenKey(tokenID string) string {
	return fmt.Sprintf("token:revoked:%s", tokenID)
}

// RevokeToken marks a token id as revoked until it would have expired anyway.
func (s *RedisStore) RevokeToken(ctx context.Context, tokenID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, revokedTokenKey(tokenID), "1", ttl).Err()
}

// IsTokenRevoked checks whether a token id was revoked.
func (s *RedisStore) IsTokenRevoked(ctx context.Context, tokenID string) bool {
	exists, _ := s.client.Exists(ctx, revokedTokenKey(tokenID)).Result()
	return exists > 0
}
