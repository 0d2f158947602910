package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMedium is the host-provided cloud store. A nil client stands for a host
// that is not present: every call fails with ErrUnavailable.
type RedisMedium struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisMedium(client *redis.Client, ttl time.Duration) *RedisMedium {
	return &RedisMedium{
		client: client,
		prefix: "cart",
		ttl:    ttl,
	}
}

func (r *RedisMedium) Get(ctx context.Context, key string) (string, error) {
	if r.client == nil {
		return "", ErrUnavailable
	}

	data, err := r.client.Get(ctx, r.redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get failed: %w", err)
	}
	return data, nil
}

func (r *RedisMedium) Set(ctx context.Context, key, value string) error {
	if r.client == nil {
		return ErrUnavailable
	}

	if err := r.client.Set(ctx, r.redisKey(key), value, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisMedium) Remove(ctx context.Context, key string) error {
	if r.client == nil {
		return ErrUnavailable
	}

	if err := r.client.Del(ctx, r.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (r *RedisMedium) redisKey(key string) string {
	return fmt.Sprintf("%s:%s", r.prefix, key)
}

func (r *RedisMedium) String() string {
	return "redis"
}
