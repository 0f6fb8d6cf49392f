package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces the per-client hashes ("<prefix>:client:<id>").
	Prefix string
}

// RedisBackend keeps each client's storage in one hash.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisBackend{client: rdb, prefix: cfg.Prefix}, nil
}

func (b *RedisBackend) Scope(clientID string) Store {
	return scoped{b: b, clientID: clientID}
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBackend) hash(clientID string) string {
	if b.prefix == "" {
		return "client:" + clientID
	}
	return b.prefix + ":client:" + clientID
}

func (b *RedisBackend) get(ctx context.Context, clientID, key string) (string, bool, error) {
	v, err := b.client.HGet(ctx, b.hash(clientID), key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis hget: %w", err)
	}
	return v, true, nil
}

func (b *RedisBackend) set(ctx context.Context, clientID, key, value string) error {
	if err := b.client.HSet(ctx, b.hash(clientID), key, value).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

func (b *RedisBackend) remove(ctx context.Context, clientID string, keys []string) error {
	if err := b.client.HDel(ctx, b.hash(clientID), keys...).Err(); err != nil {
		return fmt.Errorf("redis hdel: %w", err)
	}
	return nil
}

func (b *RedisBackend) all(ctx context.Context, clientID string) (map[string]string, error) {
	out, err := b.client.HGetAll(ctx, b.hash(clientID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	return out, nil
}
