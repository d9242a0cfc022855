package session

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend implements Backend on redis lists, one list per user key.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to redis and verifies the connection.
func NewRedisBackend(ctx context.Context, addr, password string, db int) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisBackend{client: client}, nil
}

func (b *RedisBackend) Push(ctx context.Context, key string, value []byte) error {
	return b.client.RPush(ctx, key, value).Err()
}

func (b *RedisBackend) Trim(ctx context.Context, key string, keepLast int) error {
	return b.client.LTrim(ctx, key, int64(-keepLast), -1).Err()
}

func (b *RedisBackend) Range(ctx context.Context, key string, last int) ([][]byte, error) {
	values, err := b.client.LRange(ctx, key, int64(-last), -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(values))
	for i, v := range values {
		out[i] = []byte(v)
	}
	return out, nil
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	return b.client.Del(ctx, key).Err()
}

func (b *RedisBackend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return b.client.Expire(ctx, key, ttl).Err()
}

// Close releases the underlying redis client.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
