package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "cookiesync:"

// RedisStore persists entries as plain Redis strings under a key prefix
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to the Redis server at addr. Keys are namespaced with
// prefix (default "cookiesync:").
func NewRedis(ctx context.Context, addr, prefix string) (*RedisStore, error) {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisStore{client: client, prefix: prefix}, nil
}

func (r *RedisStore) key(key string) string {
	return r.prefix + key
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return value, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := validateValue(value); err != nil {
		return err
	}

	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to remove key %s: %w", key, err)
	}
	return nil
}

// scan collects the full Redis keys under the prefix
func (r *RedisStore) scan(ctx context.Context) ([]string, error) {
	var (
		cursor uint64
		found  []string
	)

	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}
		found = append(found, keys...)

		cursor = next
		if cursor == 0 {
			return found, nil
		}
	}
}

func (r *RedisStore) Clear(ctx context.Context) error {
	keys, err := r.scan(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to clear keys: %w", err)
	}
	return nil
}

func (r *RedisStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := r.scan(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, strings.TrimPrefix(key, r.prefix))
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
