package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-governor/internal/infra"
)

// Redis хранит значение в hash {value, category}; категория индексируется множеством ключей.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.rdb.HGet(ctx, infra.KVKey(key), "value").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}
	return val, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, category string, ttl time.Duration) error {
	full := infra.KVKey(key)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, full)
		pipe.HSet(ctx, full, "value", value, "category", category)
		if ttl > 0 {
			pipe.Expire(ctx, full, ttl)
		}
		pipe.SAdd(ctx, infra.KVCategoryKey(category), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	full := infra.KVKey(key)
	category, err := r.rdb.HGet(ctx, full, "category").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis delete %q: %w", key, err)
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, full)
		if category != "" {
			pipe.SRem(ctx, infra.KVCategoryKey(category), key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete %q: %w", key, err)
	}
	return nil
}

func (r *Redis) DeleteCategory(ctx context.Context, category string) (int, error) {
	setKey := infra.KVCategoryKey(category)
	keys, err := r.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis list category %q: %w", category, err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	full := make([]string, 0, len(keys))
	for _, k := range keys {
		full = append(full, infra.KVKey(k))
	}
	var deleted *redis.IntCmd
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		// Истёкшие по TTL ключи остаются в индексе, Del их просто не посчитает
		deleted = pipe.Del(ctx, full...)
		pipe.Del(ctx, setKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis delete category %q: %w", category, err)
	}
	return int(deleted.Val()), nil
}
