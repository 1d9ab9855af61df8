package kvstore

import (
	"context"
	"errors"
	"time"

	"github.com/xela07ax/spaceai-governor/internal/infra"
	"go.uber.org/zap"
)

// FetchFunc получает свежее значение из первоисточника.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Cache — read-through кэш с «последним удачным» значением на случай отказа первоисточника.
type Cache struct {
	store  Store
	logger *zap.Logger
}

func NewCache(store Store, logger *zap.Logger) *Cache {
	return &Cache{store: store, logger: logger.Named("kv-cache")}
}

// GetOrFetch: свежий кэш → первоисточник → last-known-good (stale=true).
func (c *Cache) GetOrFetch(ctx context.Context, key, category string, ttl time.Duration, fetch FetchFunc) ([]byte, bool, error) {
	val, err := c.store.Get(ctx, key)
	if err == nil {
		return val, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		c.logger.Warn("cache read failed, going to source", zap.String("key", key), zap.Error(err))
	}

	fresh, fetchErr := fetch(ctx)
	if fetchErr == nil {
		if err := c.store.Set(ctx, key, fresh, category, ttl); err != nil {
			c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
		if err := c.store.Set(ctx, key+infra.RedisKeyLastKnownGood, fresh, category, 0); err != nil {
			c.logger.Warn("last-known-good write failed", zap.String("key", key), zap.Error(err))
		}
		return fresh, false, nil
	}

	stale, err := c.store.Get(ctx, key+infra.RedisKeyLastKnownGood)
	if err == nil {
		c.logger.Warn("source unavailable, serving last-known-good",
			zap.String("key", key), zap.Error(fetchErr))
		return stale, true, nil
	}
	return nil, false, fetchErr
}
