// Package kvstore — хранилище ключ-значение с категориями и TTL (кэш persona, датасеты, runtime-конфиг).
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound — ключа нет или он истёк.
var ErrNotFound = errors.New("kvstore: key not found")

// Store — контракт KeyValueStore. ttl <= 0 означает «без срока».
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, category string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeleteCategory удаляет все ключи категории и возвращает их число
	DeleteCategory(ctx context.Context, category string) (int, error)
}
