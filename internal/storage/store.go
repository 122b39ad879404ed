package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound — снимка нет или истёк TTL.
var ErrNotFound = errors.New("storage: snapshot not found")

// SnapshotStore — кэш снимка списка диалогов для быстрого старта агента.
// Реализации: memory.Client, redis.Client, pebble.Client, postgres.Client, tiered.Client.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, key string, data []byte, ttl time.Duration) error
	LoadSnapshot(ctx context.Context, key string) ([]byte, error)
	DeleteSnapshot(ctx context.Context, key string) error
	Close() error
}

// DirectoryKey — ключ снимка списка диалогов пользователя.
func DirectoryKey(userID string) string {
	return "chat:directory:" + userID
}
