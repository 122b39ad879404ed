package tiered

import (
	"context"
	"errors"
	"time"

	"github.com/blogchat/internal/logger"
	"github.com/blogchat/internal/storage"
	"github.com/blogchat/internal/storage/memory"
)

// Client реализует SnapshotStore поверх постоянного хранилища (redis, pebble, postgres):
// чтения сначала идут в память, запись — в оба уровня. Ошибка постоянного уровня
// при чтении не мешает агенту стартовать с пустым списком.
type Client struct {
	mem     *memory.Client
	backing storage.SnapshotStore
}

func New(backing storage.SnapshotStore) *Client {
	return &Client{mem: memory.New(), backing: backing}
}

func (c *Client) Close() error {
	return errors.Join(c.mem.Close(), c.backing.Close())
}

func (c *Client) SaveSnapshot(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := c.mem.SaveSnapshot(ctx, key, data, ttl); err != nil {
		return err
	}
	return c.backing.SaveSnapshot(ctx, key, data, ttl)
}

func (c *Client) LoadSnapshot(ctx context.Context, key string) ([]byte, error) {
	if data, err := c.mem.LoadSnapshot(ctx, key); err == nil {
		return data, nil
	}
	data, err := c.backing.LoadSnapshot(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Errorf("tiered: backing load %s: %v", key, err)
		}
		return nil, err
	}
	// TTL постоянного уровня неизвестен: в памяти держим без срока, до следующей записи
	_ = c.mem.SaveSnapshot(ctx, key, data, 0)
	return data, nil
}

func (c *Client) DeleteSnapshot(ctx context.Context, key string) error {
	_ = c.mem.DeleteSnapshot(ctx, key)
	return c.backing.DeleteSnapshot(ctx, key)
}
