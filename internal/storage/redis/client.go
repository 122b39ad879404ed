package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blogchat/internal/storage"
	"github.com/redis/go-redis/v9"
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

// NewFromClient оборачивает готовый клиент (тесты, общий пул).
func NewFromClient(cli *redis.Client) *Client {
	return &Client{cli: cli}
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// SaveSnapshot пишет снимок по ключу; ttl <= 0 — ключ без истечения.
func (c *Client) SaveSnapshot(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := c.cli.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis.SaveSnapshot: %w", err)
	}
	return nil
}

func (c *Client) LoadSnapshot(ctx context.Context, key string) ([]byte, error) {
	val, err := c.cli.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis.LoadSnapshot: %w", err)
	}
	return val, nil
}

func (c *Client) DeleteSnapshot(ctx context.Context, key string) error {
	if err := c.cli.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis.DeleteSnapshot: %w", err)
	}
	return nil
}
