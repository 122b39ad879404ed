package postgres

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/blogchat/internal/storage"
	"github.com/blogchat/migrations"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Client хранит снимки в таблице chat_snapshots (общая БД для нескольких агентов).
type Client struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Client {
	return &Client{pool: pool}
}

// Migrate применяет встроенные миграции по порядку имён файлов.
func (c *Client) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations.Files, "*.sql")
	if err != nil {
		return fmt.Errorf("postgres.Migrate: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			return fmt.Errorf("postgres.Migrate %s: %w", name, err)
		}
		if _, err := c.pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("postgres.Migrate %s: %w", name, err)
		}
	}
	return nil
}

func (c *Client) Close() error {
	c.pool.Close()
	return nil
}

func (c *Client) SaveSnapshot(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}
	_, err := c.pool.Exec(ctx, `
		INSERT INTO chat_snapshots (key, data, saved_at, expires_at)
		VALUES ($1, $2, now(), $3)
		ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, saved_at = EXCLUDED.saved_at, expires_at = EXCLUDED.expires_at`,
		key, data, expiresAt)
	if err != nil {
		return fmt.Errorf("postgres.SaveSnapshot: %w", err)
	}
	return nil
}

func (c *Client) LoadSnapshot(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := c.pool.QueryRow(ctx, `
		SELECT data FROM chat_snapshots
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres.LoadSnapshot: %w", err)
	}
	return data, nil
}

func (c *Client) DeleteSnapshot(ctx context.Context, key string) error {
	if _, err := c.pool.Exec(ctx, `DELETE FROM chat_snapshots WHERE key = $1`, key); err != nil {
		return fmt.Errorf("postgres.DeleteSnapshot: %w", err)
	}
	return nil
}

// Prune удаляет истёкшие снимки.
func (c *Client) Prune(ctx context.Context) (int, error) {
	tag, err := c.pool.Exec(ctx, `DELETE FROM chat_snapshots WHERE expires_at IS NOT NULL AND expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("postgres.Prune: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
