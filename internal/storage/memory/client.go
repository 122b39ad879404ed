package memory

import (
	"context"
	"sync"
	"time"

	"github.com/blogchat/internal/storage"
)

type item struct {
	val []byte
	exp time.Time
}

// Client хранит снимки в памяти процесса (snapshot_store=memory и первый уровень tiered).
type Client struct {
	mu    sync.RWMutex
	items map[string]item
	now   func() time.Time
}

func New() *Client {
	return &Client{items: make(map[string]item), now: time.Now}
}

// NewWithClock — для тестов истечения TTL.
func NewWithClock(now func() time.Time) *Client {
	c := New()
	c.now = now
	return c
}

func (c *Client) Close() error { return nil }

// SaveSnapshot: ttl <= 0 — без срока жизни.
func (c *Client) SaveSnapshot(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	it := item{val: append([]byte(nil), data...)}
	if ttl > 0 {
		it.exp = c.now().Add(ttl)
	}
	c.items[key] = it
	return nil
}

func (c *Client) LoadSnapshot(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	v, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	if !v.exp.IsZero() && c.now().After(v.exp) {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), v.val...), nil
}

func (c *Client) DeleteSnapshot(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}
