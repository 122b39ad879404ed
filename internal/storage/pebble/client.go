package pebble

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/blogchat/internal/storage"
	pebbledb "github.com/cockroachdb/pebble"
)

const (
	keyPrefix = "snap:"
	// keyUpper — первый ключ после диапазона "snap:" (':' + 1 == ';').
	keyUpper = "snap;"
)

// headerSize — первые 8 байт значения: срок жизни в unix-наносекундах (0 — бессрочно).
const headerSize = 8

// Client хранит снимки на диске, чтобы список диалогов переживал перезапуск агента без Redis/Postgres.
type Client struct {
	db  *pebbledb.DB
	now func() time.Time
}

func New(dir string) (*Client, error) {
	if err := os.MkdirAll(filepath.Dir(filepath.Clean(dir)), 0o700); err != nil {
		return nil, fmt.Errorf("pebble mkdir: %w", err)
	}
	db, err := pebbledb.Open(dir, &pebbledb.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebble open %s: %w", dir, err)
	}
	return &Client{db: db, now: time.Now}, nil
}

func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *Client) SaveSnapshot(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	val := make([]byte, headerSize+len(data))
	if ttl > 0 {
		binary.BigEndian.PutUint64(val, uint64(c.now().Add(ttl).UnixNano()))
	}
	copy(val[headerSize:], data)
	if err := c.db.Set([]byte(keyPrefix+key), val, pebbledb.Sync); err != nil {
		return fmt.Errorf("pebble.SaveSnapshot: %w", err)
	}
	return nil
}

func (c *Client) LoadSnapshot(ctx context.Context, key string) ([]byte, error) {
	v, closer, err := c.db.Get([]byte(keyPrefix + key))
	if errors.Is(err, pebbledb.ErrNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pebble.LoadSnapshot: %w", err)
	}
	defer closer.Close()
	if len(v) < headerSize {
		return nil, storage.ErrNotFound
	}
	if c.expired(v) {
		_ = c.db.Delete([]byte(keyPrefix+key), pebbledb.NoSync)
		return nil, storage.ErrNotFound
	}
	out := make([]byte, len(v)-headerSize)
	copy(out, v[headerSize:])
	return out, nil
}

func (c *Client) DeleteSnapshot(ctx context.Context, key string) error {
	if err := c.db.Delete([]byte(keyPrefix+key), pebbledb.Sync); err != nil {
		return fmt.Errorf("pebble.DeleteSnapshot: %w", err)
	}
	return nil
}

// Prune удаляет истёкшие снимки; возвращает число удалённых ключей.
func (c *Client) Prune(ctx context.Context) (int, error) {
	it, err := c.db.NewIter(&pebbledb.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyUpper),
	})
	if err != nil {
		return 0, fmt.Errorf("pebble.Prune: %w", err)
	}
	var stale [][]byte
	for ok := it.First(); ok; ok = it.Next() {
		if ctx.Err() != nil {
			break
		}
		if c.expired(it.Value()) {
			stale = append(stale, append([]byte(nil), it.Key()...))
		}
	}
	if err := it.Close(); err != nil {
		return 0, fmt.Errorf("pebble.Prune: %w", err)
	}
	for _, k := range stale {
		if err := c.db.Delete(k, pebbledb.NoSync); err != nil {
			return 0, fmt.Errorf("pebble.Prune: %w", err)
		}
	}
	return len(stale), ctx.Err()
}

func (c *Client) expired(v []byte) bool {
	if len(v) < headerSize {
		return true
	}
	exp := int64(binary.BigEndian.Uint64(v[:headerSize]))
	return exp != 0 && c.now().UnixNano() > exp
}
