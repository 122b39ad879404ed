package pebble

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/blogchat/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_RoundTripAndExpiry(t *testing.T) {
	c, err := New(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.SaveSnapshot(ctx, "a", []byte(`{"active":[]}`), time.Minute))
	require.NoError(t, c.SaveSnapshot(ctx, "b", []byte("forever"), 0))

	got, err := c.LoadSnapshot(ctx, "a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"active":[]}`, string(got))

	now = now.Add(time.Hour)
	n, err := c.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = c.LoadSnapshot(ctx, "a")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	got, err = c.LoadSnapshot(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "forever", string(got))

	require.NoError(t, c.DeleteSnapshot(ctx, "b"))
	_, err = c.LoadSnapshot(ctx, "b")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
