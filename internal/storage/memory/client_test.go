package memory

import (
	"context"
	"testing"
	"time"

	"github.com/blogchat/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SnapshotTTL(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewWithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, c.SaveSnapshot(ctx, "k", []byte("v1"), time.Minute))
	got, err := c.LoadSnapshot(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	got[0] = 'X'
	again, _ := c.LoadSnapshot(ctx, "k")
	assert.Equal(t, []byte("v1"), again, "callers get a copy")

	now = now.Add(2 * time.Minute)
	_, err = c.LoadSnapshot(ctx, "k")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClient_NoTTLAndDelete(t *testing.T) {
	c := New()
	ctx := context.Background()
	require.NoError(t, c.SaveSnapshot(ctx, "k", []byte("v"), 0))
	_, err := c.LoadSnapshot(ctx, "k")
	require.NoError(t, err)

	require.NoError(t, c.DeleteSnapshot(ctx, "k"))
	_, err = c.LoadSnapshot(ctx, "k")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
