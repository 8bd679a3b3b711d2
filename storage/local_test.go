package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/goliatone/go-auth-contacts/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_Put(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "avatars")
	store := storage.NewLocalStore(dir, "/avatars/")
	assert.Equal(t, dir, store.Dir())

	url, err := store.Put(context.Background(), "a.png", []byte("png-bytes"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "/avatars/a.png", url)

	data, err := os.ReadFile(filepath.Join(dir, "a.png"))
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
}

func TestLocalStore_NeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	store := storage.NewLocalStore(dir, "/avatars")

	_, err := store.Put(context.Background(), "a.png", []byte("first"), "image/png")
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "a.png", []byte("second"), "image/png")
	assert.Error(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "a.png"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
}

func TestLocalStore_RejectsPaths(t *testing.T) {
	store := storage.NewLocalStore(t.TempDir(), "/avatars")

	for _, name := range []string{"", "../escape.png", "nested/a.png"} {
		_, err := store.Put(context.Background(), name, []byte("x"), "image/png")
		assert.Error(t, err, name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := store.Put(ctx, "late.png", []byte("x"), "image/png")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalStore_RootPrefix(t *testing.T) {
	store := storage.NewLocalStore(t.TempDir(), "")

	url, err := store.Put(context.Background(), "root.png", []byte("x"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "/root.png", url)
}
