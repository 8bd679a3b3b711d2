package auth_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-contacts"
	"github.com/goliatone/go-auth-contacts/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct {
	calls int
}

func (s *failingStore) Put(context.Context, string, []byte, string) (string, error) {
	s.calls++
	return "", errors.New("bucket unavailable")
}

func writeUpload(t *testing.T, name string, data []byte) *auth.AvatarUpload {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return &auth.AvatarUpload{TempPath: path, Filename: name, Size: int64(len(data))}
}

func encodeTestImage(t *testing.T, format string, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	switch format {
	case "jpeg":
		require.NoError(t, jpeg.Encode(&buf, img, nil))
	default:
		require.NoError(t, png.Encode(&buf, img))
	}
	return buf.Bytes()
}

func TestAvatarPipeline_PublishPNG(t *testing.T) {
	env := newTestEnv(t)
	user := env.signupVerified(t, "avatar@example.com", "secret1")

	dir := t.TempDir()
	now := time.Unix(1700000000, 42)
	pipeline := auth.NewAvatarPipeline(env.repo.Users(), storage.NewLocalStore(dir, "/avatars"),
		auth.WithAvatarClock(func() time.Time { return now }),
		auth.WithAvatarActivitySink(env.activity),
		auth.WithAvatarLogger(env.logger),
	)

	upload := writeUpload(t, "me.png", encodeTestImage(t, "png", 400, 300))

	url, err := pipeline.Publish(context.Background(), user.ID.String(), upload)
	require.NoError(t, err)

	name := user.ID.String() + "_" + "1700000000000000042.png"
	assert.Equal(t, "/avatars/"+name, url)

	_, err = os.Stat(upload.TempPath)
	assert.True(t, os.IsNotExist(err), "temporary upload is removed")

	f, err := os.Open(filepath.Join(dir, name))
	require.NoError(t, err)
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, auth.AvatarSize, cfg.Width)
	assert.Equal(t, auth.AvatarSize, cfg.Height)

	stored, err := env.repo.Users().FindByID(context.Background(), user.ID.String())
	require.NoError(t, err)
	assert.Equal(t, url, stored.AvatarURL)

	assert.Contains(t, env.activity.types(), auth.ActivityEventAvatarUpdated)
}

func TestAvatarPipeline_PublishJPEGKeepsFormat(t *testing.T) {
	env := newTestEnv(t)
	user := env.signupVerified(t, "jpeg@example.com", "secret1")

	pipeline := auth.NewAvatarPipeline(env.repo.Users(), storage.NewLocalStore(t.TempDir(), "/avatars"))
	upload := writeUpload(t, "me.jpg", encodeTestImage(t, "jpeg", 100, 100))

	url, err := pipeline.Publish(context.Background(), user.ID.String(), upload)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(url, ".jpg"))
}

func TestAvatarPipeline_DecodeFailure(t *testing.T) {
	env := newTestEnv(t)
	user := env.signupVerified(t, "notimage@example.com", "secret1")
	store := &failingStore{}

	pipeline := auth.NewAvatarPipeline(env.repo.Users(), store)
	upload := writeUpload(t, "notes.txt", []byte("definitely not an image"))

	_, err := pipeline.Publish(context.Background(), user.ID.String(), upload)
	assert.ErrorIs(t, err, auth.ErrAvatarDecode)

	status, _ := auth.ResolveError(err)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Zero(t, store.calls)

	_, statErr := os.Stat(upload.TempPath)
	assert.True(t, os.IsNotExist(statErr))

	stored, err := env.repo.Users().FindByID(context.Background(), user.ID.String())
	require.NoError(t, err)
	assert.Equal(t, user.AvatarURL, stored.AvatarURL)
}

func TestAvatarPipeline_Rejections(t *testing.T) {
	env := newTestEnv(t)
	user := env.signupVerified(t, "reject@example.com", "secret1")
	ctx := context.Background()

	t.Run("missing upload", func(t *testing.T) {
		pipeline := auth.NewAvatarPipeline(env.repo.Users(), &failingStore{})
		_, err := pipeline.Publish(ctx, user.ID.String(), nil)
		assert.ErrorIs(t, err, auth.ErrAvatarMissing)
	})

	t.Run("temporary file gone", func(t *testing.T) {
		pipeline := auth.NewAvatarPipeline(env.repo.Users(), &failingStore{})
		upload := &auth.AvatarUpload{TempPath: filepath.Join(t.TempDir(), "gone.png")}
		_, err := pipeline.Publish(ctx, user.ID.String(), upload)
		assert.ErrorIs(t, err, auth.ErrAvatarSourceMissing)
	})

	t.Run("too large", func(t *testing.T) {
		pipeline := auth.NewAvatarPipeline(env.repo.Users(), &failingStore{}, auth.WithAvatarMaxBytes(64))
		assert.Equal(t, int64(64), pipeline.MaxBytes())

		upload := writeUpload(t, "big.png", encodeTestImage(t, "png", 50, 50))
		_, err := pipeline.Publish(ctx, user.ID.String(), upload)
		assert.ErrorIs(t, err, auth.ErrAvatarTooLarge)

		_, statErr := os.Stat(upload.TempPath)
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("store failure", func(t *testing.T) {
		store := &failingStore{}
		pipeline := auth.NewAvatarPipeline(env.repo.Users(), store, auth.WithAvatarLogger(env.logger))
		upload := writeUpload(t, "ok.png", encodeTestImage(t, "png", 20, 20))

		_, err := pipeline.Publish(ctx, user.ID.String(), upload)
		assert.ErrorIs(t, err, auth.ErrAvatarStore)
		assert.Equal(t, 1, store.calls)

		stored, err := env.repo.Users().FindByID(ctx, user.ID.String())
		require.NoError(t, err)
		assert.Equal(t, user.AvatarURL, stored.AvatarURL)
	})

	t.Run("unknown user", func(t *testing.T) {
		pipeline := auth.NewAvatarPipeline(env.repo.Users(), &failingStore{})
		upload := writeUpload(t, "ok.png", encodeTestImage(t, "png", 20, 20))
		_, err := pipeline.Publish(ctx, "00000000-0000-0000-0000-000000000001", upload)
		assert.ErrorIs(t, err, auth.ErrNotAuthorized)
	})
}

func TestResizeAvatar(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 10, 600))
	dst := auth.ResizeAvatar(src)
	assert.Equal(t, image.Rect(0, 0, auth.AvatarSize, auth.AvatarSize), dst.Bounds())
}
