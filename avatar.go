package auth

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"time"

	goerrors "github.com/goliatone/go-errors"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// AvatarSize is the edge of the published square avatar
	AvatarSize = 250
	// DefaultAvatarMaxBytes is the upload ceiling, roughly 312 KB
	DefaultAvatarMaxBytes int64 = 320000

	avatarJPEGQuality = 90
)

// AvatarStore publishes avatar images. Put must never overwrite an existing
// object and returns the public URL of the stored image.
type AvatarStore interface {
	Put(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

// AvatarUpload references an uploaded file waiting on disk
type AvatarUpload struct {
	TempPath string
	Filename string
	Size     int64
}

// AvatarPipeline turns an upload into the user's avatar
type AvatarPipeline struct {
	users        Users
	store        AvatarStore
	maxBytes     int64
	now          func() time.Time
	activitySink ActivitySink
	logger       Logger
}

// AvatarOption customizes the avatar pipeline
type AvatarOption func(*AvatarPipeline)

// WithAvatarMaxBytes overrides the upload ceiling
func WithAvatarMaxBytes(n int64) AvatarOption {
	return func(p *AvatarPipeline) {
		if n > 0 {
			p.maxBytes = n
		}
	}
}

// WithAvatarClock injects a custom clock (useful for tests).
func WithAvatarClock(now func() time.Time) AvatarOption {
	return func(p *AvatarPipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithAvatarActivitySink sets the ActivitySink
func WithAvatarActivitySink(sink ActivitySink) AvatarOption {
	return func(p *AvatarPipeline) {
		p.activitySink = normalizeActivitySink(sink)
	}
}

// WithAvatarLogger overrides the logger
func WithAvatarLogger(logger Logger) AvatarOption {
	return func(p *AvatarPipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewAvatarPipeline returns a pipeline publishing through store
func NewAvatarPipeline(users Users, store AvatarStore, opts ...AvatarOption) *AvatarPipeline {
	p := &AvatarPipeline{
		users:        users,
		store:        store,
		maxBytes:     DefaultAvatarMaxBytes,
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// MaxBytes returns the upload ceiling
func (p *AvatarPipeline) MaxBytes() int64 {
	return p.maxBytes
}

// Publish validates, resizes and stores the upload, then points the user's
// avatar URL at it. The temporary file is removed on every path. The image is
// written before the record is updated, a failed update leaves an orphaned file.
func (p *AvatarPipeline) Publish(ctx context.Context, userID string, upload *AvatarUpload) (string, error) {
	if upload == nil || upload.TempPath == "" {
		return "", ErrAvatarMissing
	}

	defer func() {
		if err := os.Remove(upload.TempPath); err != nil && !os.IsNotExist(err) {
			p.logger.Warn("failed to remove temporary avatar", "path", upload.TempPath, "error", err)
		}
	}()

	info, err := os.Stat(upload.TempPath)
	if err != nil {
		return "", annotate(ErrAvatarSourceMissing, map[string]any{"error": err.Error()})
	}

	if upload.Size > p.maxBytes || info.Size() > p.maxBytes {
		return "", annotate(ErrAvatarTooLarge, map[string]any{
			"size":      max(upload.Size, info.Size()),
			"max_bytes": p.maxBytes,
		})
	}

	user, err := p.users.FindByID(ctx, userID)
	if err != nil {
		if IsNotFound(err) {
			return "", ErrNotAuthorized
		}
		return "", err
	}

	data, ext, contentType, err := p.transform(upload.TempPath)
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("%s_%d%s", user.ID.String(), p.now().UnixNano(), ext)
	url, err := p.store.Put(ctx, name, data, contentType)
	if err != nil {
		return "", annotate(ErrAvatarStore, map[string]any{"name": name, "error": err.Error()})
	}

	previous := user.AvatarURL
	user.AvatarURL = url
	if _, err := p.users.UpdateColumns(ctx, user, []string{"avatar_url"}); err != nil {
		p.logger.Error("avatar published but user update failed, file orphaned", "user_id", userID, "name", name, "error", err)
		return "", err
	}

	recordActivity(ctx, p.activitySink, p.logger, ActivityEvent{
		EventType: ActivityEventAvatarUpdated,
		UserID:    user.ID.String(),
		Email:     user.Email,
		Metadata: map[string]any{
			"from": previous,
			"to":   url,
		},
	})

	return url, nil
}

func (p *AvatarPipeline) transform(path string) ([]byte, string, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", "", annotate(ErrAvatarSourceMissing, map[string]any{"error": err.Error()})
	}
	defer f.Close()

	src, format, err := image.Decode(f)
	if err != nil {
		return nil, "", "", annotate(ErrAvatarDecode, map[string]any{"error": err.Error()})
	}

	dst := ResizeAvatar(src)

	var buf bytes.Buffer
	if format == "jpeg" {
		if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: avatarJPEGQuality}); err != nil {
			return nil, "", "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode avatar")
		}
		return buf.Bytes(), ".jpg", "image/jpeg", nil
	}

	if err := png.Encode(&buf, dst); err != nil {
		return nil, "", "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode avatar")
	}
	return buf.Bytes(), ".png", "image/png", nil
}

// ResizeAvatar scales src to AvatarSize x AvatarSize, ignoring aspect ratio
func ResizeAvatar(src image.Image) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, AvatarSize, AvatarSize))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}
