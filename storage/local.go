package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// LocalStore writes avatars into a directory that is served statically
type LocalStore struct {
	dir       string
	urlPrefix string
}

// NewLocalStore stores files under dir and builds URLs as {urlPrefix}/{name}
func NewLocalStore(dir, urlPrefix string) *LocalStore {
	return &LocalStore{
		dir:       dir,
		urlPrefix: "/" + strings.Trim(urlPrefix, "/"),
	}
}

// Dir returns the directory files are written to
func (s *LocalStore) Dir() string {
	return s.dir
}

// Put creates name exclusively, an existing file is never overwritten.
func (s *LocalStore) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	if name == "" || name != filepath.Base(name) {
		return "", goerrors.New("invalid object name", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"name": name})
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryOperation, "failed to create avatar directory")
	}

	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return "", goerrors.Wrap(err, goerrors.CategoryConflict, "avatar already exists").
				WithMetadata(map[string]any{"name": name})
		}
		return "", goerrors.Wrap(err, goerrors.CategoryOperation, "failed to create avatar file")
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return "", goerrors.Wrap(err, goerrors.CategoryOperation, "failed to write avatar file")
	}

	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", goerrors.Wrap(err, goerrors.CategoryOperation, "failed to flush avatar file")
	}

	if s.urlPrefix == "/" {
		return "/" + name, nil
	}
	return s.urlPrefix + "/" + name, nil
}
