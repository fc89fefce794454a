package fileupload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cloudmon/platform/pkg/common/logger"
)

// FileStore persists raw upload content under a key derived from the content
// hash and serves it back to the processing pipeline.
type FileStore interface {
	Save(ctx context.Context, key string, content []byte) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// LocalStore writes uploads to a directory on disk.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload dir %s: %w", dir, err)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) Save(ctx context.Context, key string, content []byte) (string, error) {
	path := filepath.Join(s.dir, key)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	logger.Log.WithField("path", path).Debug("stored upload on disk")
	return path, nil
}

func (s *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.dir, key))
	if err != nil {
		return nil, fmt.Errorf("opening upload %s: %w", key, err)
	}
	return f, nil
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	return os.Remove(filepath.Join(s.dir, key))
}
