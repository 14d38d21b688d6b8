package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ObjectStore defines the interface for binary object storage.
type ObjectStore interface {
	// Put stores data under name and returns the public URL of the object.
	Put(ctx context.Context, name string, data []byte, contentType string) (*ObjectInfo, error)
	Delete(ctx context.Context, name string) error
}

// ObjectInfo represents metadata about a stored object.
type ObjectInfo struct {
	Name        string
	URL         string
	Size        int64
	ContentType string
	ModTime     time.Time
}

// LocalStore keeps objects as files under a directory that the HTTP server
// exposes at baseURL.
type LocalStore struct {
	dir     string
	baseURL string
}

func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &LocalStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *LocalStore) Put(ctx context.Context, name string, data []byte, contentType string) (*ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean := filepath.Base(name)
	if clean == "." || clean == string(filepath.Separator) {
		return nil, fmt.Errorf("invalid object name %q", name)
	}

	path := filepath.Join(s.dir, clean)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to store object: %w", err)
	}
	return &ObjectInfo{
		Name:        clean,
		URL:         s.baseURL + "/" + clean,
		Size:        int64(len(data)),
		ContentType: contentType,
		ModTime:     time.Now().UTC(),
	}, nil
}

func (s *LocalStore) Delete(_ context.Context, name string) error {
	err := os.Remove(filepath.Join(s.dir, filepath.Base(name)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}
