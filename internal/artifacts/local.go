package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/docsight/internal/config"
	"github.com/haasonsaas/docsight/internal/observability"
)

// LocalStore keeps objects under a directory on disk, mirroring key paths.
// It serves development setups that run without an object-store endpoint.
type LocalStore struct {
	dir  string
	urls URLBuilder
	log  *observability.Logger
}

// NewLocalStore creates the base directory when missing.
func NewLocalStore(cfg config.StorageConfig, log *observability.Logger) (*LocalStore, error) {
	dir := cfg.LocalDir
	if dir == "" {
		dir = "storage"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	if log == nil {
		log = observability.NopLogger()
	}
	return &LocalStore{dir: dir, urls: NewURLBuilder(cfg), log: log}, nil
}

// path maps a slash-separated object key onto the base directory. Keys
// that would escape the base directory are rejected.
func (s *LocalStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(s.dir, clean), nil
}

// Upload writes data under key, creating parent directories. The write is
// atomic: a temp file in the target directory renamed over the final path.
func (s *LocalStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	p, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("create object dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), filepath.Base(p)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("rename object: %w", err)
	}

	s.log.Debug(ctx, "stored object", "key", key, "bytes", len(data))
	return s.urls.URL(key), nil
}

// Download reads the object bytes for key.
func (s *LocalStore) Download(ctx context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

// Delete removes the object for key. Deleting a missing key is not an
// error.
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

// Head reports whether an object exists for key.
func (s *LocalStore) Head(ctx context.Context, key string) (bool, error) {
	p, err := s.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// PublicURL returns the public URL for key, or "" when none is configured.
func (s *LocalStore) PublicURL(key string) string {
	return s.urls.URL(key)
}

// Close releases resources.
func (s *LocalStore) Close() error {
	return nil
}
