// Package artifacts provides byte-level object storage for document
// artifacts, crop PDFs, and rendered evidence PNGs. Production runs
// against an S3-compatible bucket; development can use a local directory.
package artifacts

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/haasonsaas/docsight/internal/config"
	"github.com/haasonsaas/docsight/internal/observability"
)

// Store is the byte-level object store. Upload returns the public URL for
// the stored key when one can be built, or an empty string otherwise.
type Store interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Head(ctx context.Context, key string) (bool, error)
	PublicURL(key string) string
	Close() error
}

// New selects the backing store from configuration: S3-compatible when an
// endpoint is set, a local directory otherwise.
func New(ctx context.Context, cfg config.StorageConfig, log *observability.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Endpoint) != "" {
		return NewS3Store(ctx, cfg, log)
	}
	return NewLocalStore(cfg, log)
}

// GenerateKey builds a collision-free object key for a user upload,
// keeping the original file extension: {prefix}/{user_id}/{uuid}{ext}.
func GenerateKey(prefix, userID, filename string) string {
	return fmt.Sprintf("%s/%s/%s%s", prefix, userID, uuid.NewString(), path.Ext(filename))
}

// URLBuilder resolves public URLs for object keys. Resolution order: the
// dev URL (a local proxy during development), then the public domain
// (always served over https), then the raw endpoint with the bucket in
// the path.
type URLBuilder struct {
	DevURL       string
	PublicDomain string
	Endpoint     string
	Bucket       string
}

// NewURLBuilder captures the URL-relevant parts of the storage config.
func NewURLBuilder(cfg config.StorageConfig) URLBuilder {
	return URLBuilder{
		DevURL:       cfg.DevURL,
		PublicDomain: cfg.PublicDomain,
		Endpoint:     cfg.Endpoint,
		Bucket:       cfg.Bucket,
	}
}

// URL returns the public URL for key, or "" when no base is configured.
func (b URLBuilder) URL(key string) string {
	if b.DevURL != "" {
		return strings.TrimRight(b.DevURL, "/") + "/" + key
	}
	if b.PublicDomain != "" {
		domain := strings.TrimPrefix(strings.TrimPrefix(b.PublicDomain, "https://"), "http://")
		return "https://" + strings.TrimRight(domain, "/") + "/" + key
	}
	if b.Endpoint != "" {
		return strings.TrimRight(b.Endpoint, "/") + "/" + b.Bucket + "/" + key
	}
	return ""
}
