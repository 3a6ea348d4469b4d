package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/formy-ai/formy/pkg/config"
)

// Category separates user uploads from produced results.
type Category string

const (
	CategoryUpload Category = "uploads"
	CategoryResult Category = "results"
)

// StoredObject describes a persisted artifact.
type StoredObject struct {
	// Key is the backend-relative object key, e.g. uploads/file_..._a1b2c3.png
	Key string `json:"key"`
	// URL is the address handed to clients and engines
	URL string `json:"url"`
	// Size is the stored byte count
	Size int64 `json:"size"`
}

// ObjectStore persists image artifacts. Implementations exist for local disk
// and S3-compatible object storage.
type ObjectStore interface {
	// Save writes an object under the category, deriving the key from name's
	// extension
	Save(ctx context.Context, category Category, name string, r io.Reader, size int64, contentType string) (*StoredObject, error)

	// Load reads an object back by key
	Load(ctx context.Context, key string) ([]byte, error)

	// Delete removes an object by key
	Delete(ctx context.Context, key string) error

	// Sweep removes objects older than the retention window, returning the
	// number removed
	Sweep(ctx context.Context, olderThan time.Duration) (int, error)
}

// New builds the store selected by the configuration.
func New(conf config.StorageConfig) (ObjectStore, error) {
	switch conf.Backend {
	case "local", "":
		return NewLocalStore(conf)
	case "s3":
		return NewS3Store(conf)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", conf.Backend)
	}
}
