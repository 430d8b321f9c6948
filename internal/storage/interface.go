package storage

import (
	"context"
	"io"
)

// ObjectStorage is the subset of object storage the image archive needs.
type ObjectStorage interface {
	// Upload writes an object.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Exists reports whether an object is present.
	Exists(ctx context.Context, key string) (bool, error)

	// GetURL returns the URL for accessing an object.
	GetURL(key string) string
}
