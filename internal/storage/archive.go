package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/scanium/enricher/internal/logger"
)

var contentTypes = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"webp": "image/webp",
}

// ImageArchive stores submitted images under their content hash.
type ImageArchive struct {
	store  ObjectStorage
	prefix string
}

// NewImageArchive wraps store. Keys are written below prefix.
func NewImageArchive(store ObjectStorage, prefix string) *ImageArchive {
	if prefix == "" {
		prefix = "items"
	}
	return &ImageArchive{store: store, prefix: prefix}
}

// Key returns the object key for an image.
func (a *ImageArchive) Key(imageHash, format string) string {
	ext := format
	if ext == "jpeg" {
		ext = "jpg"
	}
	return path.Join(a.prefix, imageHash[:2], imageHash+"."+ext)
}

// Archive uploads image unless an object with the same hash already exists.
// It returns the object URL.
func (a *ImageArchive) Archive(ctx context.Context, imageHash, format string, image []byte) (string, error) {
	if len(imageHash) < 2 {
		return "", fmt.Errorf("invalid image hash %q", imageHash)
	}
	key := a.Key(imageHash, format)

	exists, err := a.store.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if exists {
		logger.CtxDebug(ctx, "Image already archived: key=%s", key)
		return a.store.GetURL(key), nil
	}

	contentType, ok := contentTypes[format]
	if !ok {
		contentType = "application/octet-stream"
	}
	if err := a.store.Upload(ctx, key, bytes.NewReader(image), int64(len(image)), contentType); err != nil {
		return "", err
	}
	logger.With(logger.Fields{logger.FieldSize: len(image)}).Debug(ctx, "Archived image: key=%s", key)
	return a.store.GetURL(key), nil
}
