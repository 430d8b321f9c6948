package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/scanium/enricher/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeEndpoint(t *testing.T) {
	tests := map[string]string{
		"https://abc.r2.cloudflarestorage.com/": "abc.r2.cloudflarestorage.com",
		"http://localhost:9000/bucket/path":     "localhost:9000",
		"s3.us-west-2.amazonaws.com":            "s3.us-west-2.amazonaws.com",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeEndpoint(in), in)
	}
}

func TestDetectStorageType(t *testing.T) {
	assert.Equal(t, StorageTypeR2, detectStorageType("https://abc.R2.cloudflarestorage.com"))
	assert.Equal(t, StorageTypeS3, detectStorageType("s3.eu-west-1.amazonaws.com"))
	assert.Equal(t, StorageTypeS3Compatible, detectStorageType("localhost:9000"))
	assert.Equal(t, StorageTypeMemory, detectStorageType(""))
}

func TestNewStorage(t *testing.T) {
	store, err := NewStorage(config.StorageConfig{Type: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStorage{}, store)

	_, err = NewStorage(config.StorageConfig{Type: "ftp"})
	assert.Error(t, err)

	s3store, err := NewStorage(config.StorageConfig{Endpoint: "http://localhost:9000", Bucket: "items"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/items/a/b.jpg", s3store.GetURL("a/b.jpg"))
}

func TestArchiveIsContentAddressed(t *testing.T) {
	mem := NewMemoryStorage("https://cdn.example.com/")
	archive := NewImageArchive(mem, "")
	ctx := context.Background()
	hash := strings.Repeat("ab", 32)

	url, err := archive.Archive(ctx, hash, "jpeg", []byte("jpeg-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/items/ab/"+hash+".jpg", url)

	data, contentType, ok := mem.Object(archive.Key(hash, "jpeg"))
	require.True(t, ok)
	assert.Equal(t, []byte("jpeg-bytes"), data)
	assert.Equal(t, "image/jpeg", contentType)

	again, err := archive.Archive(ctx, hash, "jpeg", []byte("jpeg-bytes"))
	require.NoError(t, err)
	assert.Equal(t, url, again)
	assert.Equal(t, 1, mem.Len())
}

func TestArchiveRejectsShortHash(t *testing.T) {
	archive := NewImageArchive(NewMemoryStorage(""), "")
	_, err := archive.Archive(context.Background(), "a", "png", []byte("x"))
	assert.Error(t, err)
}
