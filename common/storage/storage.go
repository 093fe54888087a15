package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

var ErrObjectNotFound = errors.New("object not found")

// StorageService defines the interface for storage operations
type StorageService interface {
	// Upload uploads a file to storage and returns the object name
	Upload(ctx context.Context, bucket, objectName string, content []byte, contentType string) (string, error)

	// Download downloads a file from storage
	Download(ctx context.Context, bucket, objectName string) ([]byte, error)

	// GetSignedURL gets a signed URL for a file
	GetSignedURL(ctx context.Context, bucket, objectName string, expires int64) (string, error)

	// StreamUpload uploads a file from a reader
	StreamUpload(ctx context.Context, bucket, objectName string, reader io.Reader, contentType string) (string, error)
}

// ParseGSURL splits a gs://bucket/object reference
func ParseGSURL(ref string) (bucket, object string, ok bool) {
	rest, found := strings.CutPrefix(ref, "gs://")
	if !found {
		return "", "", false
	}
	bucket, object, found = strings.Cut(rest, "/")
	if !found || bucket == "" || object == "" {
		return "", "", false
	}
	return bucket, object, true
}

// MemoryStorage keeps objects in process memory. Signed URLs use the gs://
// form since there is nothing to sign.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string][]byte)}
}

func (m *MemoryStorage) key(bucket, objectName string) string {
	return bucket + "/" + objectName
}

func (m *MemoryStorage) Upload(ctx context.Context, bucket, objectName string, content []byte, contentType string) (string, error) {
	return m.StreamUpload(ctx, bucket, objectName, bytes.NewReader(content), contentType)
}

func (m *MemoryStorage) Download(ctx context.Context, bucket, objectName string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[m.key(bucket, objectName)]
	if !ok {
		return nil, fmt.Errorf("%w: gs://%s/%s", ErrObjectNotFound, bucket, objectName)
	}
	return bytes.Clone(data), nil
}

func (m *MemoryStorage) GetSignedURL(ctx context.Context, bucket, objectName string, expires int64) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.objects[m.key(bucket, objectName)]; !ok {
		return "", fmt.Errorf("%w: gs://%s/%s", ErrObjectNotFound, bucket, objectName)
	}
	return "gs://" + m.key(bucket, objectName), nil
}

func (m *MemoryStorage) StreamUpload(ctx context.Context, bucket, objectName string, reader io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[m.key(bucket, objectName)] = data
	return objectName, nil
}
