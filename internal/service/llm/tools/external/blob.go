package external

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// BlobStore persists binary objects and returns a URL they can be fetched from.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// GCSBlobStore stores objects in a Google Cloud Storage bucket.
type GCSBlobStore struct {
	client        *storage.Client
	bucket        string
	publicBaseURL string
}

// NewGCSBlobStore creates a GCS-backed store. Credentials come from the
// environment (application default credentials).
func NewGCSBlobStore(ctx context.Context, bucket, publicBaseURL string) (*GCSBlobStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	client, err := storage.NewClient(ctx, option.WithScopes(storage.ScopeReadWrite))
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSBlobStore{
		client:        client,
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

// Put uploads data under key and returns its public URL.
func (s *GCSBlobStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return s.PublicURL(key), nil
}

// PublicURL returns the URL an object is served from.
func (s *GCSBlobStore) PublicURL(key string) string {
	key = strings.TrimLeft(key, "/")
	if s.publicBaseURL != "" {
		return fmt.Sprintf("%s/%s", s.publicBaseURL, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, key)
}

// Close releases the storage client.
func (s *GCSBlobStore) Close() error {
	return s.client.Close()
}
