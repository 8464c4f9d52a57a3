//go:build gcp

package bundle

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSStore archives bundles in a Google Cloud Storage bucket. Uses ADC for
// credentials.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

func newGCSStore(ctx context.Context, cfg StoreConfig) (ObjectStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("bundle: create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	fullKey := s.prefix + key
	w := s.client.Bucket(s.bucket).Object(fullKey).NewWriter(ctx)
	w.ContentType = "application/zip"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("bundle: gcs write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("bundle: gcs close %s: %w", key, err)
	}
	return "gs://" + s.bucket + "/" + fullKey, nil
}

func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	fullKey := s.prefix + key
	r, err := s.client.Bucket(s.bucket).Object(fullKey).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("bundle: gcs get %s: %w", key, err)
	}
	defer func() { _ = r.Close() }()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("bundle: gcs read %s: %w", key, err)
	}
	return data, nil
}

// Close closes the GCS client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
