package bundle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Backend names an object store implementation.
type Backend string

const (
	BackendFile Backend = "file"
	BackendS3   Backend = "s3"
	BackendGCS  Backend = "gcs"
)

// ErrUnknownBackend is returned by the factory for unrecognized backends.
var ErrUnknownBackend = errors.New("bundle: unknown object store backend")

// ObjectStore archives finished bundles. Put stores data under key and
// returns the storage URI.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// StoreConfig selects and configures an object store backend.
type StoreConfig struct {
	Backend  Backend
	BaseDir  string // file backend
	Bucket   string // s3 and gcs backends
	Region   string // s3 backend
	Endpoint string // s3 backend, optional (MinIO, LocalStack)
	Prefix   string // optional key prefix
}

// NewObjectStore builds the configured backend.
func NewObjectStore(ctx context.Context, cfg StoreConfig) (ObjectStore, error) {
	switch cfg.Backend {
	case BackendFile, "":
		return NewFileStore(cfg.BaseDir)
	case BackendS3:
		return NewS3Store(ctx, cfg)
	case BackendGCS:
		return newGCSStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// FileStore is the default filesystem backend.
type FileStore struct {
	baseDir string
	mu      sync.Mutex
}

// NewFileStore creates the base directory if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		baseDir = "bundles"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("bundle: ensure bundle dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

// Put writes atomically: temp file first, then rename.
func (s *FileStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("bundle: ensure key dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("bundle: write bundle: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("bundle: commit bundle: %w", err)
	}
	return "file://" + path, nil
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.baseDir, filepath.FromSlash(key))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("bundle: not found: %s", key)
		}
		return nil, fmt.Errorf("bundle: read bundle: %w", err)
	}
	return data, nil
}
