package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const metaSuffix = ".meta"

// FileStore persists image blobs onto the local filesystem. Content types are
// kept in a sidecar file next to the blob. Intended for deployments without a
// database and for development.
type FileStore struct {
	basePath string
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Put persists the blob and its content type under key. Keys are cleaned to
// prevent directory traversal.
func (s *FileStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if s == nil {
		return errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return err
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(cleanKey))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("storage: ensure directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return fmt.Errorf("storage: write blob: %w", err)
	}
	if err := os.WriteFile(fullPath+metaSuffix, []byte(contentType), 0o644); err != nil {
		return fmt.Errorf("storage: write metadata: %w", err)
	}
	return nil
}

// Get retrieves a stored blob. A missing sidecar degrades to image/png.
func (s *FileStore) Get(ctx context.Context, key string) (Object, error) {
	if s == nil {
		return Object{}, errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return Object{}, err
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(cleanKey))
	data, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Object{}, ErrNotFound
		}
		return Object{}, fmt.Errorf("storage: read blob: %w", err)
	}
	contentType := "image/png"
	if meta, err := os.ReadFile(fullPath + metaSuffix); err == nil && len(meta) > 0 {
		contentType = string(meta)
	}
	return Object{Data: data, ContentType: contentType}, nil
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
