package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore persists uploads onto the local filesystem. It is intended for
// development and test environments where B2 is not available.
type FileStore struct {
	basePath string
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if !filepath.IsAbs(basePath) {
		if abs, err := filepath.Abs(basePath); err == nil {
			basePath = abs
		}
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

// Configured reports whether the store has a root directory.
func (s *FileStore) Configured() bool {
	return s != nil && s.basePath != ""
}

// Put writes data at the cleaned key. contentType is not persisted.
func (s *FileStore) Put(ctx context.Context, key, contentType string, data []byte) (Object, error) {
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
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return Object{}, fmt.Errorf("storage: ensure directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return Object{}, fmt.Errorf("storage: write file: %w", err)
	}
	return Object{Key: cleanKey, Size: int64(len(data)), SHA1: contentSHA1(data)}, nil
}

// Delete removes a previously written object. Missing files are not an error.
func (s *FileStore) Delete(ctx context.Context, obj Object) error {
	if s == nil {
		return errors.New("storage: no store configured")
	}
	cleanKey, err := sanitizeKey(obj.Key)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(s.basePath, filepath.FromSlash(cleanKey)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: delete file: %w", err)
	}
	return nil
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
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
