package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Publisher places a rendered artifact somewhere readers can fetch it and
// returns the resulting location.
type Publisher interface {
	Publish(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// LocalStorage persists files on disk under a base directory.
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage ensures the base directory exists and returns a handle.
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = "./public"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &LocalStorage{baseDir: baseDir}, nil
}

// Save atomically writes the given bytes to the relative path under the base dir.
func (s *LocalStorage) Save(ctx context.Context, filename string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := s.resolve(filename)
	if err != nil {
		return "", err
	}
	if err := WriteFileAtomic(path, data, 0o644); err != nil {
		return "", fmt.Errorf("save %s: %w", filename, err)
	}
	return path, nil
}

// Publish implements Publisher by saving to disk; the content type is implied
// by the file extension.
func (s *LocalStorage) Publish(ctx context.Context, name, _ string, data []byte) (string, error) {
	return s.Save(ctx, name, data)
}

// Open returns a read-only handle for the stored file.
func (s *LocalStorage) Open(filename string) (*os.File, error) {
	path, err := s.resolve(filename)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open stored file: %w", err)
	}
	return file, nil
}

// CleanupTemps removes interrupted writes older than ttl.
func (s *LocalStorage) CleanupTemps(ttl time.Duration) ([]string, error) {
	return RemoveStaleTemps(s.baseDir, ttl)
}

// Dir returns the base directory.
func (s *LocalStorage) Dir() string {
	return s.baseDir
}

func (s *LocalStorage) resolve(filename string) (string, error) {
	clean := filepath.Clean(filename)
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid storage path %q", filename)
	}
	return filepath.Join(s.baseDir, clean), nil
}
