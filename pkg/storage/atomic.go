package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TempPattern marks in-flight files written by WriteFileAtomic.
const TempPattern = ".tmp-"

// WriteFileAtomic replaces path with data so that readers observe either the
// previous content or the new content, never a partial file. The temp file
// lives in the target directory because rename is only atomic within one
// filesystem.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("prepare directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+TempPattern+"*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	committed = true
	return syncDir(dir)
}

// RemoveStaleTemps deletes temp files under dir left behind by interrupted
// writes and returns their names. Files younger than minAge are kept since a
// concurrent writer may still own them.
func RemoveStaleTemps(dir string, minAge time.Duration) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	cutoff := time.Now().Add(-minAge)
	removed := make([]string, 0)
	for _, entry := range entries {
		if entry.IsDir() || !strings.Contains(entry.Name(), TempPattern) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("remove %s: %w", entry.Name(), err)
		}
		removed = append(removed, entry.Name())
	}
	return removed, nil
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open directory: %w", err)
	}
	defer f.Close() //nolint:errcheck
	// Some platforms refuse fsync on directories; the rename already happened.
	_ = f.Sync()
	return nil
}
