package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileSystem stores project records under a base directory. Writes are
// write-temp-then-rename so a crash mid-save never corrupts the prior record.
type FileSystem struct {
	baseDir string
}

func NewFileSystem(baseDir string) *FileSystem {
	return &FileSystem{baseDir: baseDir}
}

// sanitizePath validates and cleans the path to prevent directory traversal.
func (fs *FileSystem) sanitizePath(path string) (string, error) {
	cleaned := filepath.Clean(path)

	if strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("invalid path: contains parent directory reference")
	}
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid path: absolute paths not allowed")
	}

	fullPath := filepath.Join(fs.baseDir, cleaned)
	if !strings.HasPrefix(fullPath, fs.baseDir+string(filepath.Separator)) && fullPath != fs.baseDir {
		return "", fmt.Errorf("invalid path: outside base directory")
	}

	return fullPath, nil
}

func (fs *FileSystem) Save(ctx context.Context, path string, data []byte) error {
	fullPath, err := fs.sanitizePath(path)
	if err != nil {
		return err
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpName, fullPath); err != nil {
		return fmt.Errorf("replacing file: %w", err)
	}

	return nil
}

func (fs *FileSystem) Load(ctx context.Context, path string) ([]byte, error) {
	fullPath, err := fs.sanitizePath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	return data, nil
}

// Append adds data to the end of the file and fsyncs before returning.
func (fs *FileSystem) Append(ctx context.Context, path string, data []byte) error {
	fullPath, err := fs.sanitizePath(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	f, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening file for append: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("appending to file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing file: %w", err)
	}

	return nil
}

func (fs *FileSystem) List(ctx context.Context, pattern string) ([]string, error) {
	cleaned := filepath.Clean(pattern)
	if strings.Contains(cleaned, "..") {
		return nil, fmt.Errorf("invalid pattern: contains parent directory reference")
	}
	if filepath.IsAbs(cleaned) {
		return nil, fmt.Errorf("invalid pattern: absolute paths not allowed")
	}

	matches, err := filepath.Glob(filepath.Join(fs.baseDir, cleaned))
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}

	var results []string
	for _, match := range matches {
		rel, err := filepath.Rel(fs.baseDir, match)
		if err != nil {
			continue
		}
		results = append(results, rel)
	}

	return results, nil
}

func (fs *FileSystem) Exists(ctx context.Context, path string) bool {
	fullPath, err := fs.sanitizePath(path)
	if err != nil {
		return false
	}

	_, err = os.Stat(fullPath)
	return err == nil
}

func (fs *FileSystem) Delete(ctx context.Context, path string) error {
	fullPath, err := fs.sanitizePath(path)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}

	return nil
}
