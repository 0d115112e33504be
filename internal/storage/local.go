// Package storage provides confined access to files under a directory.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidPath means a key is absolute or escapes the root.
var ErrInvalidPath = errors.New("invalid path")

// Local reads and writes files below a root directory. Keys are
// slash-separated paths relative to the root.
type Local struct {
	rootPath   string
	createDirs bool
}

// New creates a Local rooted at rootPath. When createDirs is set the root
// and any parent directories of written keys are created on demand.
func New(rootPath string, createDirs bool) (*Local, error) {
	if rootPath == "" {
		return nil, fmt.Errorf("root path is required")
	}

	info, err := os.Stat(rootPath)
	if err != nil {
		if os.IsNotExist(err) && createDirs {
			if mkErr := os.MkdirAll(rootPath, 0755); mkErr != nil {
				return nil, fmt.Errorf("create root path %s: %w", rootPath, mkErr)
			}
		} else {
			return nil, fmt.Errorf("stat root path %s: %w", rootPath, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("root path %s is not a directory", rootPath)
	}

	return &Local{rootPath: rootPath, createDirs: createDirs}, nil
}

// Root returns the root directory.
func (b *Local) Root() string {
	return b.rootPath
}

// CleanKey validates a request key and returns its canonical form. The
// empty key names the root itself.
func CleanKey(key string) (string, error) {
	key = strings.Trim(strings.ReplaceAll(key, "\\", "/"), "/")
	if key == "" {
		return "", nil
	}
	if !filepath.IsLocal(filepath.FromSlash(key)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, key)
	}
	return filepath.ToSlash(filepath.Clean(filepath.FromSlash(key))), nil
}

// FullPath resolves key to a filesystem path inside the root.
func (b *Local) FullPath(key string) (string, error) {
	clean, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(b.rootPath, filepath.FromSlash(clean)), nil
}

// Stat returns file info for key.
func (b *Local) Stat(_ context.Context, key string) (fs.FileInfo, error) {
	path, err := b.FullPath(key)
	if err != nil {
		return nil, err
	}
	return os.Stat(path)
}

// GetObject opens key for reading and returns its size.
func (b *Local) GetObject(_ context.Context, key string) (*os.File, int64, error) {
	path, err := b.FullPath(key)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", key, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat %s: %w", key, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, fmt.Errorf("open %s: %w", key, fs.ErrNotExist)
	}
	return f, info.Size(), nil
}

// PutObject writes content atomically: readers see either the previous file
// or the complete new one.
func (b *Local) PutObject(_ context.Context, key string, body io.Reader) error {
	path, err := b.FullPath(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)

	if b.createDirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create dirs for %s: %w", key, err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".gallery-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", key, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp to %s: %w", key, err)
	}

	return nil
}
