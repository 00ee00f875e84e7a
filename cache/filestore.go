// cache/filestore.go
// Copyright(c) 2026 tellus contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileStore is a disk cache rooted at a single directory. Callers address
// entries by relative slash-separated paths; the store maps them onto the
// local filesystem and guarantees that writes become visible atomically.
type FileStore struct {
	root string
}

// NewFileStore creates the root directory if needed and returns a store
// rooted there.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("file store root not specified")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%s: %w", root, err)
	}
	return &FileStore{root: root}, nil
}

func (fs *FileStore) Root() string { return fs.root }

// resolve maps a relative cache path to an absolute filesystem path,
// rejecting paths that would escape the store root.
func (fs *FileStore) resolve(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("%q: invalid cache path", path)
	}
	return filepath.Join(fs.root, clean), nil
}

// Find returns the absolute path of an existing entry, or ok false if the
// entry is not in the store.
func (fs *FileStore) Find(path string) (string, bool) {
	abs, err := fs.resolve(path)
	if err != nil {
		return "", false
	}
	if info, err := os.Stat(abs); err != nil || info.IsDir() {
		return "", false
	}
	return abs, true
}

// ModTime returns the modification time of an existing entry.
func (fs *FileStore) ModTime(path string) (time.Time, error) {
	abs, err := fs.resolve(path)
	if err != nil {
		return time.Time{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// Read returns the contents of an existing entry.
func (fs *FileStore) Read(path string) ([]byte, error) {
	abs, err := fs.resolve(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

// Write installs contents under path atomically: it writes to a temporary
// file in the same directory and renames it into place, so a concurrent
// Find never observes a partial entry.
func (fs *FileStore) Write(path string, contents []byte) error {
	abs, err := fs.resolve(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(abs)+".tmp*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(contents); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("%s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), abs); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%s: %w", abs, err)
	}
	return nil
}

// Remove deletes an entry; removing a missing entry is not an error.
func (fs *FileStore) Remove(path string) error {
	abs, err := fs.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
