package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	inverrors "github.com/rcourtman/puppetdb-inventory/internal/errors"
)

const (
	cacheFilePerm os.FileMode = 0o600
	cacheDirPerm  os.FileMode = 0o700

	// maxCacheBytes bounds how much of a cache file is read back.
	maxCacheBytes int64 = 256 << 20
)

// File is the on-disk inventory cache: a single JSON document whose
// modification time decides freshness.
type File struct {
	path string
	ttl  time.Duration
}

// Status describes the cache file at a point in time.
type Status struct {
	Path     string
	Enabled  bool
	TTL      time.Duration
	Exists   bool
	Size     int64
	Modified time.Time
	Expires  time.Time
	Stale    bool
}

func New(path string, ttl time.Duration) *File {
	return &File{path: path, ttl: ttl}
}

func (f *File) Path() string {
	return f.path
}

// Enabled reports whether caching is active. A zero TTL disables it.
func (f *File) Enabled() bool {
	return f.ttl > 0
}

// IsStale reports whether the cache must be rebuilt: the file is missing,
// unreadable, or mtime+ttl is not after now.
func (f *File) IsStale(now time.Time) bool {
	return f.Stat(now).Stale
}

// Stat inspects the cache file without reading it.
func (f *File) Stat(now time.Time) Status {
	st := Status{Path: f.path, Enabled: f.Enabled(), TTL: f.ttl, Stale: true}

	info, err := os.Stat(f.path)
	if err != nil || !info.Mode().IsRegular() {
		return st
	}

	st.Exists = true
	st.Size = info.Size()
	st.Modified = info.ModTime()
	st.Expires = info.ModTime().Add(f.ttl)
	st.Stale = !f.Enabled() || !st.Expires.After(now)
	return st
}

// Read returns the cached document.
func (f *File) Read() ([]byte, error) {
	info, err := os.Lstat(f.path)
	if err != nil {
		return nil, inverrors.WrapCacheError("read_cache", err)
	}
	if !info.Mode().IsRegular() {
		return nil, inverrors.WrapCacheError("read_cache", fmt.Errorf("cache path %s is not a regular file", f.path))
	}
	if info.Size() > maxCacheBytes {
		return nil, inverrors.WrapCacheError("read_cache", fmt.Errorf("cache file %s exceeds %d bytes", f.path, maxCacheBytes))
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, inverrors.WrapCacheError("read_cache", err)
	}
	return data, nil
}

// Write atomically replaces the cache file with data.
func (f *File) Write(data []byte) error {
	if err := f.write(data); err != nil {
		return inverrors.WrapCacheError("write_cache", err)
	}
	return nil
}

func (f *File) write(data []byte) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, cacheDirPerm); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	if info, err := os.Lstat(f.path); err == nil {
		if !info.Mode().IsRegular() {
			return fmt.Errorf("refusing to replace non-regular cache path %s", f.path)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := tmpFile.Chmod(cacheFilePerm); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		return err
	}
	cleanup = false
	return nil
}

// Clear removes the cache file. A missing file is not an error.
func (f *File) Clear() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return inverrors.WrapCacheError("clear_cache", err)
	}
	return nil
}
