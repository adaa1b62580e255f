package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// FileStore keeps the document in a single JSON file. Writes go to a temp
// file that is renamed into place.
type FileStore struct {
	path     string
	maxBytes int
}

// NewFileStore returns a store writing to path. A positive maxBytes rejects
// larger documents with ErrQuotaExceeded.
func NewFileStore(path string, maxBytes int) *FileStore {
	return &FileStore{path: path, maxBytes: maxBytes}
}

// Path returns the document path.
func (f *FileStore) Path() string {
	return f.path
}

// Read returns the file contents, or nil if the file does not exist.
func (f *FileStore) Read(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", f.path, err)
	}
	return data, nil
}

// Write atomically replaces the file.
func (f *FileStore) Write(_ context.Context, data []byte) error {
	if f.maxBytes > 0 && len(data) > f.maxBytes {
		return fmt.Errorf("writing %d bytes to %s: %w", len(data), f.path, ErrQuotaExceeded)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", mapDiskFull(err))
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()        //nolint:errcheck // already failing
		_ = os.Remove(tmpPath) //nolint:errcheck // best effort
		return fmt.Errorf("writing temp file: %w", mapDiskFull(err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck // best effort
		return fmt.Errorf("closing temp file: %w", mapDiskFull(err))
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck // best effort
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck // best effort
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// Quarantine moves the current file to <path>.corrupt and returns the new
// path.
func (f *FileStore) Quarantine(_ context.Context) (string, error) {
	dest := f.path + ".corrupt"
	if err := os.Rename(f.path, dest); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("quarantining %s: %w", f.path, err)
	}
	return dest, nil
}

// Close is a no-op; the file is not held open between writes.
func (f *FileStore) Close() error {
	return nil
}

func mapDiskFull(err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%w: %w", ErrQuotaExceeded, err)
	}
	return err
}
