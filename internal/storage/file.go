package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/roojs/semantic-code-search/internal/atomicfile"
)

const (
	globalFileName = "index.json"
	recordsDirName = "files"
)

// FileBackend stores the global index as <dir>/index.json and each record as
// <dir>/files/<key>, so updating one source file rewrites one small record.
type FileBackend struct {
	dir string
}

// NewFileStore returns a Store rooted at dir. The directory is created if needed.
func NewFileStore(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, recordsDirName), 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return New(&FileBackend{dir: dir}), nil
}

func (b *FileBackend) globalPath() string {
	return filepath.Join(b.dir, globalFileName)
}

func (b *FileBackend) recordPath(key string) string {
	return filepath.Join(b.dir, recordsDirName, filepath.Base(key))
}

// ReadGlobal implements Backend.
func (b *FileBackend) ReadGlobal(ctx context.Context) ([]byte, error) {
	return readOptional(b.globalPath())
}

// ReadRecord implements Backend.
func (b *FileBackend) ReadRecord(ctx context.Context, key string) ([]byte, error) {
	return readOptional(b.recordPath(key))
}

func readOptional(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

// Commit writes records first and the global index last. A crash in between leaves
// records that the old global index does not reference, which reconciliation repairs.
func (b *FileBackend) Commit(ctx context.Context, global []byte, put map[string][]byte, del []string) error {
	for key, data := range put {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := atomicfile.WriteBytes(b.recordPath(key), data, 0644); err != nil {
			return fmt.Errorf("write record %s: %w", key, err)
		}
	}
	if err := atomicfile.WriteBytes(b.globalPath(), global, 0644); err != nil {
		return fmt.Errorf("write global index: %w", err)
	}
	for _, key := range del {
		if err := os.Remove(b.recordPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove record %s: %w", key, err)
		}
	}
	return nil
}

// DiskUsage implements Backend.
func (b *FileBackend) DiskUsage() (int64, error) {
	return DiskUsageBytes(b.globalPath(), filepath.Join(b.dir, recordsDirName))
}

// Name implements Backend.
func (b *FileBackend) Name() string { return "file" }

// Close implements Backend.
func (b *FileBackend) Close() error { return nil }
