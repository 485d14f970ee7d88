// Package atomicfile replaces files so that readers observe either the old or the new content.
package atomicfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const bufferSize = 256 * 1024

// Write streams writeFunc into a temp file next to filename, fsyncs it, renames it over
// filename and fsyncs the directory. The parent directory is created if needed.
func Write(filename string, perm os.FileMode, writeFunc func(io.Writer) error) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(filename)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	_ = tmp.Chmod(perm)

	buf := bufio.NewWriterSize(tmp, bufferSize)
	if err := writeFunc(buf); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpName, filename); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	tmpName = ""

	// Best-effort: the rename is only durable once the directory entry is synced.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// WriteBytes is Write for an in-memory payload.
func WriteBytes(filename string, data []byte, perm os.FileMode) error {
	return Write(filename, perm, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}
