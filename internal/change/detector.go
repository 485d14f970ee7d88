// Package change decides whether a file's stored vectors are still current.
package change

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/roojs/semantic-code-search/internal/models"
)

// Status is the outcome of comparing a file on disk with its record.
type Status int

const (
	// Unchanged: fingerprint and modification time both match the record.
	Unchanged Status = iota
	// Touched: content is identical but the modification time moved. Vectors stay valid.
	Touched
	// Changed: content differs from the record, or a forced re-index was requested.
	Changed
	// New: no record exists.
	New
)

func (s Status) String() string {
	switch s {
	case Unchanged:
		return "unchanged"
	case Touched:
		return "touched"
	case Changed:
		return "changed"
	case New:
		return "new"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// NeedsEmbedding reports whether the file's functions must be (re-)embedded.
func (s Status) NeedsEmbedding() bool {
	return s == Changed || s == New
}

// State is what the detector knows about a file on disk.
type State struct {
	Fingerprint string
	ModTime     int64 // Unix nanoseconds
	Size        int64
}

// Compute hashes the file at path. The fingerprint is always taken from the bytes on disk.
// A missing file yields ErrFileMissing.
func Compute(path string) (State, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return State{}, fmt.Errorf("%w: %s", models.ErrFileMissing, path)
		}
		return State{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return State{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return State{}, fmt.Errorf("%w: not a regular file: %s", models.ErrFileMissing, path)
	}
	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return State{}, fmt.Errorf("hash %s: %w", path, err)
	}
	return State{
		Fingerprint: hex.EncodeToString(hash.Sum(nil)),
		ModTime:     info.ModTime().UnixNano(),
		Size:        info.Size(),
	}, nil
}

// Detect classifies a file given its current record (nil when never indexed).
// force turns every indexed file into Changed.
func Detect(rec *models.FileRecord, st State, force bool) Status {
	if rec == nil {
		return New
	}
	if force {
		return Changed
	}
	if rec.ContentFingerprint != st.Fingerprint {
		return Changed
	}
	if rec.ModifiedTime != st.ModTime {
		return Touched
	}
	return Unchanged
}
