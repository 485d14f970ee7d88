package models

import (
	"errors"
	"fmt"
)

var (
	// ErrCorruptIndex means the global index or a record could not be parsed or validated.
	ErrCorruptIndex = errors.New("corrupt index")
	// ErrModelMismatch means the embedder's model differs from the one recorded in the index.
	ErrModelMismatch = errors.New("model mismatch")
	// ErrModelUnavailable means the embedder cannot be loaded.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrParseFailure means the parser could not extract functions from a file.
	ErrParseFailure = errors.New("parse failure")
	// ErrFileMissing means a file named in a batch does not exist.
	ErrFileMissing = errors.New("file missing")
	// ErrIDSpaceExhausted means the vector ID counter cannot advance further.
	ErrIDSpaceExhausted = errors.New("vector id space exhausted")
	// ErrNotFound means no record exists for a path.
	ErrNotFound = errors.New("not found")
	// ErrLocked means another process holds the storage location for writing.
	ErrLocked = errors.New("storage location locked by another process")
)

// ModelMismatchError carries both model names.
type ModelMismatchError struct {
	Indexed   string
	Requested string
}

func (e *ModelMismatchError) Error() string {
	return fmt.Sprintf("model mismatch: index was built with %q, embedder is %q (rebuild with --reset)", e.Indexed, e.Requested)
}

func (e *ModelMismatchError) Unwrap() error { return ErrModelMismatch }

// FileError attaches a path to a per-file failure.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// IsFatal reports whether err invalidates the whole index rather than one file.
func IsFatal(err error) bool {
	return errors.Is(err, ErrCorruptIndex) ||
		errors.Is(err, ErrModelMismatch) ||
		errors.Is(err, ErrIDSpaceExhausted) ||
		errors.Is(err, ErrLocked)
}

// Reason returns a short classification of err for batch summaries.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFileMissing):
		return "file_missing"
	case errors.Is(err, ErrParseFailure):
		return "parse_failure"
	case errors.Is(err, ErrModelUnavailable):
		return "model_unavailable"
	case errors.Is(err, ErrModelMismatch):
		return "model_mismatch"
	case errors.Is(err, ErrCorruptIndex):
		return "corrupt_index"
	case errors.Is(err, ErrIDSpaceExhausted):
		return "id_space_exhausted"
	default:
		return "error"
	}
}
