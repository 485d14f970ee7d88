// Package models defines the core data structures for the index, sync results and queries.
package models

import (
	"path/filepath"
	"strings"
)

// SchemaVersion is the on-disk layout version written by this build.
// Stores written with a greater version are rejected as corrupt.
const SchemaVersion = 2

// FunctionSpan is one function found by a parser. Lines are 0-indexed and inclusive.
type FunctionSpan struct {
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Text      string `json:"text"`
}

// Lines returns the number of source lines the span covers.
func (s FunctionSpan) Lines() int {
	return s.EndLine - s.StartLine + 1
}

// LineRange is a (start, end) pair stored per vector ID.
type LineRange [2]int

// FileRecord is the per-file metadata record. VectorIDs[i] belongs to FunctionLines[i].
type FileRecord struct {
	Path               string      `json:"path"`
	VectorIDs          []uint64    `json:"vector_ids"`
	FunctionLines      []LineRange `json:"function_lines"`
	ContentFingerprint string      `json:"content_fingerprint"`
	ModifiedTime       int64       `json:"modified_time"`
}

// Valid reports whether the record satisfies the one-to-one ID/span invariant.
func (r *FileRecord) Valid() bool {
	return r != nil && len(r.VectorIDs) == len(r.FunctionLines) && len(r.VectorIDs) > 0
}

// GlobalIndex is the persisted root of one storage location.
type GlobalIndex struct {
	FileToMeta    map[string]string `json:"file_to_meta"`
	NextVectorID  uint64            `json:"next_vector_id"`
	ModelName     string            `json:"model_name"`
	Dimensions    int               `json:"dimensions,omitempty"`
	SchemaVersion int               `json:"version"`
}

// NewGlobalIndex returns an empty index at the current schema version.
func NewGlobalIndex() *GlobalIndex {
	return &GlobalIndex{
		FileToMeta:    make(map[string]string),
		SchemaVersion: SchemaVersion,
	}
}

// Clone returns a deep copy.
func (g *GlobalIndex) Clone() *GlobalIndex {
	c := *g
	c.FileToMeta = make(map[string]string, len(g.FileToMeta))
	for k, v := range g.FileToMeta {
		c.FileToMeta[k] = v
	}
	return &c
}

// LowerExt returns the lower-cased extension of path including the leading dot.
func LowerExt(path string) string {
	return strings.ToLower(filepath.Ext(path))
}
