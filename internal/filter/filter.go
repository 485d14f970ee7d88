// Package filter turns file and extension restrictions into the set of vector IDs a query may return.
package filter

import (
	"strings"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/roojs/semantic-code-search/internal/fileid"
	"github.com/roojs/semantic-code-search/internal/models"
)

// Source exposes the vector IDs owned by each indexed file.
type Source interface {
	// Lookup returns the IDs of the file at a normalized path.
	Lookup(path string) ([]uint64, bool)
	// Each visits every indexed file until fn returns false.
	Each(fn func(path string, ids []uint64) bool)
}

// Spec is a query restriction. The zero value restricts nothing.
type Spec struct {
	Files      []string
	Extensions []string
}

// Empty reports whether the spec restricts nothing.
func (s Spec) Empty() bool {
	return len(s.Files) == 0 && len(s.Extensions) == 0
}

// NormalizeExtension lower-cases ext and ensures a leading dot. "" stays "".
func NormalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" || strings.HasPrefix(ext, ".") {
		return ext
	}
	return "." + ext
}

// Resolve returns the permitted ID set, or nil when the spec restricts nothing.
// Files contribute the union of their IDs, extensions the union of every matching file's
// IDs; when both are given the result is their intersection. Paths that are not indexed
// contribute nothing, so a filter naming only unknown files yields an empty, non-nil set.
func Resolve(src Source, spec Spec) *roaring64.Bitmap {
	if spec.Empty() {
		return nil
	}
	var byFile, byExt *roaring64.Bitmap
	if len(spec.Files) > 0 {
		byFile = roaring64.New()
		for _, p := range spec.Files {
			norm, err := fileid.Normalize(p)
			if err != nil {
				continue
			}
			if ids, ok := src.Lookup(norm); ok {
				byFile.AddMany(ids)
			}
		}
	}
	if len(spec.Extensions) > 0 {
		exts := make(map[string]struct{}, len(spec.Extensions))
		for _, e := range spec.Extensions {
			if n := NormalizeExtension(e); n != "" {
				exts[n] = struct{}{}
			}
		}
		byExt = roaring64.New()
		src.Each(func(path string, ids []uint64) bool {
			if _, ok := exts[models.LowerExt(path)]; ok {
				byExt.AddMany(ids)
			}
			return true
		})
	}
	switch {
	case byFile != nil && byExt != nil:
		byFile.And(byExt)
		return byFile
	case byFile != nil:
		return byFile
	default:
		return byExt
	}
}
