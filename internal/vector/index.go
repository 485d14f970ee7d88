// Package vector provides the approximate-nearest-neighbor index primitive keyed by vector ID.
package vector

import (
	"context"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// VectorIndex stores L2-normalized vectors under caller-assigned IDs and answers
// inner-product nearest-neighbor queries.
type VectorIndex interface {
	// Add inserts vectors under ids. An ID already present is an error.
	Add(ctx context.Context, ids []uint64, vectors [][]float32) error
	// Search returns up to k hits ordered by descending score. A non-nil allowed set
	// restricts candidates before ranking; an empty set yields no hits.
	Search(ctx context.Context, query []float32, k int, allowed *roaring64.Bitmap) ([]*VectorResult, error)
	// Remove deletes ids; unknown IDs are ignored.
	Remove(ctx context.Context, ids []uint64) error
	Contains(id uint64) bool
	// IDs returns every live ID.
	IDs() *roaring64.Bitmap
	// Vector returns a copy of the stored (normalized) vector.
	Vector(id uint64) ([]float32, bool)
	Dimensions() int
	Save(path string) error
	Load(path string) error
	Size() int
	Type() string
	Close() error
}

// VectorResult is a single search hit.
type VectorResult struct {
	ID    uint64
	Score float64 // inner product of normalized vectors
}
