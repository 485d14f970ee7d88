package vector

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeMemory uses in-memory brute-force search. Good for small repositories.
	IndexTypeMemory IndexType = "memory"
	// IndexTypeFAISS uses FAISS (IndexIDMap2 over IndexFlatIP).
	// Requires the FAISS C library and build tag -tags=faiss.
	IndexTypeFAISS IndexType = "faiss"
)

// NewVectorIndex creates a vector index of the specified type.
// Supported types: "memory" (default), "faiss".
func NewVectorIndex(indexType string, dimensions int) (VectorIndex, error) {
	switch IndexType(indexType) {
	case IndexTypeMemory, "":
		return NewMemoryIndex(dimensions)
	case IndexTypeFAISS:
		return NewFAISSIndex(dimensions)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, faiss)", indexType)
	}
}

// IsFAISSAvailable returns true if FAISS support is compiled in.
func IsFAISSAvailable() bool {
	idx, err := NewFAISSIndex(1)
	if err != nil {
		return false
	}
	_ = idx.Close()
	return true
}

func clampK(k, size int, allowed *roaring64.Bitmap) int {
	if k > size {
		k = size
	}
	if allowed != nil {
		if c := allowed.GetCardinality(); uint64(k) > c {
			k = int(c)
		}
	}
	return k
}
