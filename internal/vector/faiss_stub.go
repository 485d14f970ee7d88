//go:build !faiss || !cgo
// +build !faiss !cgo

package vector

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// FAISSIndex is a stub that returns an error when FAISS is not available.
// Build with -tags=faiss to enable FAISS support.
type FAISSIndex struct{}

var errFAISSUnavailable = fmt.Errorf("FAISS not available")

// NewFAISSIndex returns an error because FAISS is not available.
func NewFAISSIndex(dimensions int) (*FAISSIndex, error) {
	return nil, fmt.Errorf("FAISS not available: build with -tags=faiss and install FAISS library")
}

func (f *FAISSIndex) Add(ctx context.Context, ids []uint64, vectors [][]float32) error {
	return errFAISSUnavailable
}

func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int, allowed *roaring64.Bitmap) ([]*VectorResult, error) {
	return nil, errFAISSUnavailable
}

func (f *FAISSIndex) Remove(ctx context.Context, ids []uint64) error {
	return errFAISSUnavailable
}

func (f *FAISSIndex) Contains(id uint64) bool { return false }

func (f *FAISSIndex) IDs() *roaring64.Bitmap { return roaring64.New() }

func (f *FAISSIndex) Vector(id uint64) ([]float32, bool) { return nil, false }

func (f *FAISSIndex) Dimensions() int { return 0 }

func (f *FAISSIndex) Save(path string) error {
	return errFAISSUnavailable
}

func (f *FAISSIndex) Load(path string) error {
	return errFAISSUnavailable
}

// Size returns 0 without FAISS.
func (f *FAISSIndex) Size() int {
	return 0
}

// Close is a no-op without FAISS.
func (f *FAISSIndex) Close() error {
	return nil
}

// Type returns the index type identifier.
func (f *FAISSIndex) Type() string {
	return string(IndexTypeFAISS)
}
