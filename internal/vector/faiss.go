//go:build faiss && cgo
// +build faiss,cgo

package vector

/*
#cgo CFLAGS: -I/opt/homebrew/include -I/usr/local/include
#cgo LDFLAGS: -L/opt/homebrew/lib -L/usr/local/lib -lfaiss_c

#include <stdlib.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/IndexFlat_c.h>
#include <faiss/c_api/MetaIndexes_c.h>
#include <faiss/c_api/impl/AuxIndexStructures_c.h>
#include <faiss/c_api/index_io_c.h>
#include <faiss/c_api/error_c.h>
*/
import "C"

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"unsafe"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/roojs/semantic-code-search/internal/atomicfile"
	"github.com/roojs/semantic-code-search/internal/models"
)

// FAISSIndex wraps an IndexIDMap2 over IndexFlatIP so that FAISS stores our vector IDs
// directly and supports removal and reconstruction by ID.
type FAISSIndex struct {
	index      *C.FaissIndex
	dimensions int
	ids        *roaring64.Bitmap
	mu         sync.RWMutex
}

// NewFAISSIndex creates a FAISS index with the given dimension using inner product.
func NewFAISSIndex(dimensions int) (*FAISSIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	var flat *C.FaissIndexFlatIP
	if ret := C.faiss_IndexFlatIP_new_with(&flat, C.idx_t(dimensions)); ret != 0 {
		return nil, fmt.Errorf("failed to create FAISS index: %s", faissLastError())
	}
	var idmap *C.FaissIndexIDMap2
	if ret := C.faiss_IndexIDMap2_new(&idmap, flat); ret != 0 {
		C.faiss_Index_free(flat)
		return nil, fmt.Errorf("failed to create FAISS id map: %s", faissLastError())
	}
	C.faiss_IndexIDMap2_set_own_fields(idmap, 1)
	return &FAISSIndex{
		index:      idmap,
		dimensions: dimensions,
		ids:        roaring64.New(),
	}, nil
}

func faissLastError() string {
	cErr := C.faiss_get_last_error()
	if cErr == nil {
		return "unknown error"
	}
	return C.GoString(cErr)
}

func newSelector(ids []uint64) (*C.FaissIDSelectorBatch, error) {
	labels := make([]C.idx_t, len(ids))
	for i, id := range ids {
		labels[i] = C.idx_t(id)
	}
	var sel *C.FaissIDSelectorBatch
	var ptr *C.idx_t
	if len(labels) > 0 {
		ptr = &labels[0]
	}
	if ret := C.faiss_IDSelectorBatch_new(&sel, C.size_t(len(labels)), ptr); ret != 0 {
		return nil, fmt.Errorf("create id selector: %s", faissLastError())
	}
	return sel, nil
}

// Dimensions returns the vector width.
func (f *FAISSIndex) Dimensions() int {
	return f.dimensions
}

// Add normalizes vectors and inserts them under ids.
func (f *FAISSIndex) Add(ctx context.Context, ids []uint64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	if len(ids) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(vectors)
	flat := make([]float32, n*f.dimensions)
	labels := make([]C.idx_t, n)
	for i, vec := range vectors {
		if len(vec) != f.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vec), f.dimensions)
		}
		if f.ids.Contains(ids[i]) {
			return fmt.Errorf("vector id %d already present", ids[i])
		}
		copy(flat[i*f.dimensions:(i+1)*f.dimensions], Normalized(vec))
		labels[i] = C.idx_t(ids[i])
	}
	ret := C.faiss_Index_add_with_ids(
		f.index,
		C.idx_t(n),
		(*C.float)(unsafe.Pointer(&flat[0])),
		&labels[0],
	)
	if ret != 0 {
		return fmt.Errorf("failed to add vectors to FAISS index: %s", faissLastError())
	}
	f.ids.AddMany(ids)
	return nil
}

// Search returns the top-k vectors by inner product. A non-nil allowed set is passed to
// FAISS as an ID selector so filtering happens inside the search.
func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int, allowed *roaring64.Bitmap) ([]*VectorResult, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), f.dimensions)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	k = clampK(k, int(f.ids.GetCardinality()), allowed)
	if k <= 0 {
		return nil, nil
	}
	q := Normalized(query)
	distances := make([]float32, k)
	labels := make([]C.idx_t, k)

	var ret C.int
	if allowed != nil {
		sel, err := newSelector(allowed.ToArray())
		if err != nil {
			return nil, err
		}
		defer C.faiss_IDSelector_free((*C.FaissIDSelector)(unsafe.Pointer(sel)))
		var params *C.FaissSearchParameters
		if r := C.faiss_SearchParameters_new(&params, (*C.FaissIDSelector)(unsafe.Pointer(sel))); r != 0 {
			return nil, fmt.Errorf("create search parameters: %s", faissLastError())
		}
		defer C.faiss_SearchParameters_free(params)
		ret = C.faiss_Index_search_with_params(
			f.index, 1,
			(*C.float)(unsafe.Pointer(&q[0])),
			C.idx_t(k), params,
			(*C.float)(unsafe.Pointer(&distances[0])),
			&labels[0],
		)
	} else {
		ret = C.faiss_Index_search(
			f.index, 1,
			(*C.float)(unsafe.Pointer(&q[0])),
			C.idx_t(k),
			(*C.float)(unsafe.Pointer(&distances[0])),
			&labels[0],
		)
	}
	if ret != 0 {
		return nil, fmt.Errorf("FAISS search failed: %s", faissLastError())
	}

	results := make([]*VectorResult, 0, k)
	for i := 0; i < k; i++ {
		if labels[i] < 0 {
			continue
		}
		results = append(results, &VectorResult{ID: uint64(labels[i]), Score: float64(distances[i])})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

// Remove deletes vectors by ID.
func (f *FAISSIndex) Remove(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	sel, err := newSelector(ids)
	if err != nil {
		return err
	}
	defer C.faiss_IDSelector_free((*C.FaissIDSelector)(unsafe.Pointer(sel)))
	var removed C.size_t
	if ret := C.faiss_Index_remove_ids(f.index, (*C.FaissIDSelector)(unsafe.Pointer(sel)), &removed); ret != 0 {
		return fmt.Errorf("FAISS remove failed: %s", faissLastError())
	}
	for _, id := range ids {
		f.ids.Remove(id)
	}
	return nil
}

// Contains reports whether id is live.
func (f *FAISSIndex) Contains(id uint64) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.ids.Contains(id)
}

// IDs returns a copy of the live ID set.
func (f *FAISSIndex) IDs() *roaring64.Bitmap {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.ids.Clone()
}

// Vector reconstructs the stored vector for id.
func (f *FAISSIndex) Vector(id uint64) ([]float32, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.ids.Contains(id) {
		return nil, false
	}
	out := make([]float32, f.dimensions)
	if ret := C.faiss_Index_reconstruct(f.index, C.idx_t(id), (*C.float)(unsafe.Pointer(&out[0]))); ret != 0 {
		return nil, false
	}
	return out, true
}

// Save writes the FAISS index to path+".faiss" and the live ID set to path+".ids".
func (f *FAISSIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	// FAISS writes in place; write to a sibling and rename for atomicity.
	tmp := path + ".faiss.tmp"
	cPath := C.CString(tmp)
	defer C.free(unsafe.Pointer(cPath))
	if ret := C.faiss_write_index_fname(f.index, cPath); ret != 0 {
		return fmt.Errorf("failed to save FAISS index: %s", faissLastError())
	}
	if err := os.Rename(tmp, path+".faiss"); err != nil {
		return fmt.Errorf("rename FAISS index: %w", err)
	}
	return atomicfile.Write(path+".ids", 0644, func(w io.Writer) error {
		_, err := f.ids.WriteTo(w)
		return err
	})
}

// Load reads the index and ID set from path. Missing files leave the index unchanged.
func (f *FAISSIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	faissPath := path + ".faiss"
	if _, err := os.Stat(faissPath); os.IsNotExist(err) {
		return nil
	}
	idsFile, err := os.Open(path + ".ids")
	if err != nil {
		return fmt.Errorf("%w: open id set: %v", models.ErrCorruptIndex, err)
	}
	defer idsFile.Close()
	ids := roaring64.New()
	if _, err := ids.ReadFrom(idsFile); err != nil {
		return fmt.Errorf("%w: decode id set: %v", models.ErrCorruptIndex, err)
	}

	cPath := C.CString(faissPath)
	defer C.free(unsafe.Pointer(cPath))
	var loaded *C.FaissIndex
	if ret := C.faiss_read_index_fname(cPath, 0, &loaded); ret != 0 {
		return fmt.Errorf("%w: load FAISS index: %s", models.ErrCorruptIndex, faissLastError())
	}
	if d := int(C.faiss_Index_d(loaded)); d != f.dimensions {
		C.faiss_Index_free(loaded)
		return fmt.Errorf("dimension mismatch: file has %d, index expects %d", d, f.dimensions)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
	}
	f.index = loaded
	f.ids = ids
	return nil
}

// Size returns the number of live vectors.
func (f *FAISSIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return int(f.ids.GetCardinality())
}

// Close frees the FAISS index resources.
func (f *FAISSIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
		f.index = nil
	}
	return nil
}

// Type returns the index type identifier.
func (f *FAISSIndex) Type() string {
	return string(IndexTypeFAISS)
}
