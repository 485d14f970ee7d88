package vector

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/roojs/semantic-code-search/internal/models"
)

func TestMemoryIndex_AddSearch(t *testing.T) {
	idx, err := NewMemoryIndex(3)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()

	vecs := [][]float32{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0, 1, 0},
	}
	if err := idx.Add(ctx, []uint64{0, 1, 2}, vecs); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 3 {
		t.Errorf("Size=%d", idx.Size())
	}

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != 0 {
		t.Errorf("top result should be 0, got %d", results[0].ID)
	}
	if results[0].Score < results[1].Score {
		t.Error("results should be ordered by descending score")
	}
}

func TestMemoryIndex_AddNormalizes(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	_ = idx.Add(context.Background(), []uint64{7}, [][]float32{{3, 4}})
	v, ok := idx.Vector(7)
	if !ok {
		t.Fatal("vector 7 missing")
	}
	if math.Abs(L2Norm(v)-1) > 1e-6 {
		t.Errorf("stored vector not normalized: norm=%f", L2Norm(v))
	}
}

func TestMemoryIndex_AddDuplicateID(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	if err := idx.Add(ctx, []uint64{1}, [][]float32{{1, 0}}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Add(ctx, []uint64{2, 1}, [][]float32{{0, 1}, {1, 0}}); err == nil {
		t.Fatal("expected error for duplicate id")
	}
	if idx.Size() != 1 || idx.Contains(2) {
		t.Error("failed batch must not be partially applied")
	}
}

func TestMemoryIndex_SearchAllowed(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Add(ctx, []uint64{1, 2, 3}, [][]float32{{1, 0}, {0.8, 0.2}, {0, 1}})

	results, err := idx.Search(ctx, []float32{1, 0}, 5, roaring64.BitmapOf(3))
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != 3 {
		t.Errorf("expected only id 3, got %+v", results)
	}

	results, err = idx.Search(ctx, []float32{1, 0}, 5, roaring64.New())
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("empty allowed set should yield no hits, got %d", len(results))
	}

	// IDs in the allowed set that are not in the index are ignored.
	results, _ = idx.Search(ctx, []float32{1, 0}, 5, roaring64.BitmapOf(2, 99))
	if len(results) != 1 || results[0].ID != 2 {
		t.Errorf("unexpected results %+v", results)
	}
}

func TestMemoryIndex_Remove(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Add(ctx, []uint64{1, 2}, [][]float32{{1, 0}, {0, 1}})
	if err := idx.Remove(ctx, []uint64{1, 42}); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 1 {
		t.Errorf("expected size 1, got %d", idx.Size())
	}
	if idx.Contains(1) || !idx.Contains(2) {
		t.Error("wrong id removed")
	}
	if got := idx.IDs().ToArray(); len(got) != 1 || got[0] != 2 {
		t.Errorf("IDs = %v", got)
	}
}

func TestMemoryIndex_SaveLoad(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Add(ctx, []uint64{5, 9}, [][]float32{{1, 0}, {0, 1}})
	path := filepath.Join(t.TempDir(), "sub", "index.vec")
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, _ := NewMemoryIndex(2)
	if err := loaded.Load(path); err != nil {
		t.Fatal(err)
	}
	if loaded.Size() != 2 || !loaded.Contains(5) || !loaded.Contains(9) {
		t.Fatalf("loaded ids = %v", loaded.IDs().ToArray())
	}
	results, _ := loaded.Search(ctx, []float32{0, 1}, 1, nil)
	if len(results) != 1 || results[0].ID != 9 {
		t.Errorf("unexpected results after load: %+v", results)
	}
}

func TestMemoryIndex_LoadMissing(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	if err := idx.Load(filepath.Join(t.TempDir(), "nope")); err != nil {
		t.Errorf("missing file should not error: %v", err)
	}
}

func TestMemoryIndex_LoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.vec")
	if err := os.WriteFile(path, []byte("not zstd"), 0644); err != nil {
		t.Fatal(err)
	}
	idx, _ := NewMemoryIndex(2)
	err := idx.Load(path)
	if !errors.Is(err, models.ErrCorruptIndex) {
		t.Errorf("expected ErrCorruptIndex, got %v", err)
	}
}

func TestMemoryIndex_LoadDimensionMismatch(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	_ = idx.Add(context.Background(), []uint64{1}, [][]float32{{1, 0}})
	path := filepath.Join(t.TempDir(), "index.vec")
	_ = idx.Save(path)
	other, _ := NewMemoryIndex(3)
	if err := other.Load(path); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestCosineDistance(t *testing.T) {
	if d := CosineDistance([]float32{1, 0}, []float32{1, 0}); d != 0 {
		t.Errorf("identical vectors distance = %f", d)
	}
	if d := CosineDistance([]float32{1, 0}, []float32{0, 1}); math.Abs(d-1) > 1e-9 {
		t.Errorf("orthogonal vectors distance = %f", d)
	}
}
