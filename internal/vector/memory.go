package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/klauspost/compress/zstd"

	"github.com/roojs/semantic-code-search/internal/atomicfile"
	"github.com/roojs/semantic-code-search/internal/models"
)

const (
	snapshotMagic   = "SCVI"
	snapshotVersion = uint32(1)
)

// MemoryIndex is an in-memory vector index using brute-force inner product search.
type MemoryIndex struct {
	dimensions int
	vectors    map[uint64][]float32
	ids        *roaring64.Bitmap
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		vectors:    make(map[uint64][]float32),
		ids:        roaring64.New(),
	}, nil
}

// Type returns the index type identifier.
func (m *MemoryIndex) Type() string {
	return string(IndexTypeMemory)
}

// Dimensions returns the vector width.
func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}

// Add normalizes and stores vectors under ids. The batch is rejected as a whole on error.
func (m *MemoryIndex) Add(ctx context.Context, ids []uint64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[uint64]struct{}, len(ids))
	for i, id := range ids {
		if len(vectors[i]) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vectors[i]), m.dimensions)
		}
		if _, ok := m.vectors[id]; ok {
			return fmt.Errorf("vector id %d already present", id)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("vector id %d repeated in batch", id)
		}
		seen[id] = struct{}{}
	}
	for i, id := range ids {
		m.vectors[id] = Normalized(vectors[i])
		m.ids.Add(id)
	}
	return nil
}

// Search returns the top-k vectors by inner product, restricted to allowed when non-nil.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int, allowed *roaring64.Bitmap) ([]*VectorResult, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	k = clampK(k, len(m.vectors), allowed)
	if k <= 0 {
		return nil, nil
	}
	q := Normalized(query)

	candidates := m.ids
	if allowed != nil {
		candidates = roaring64.And(m.ids, allowed)
	}
	scores := make([]*VectorResult, 0, candidates.GetCardinality())
	it := candidates.Iterator()
	for it.HasNext() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := it.Next()
		scores = append(scores, &VectorResult{ID: id, Score: InnerProduct(q, m.vectors[id])})
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].ID < scores[j].ID
	})
	if k > len(scores) {
		k = len(scores)
	}
	return scores[:k], nil
}

// Remove deletes vectors by ID.
func (m *MemoryIndex) Remove(ctx context.Context, ids []uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.vectors, id)
		m.ids.Remove(id)
	}
	return nil
}

// Contains reports whether id is live.
func (m *MemoryIndex) Contains(id uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ids.Contains(id)
}

// IDs returns a copy of the live ID set.
func (m *MemoryIndex) IDs() *roaring64.Bitmap {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ids.Clone()
}

// Vector returns a copy of the stored vector for id.
func (m *MemoryIndex) Vector(id uint64) ([]float32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vectors[id]
	if !ok {
		return nil, false
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out, true
}

// Save writes a zstd-compressed snapshot to path atomically. Format (little endian, before
// compression): magic "SCVI", version (4), dimensions (4), n (8), then per vector in ID
// order: id (8) and dimensions*4 bytes.
func (m *MemoryIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return atomicfile.Write(path, 0644, func(w io.Writer) error {
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return fmt.Errorf("create zstd writer: %w", err)
		}
		if err := m.writeSnapshot(enc); err != nil {
			_ = enc.Close()
			return err
		}
		return enc.Close()
	})
}

func (m *MemoryIndex) writeSnapshot(w io.Writer) error {
	if _, err := io.WriteString(w, snapshotMagic); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	header := []any{snapshotVersion, uint32(m.dimensions), uint64(len(m.vectors))}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	idBuf := make([]byte, 8)
	it := m.ids.Iterator()
	for it.HasNext() {
		id := it.Next()
		binary.LittleEndian.PutUint64(idBuf, id)
		if _, err := w.Write(idBuf); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if _, err := w.Write(float32SliceToBytes(m.vectors[id])); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// Load reads a snapshot from path and replaces the in-memory contents. Dimensions must match.
// If the file does not exist, no error is returned and the index is unchanged.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(bufio.NewReader(f))
	if err != nil {
		return fmt.Errorf("%w: open zstd stream: %v", models.ErrCorruptIndex, err)
	}
	defer dec.Close()

	vectors, ids, err := m.readSnapshot(dec)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors = vectors
	m.ids = ids
	return nil
}

func (m *MemoryIndex) readSnapshot(r io.Reader) (map[uint64][]float32, *roaring64.Bitmap, error) {
	corrupt := func(what string, err error) error {
		return fmt.Errorf("%w: read %s: %v", models.ErrCorruptIndex, what, err)
	}
	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, nil, corrupt("magic", err)
	}
	if string(magic) != snapshotMagic {
		return nil, nil, fmt.Errorf("%w: bad snapshot magic %q", models.ErrCorruptIndex, magic)
	}
	var version, dim uint32
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, nil, corrupt("version", err)
	}
	if version > snapshotVersion {
		return nil, nil, fmt.Errorf("%w: snapshot version %d not supported", models.ErrCorruptIndex, version)
	}
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, nil, corrupt("dimensions", err)
	}
	if int(dim) != m.dimensions {
		return nil, nil, fmt.Errorf("dimension mismatch: file has %d, index expects %d", dim, m.dimensions)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, nil, corrupt("count", err)
	}
	vectors := make(map[uint64][]float32)
	ids := roaring64.New()
	idBuf := make([]byte, 8)
	buf := make([]byte, m.dimensions*4)
	for i := uint64(0); i < n; i++ {
		if _, err := io.ReadFull(r, idBuf); err != nil {
			return nil, nil, corrupt("id", err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, nil, corrupt("vector", err)
		}
		id := binary.LittleEndian.Uint64(idBuf)
		vectors[id] = bytesToFloat32Slice(buf)
		ids.Add(id)
	}
	var extra [1]byte
	if _, err := r.Read(extra[:]); !errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("%w: trailing data after %d vectors", models.ErrCorruptIndex, n)
	}
	return vectors, ids, nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vectors)
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
