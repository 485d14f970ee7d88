// Package storage persists the global index and per-file metadata records.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/roojs/semantic-code-search/internal/fileid"
	"github.com/roojs/semantic-code-search/internal/models"
)

// Backend is the durable layer under a Store. Implementations must make Commit atomic
// with respect to the global index: after a crash either the old or the new global index
// is readable, never a mix.
type Backend interface {
	// ReadGlobal returns the encoded global index, or nil when the location is fresh.
	ReadGlobal(ctx context.Context) ([]byte, error)
	// ReadRecord returns the encoded record stored under key, or nil when absent.
	ReadRecord(ctx context.Context, key string) ([]byte, error)
	// Commit writes changed records, deletes removed ones and replaces the global index.
	Commit(ctx context.Context, global []byte, put map[string][]byte, del []string) error
	DiskUsage() (int64, error)
	Name() string
	Close() error
}

// Store is the metadata store. Mutations are staged in memory and become durable on Persist.
// Store is safe for concurrent use; callers serialize mutation sequences themselves.
type Store struct {
	backend Backend

	mu      sync.RWMutex
	global  *models.GlobalIndex
	records map[string]*models.FileRecord // normalized path -> cached record
	dirty   map[string]struct{}           // paths whose record must be written
	deleted map[string]struct{}           // meta keys whose record must be removed
	loaded  bool
}

// New wraps a backend. Call Load before use.
func New(b Backend) *Store {
	return &Store{
		backend: b,
		records: make(map[string]*models.FileRecord),
		dirty:   make(map[string]struct{}),
		deleted: make(map[string]struct{}),
	}
}

// Load reads the global index. A fresh location yields an empty index; an unparsable or
// unsupported one yields ErrCorruptIndex.
func (s *Store) Load(ctx context.Context) (*models.GlobalIndex, error) {
	data, err := s.backend.ReadGlobal(ctx)
	if err != nil {
		return nil, fmt.Errorf("read global index: %w", err)
	}
	g := models.NewGlobalIndex()
	if data != nil {
		if err := json.Unmarshal(data, g); err != nil {
			return nil, fmt.Errorf("%w: global index: %v", models.ErrCorruptIndex, err)
		}
		if err := validateGlobal(g); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global = g
	s.records = make(map[string]*models.FileRecord)
	s.dirty = make(map[string]struct{})
	s.deleted = make(map[string]struct{})
	s.loaded = true
	return g.Clone(), nil
}

func validateGlobal(g *models.GlobalIndex) error {
	if g.SchemaVersion <= 0 || g.SchemaVersion > models.SchemaVersion {
		return fmt.Errorf("%w: unsupported schema version %d", models.ErrCorruptIndex, g.SchemaVersion)
	}
	if g.FileToMeta == nil {
		g.FileToMeta = make(map[string]string)
	}
	for path, key := range g.FileToMeta {
		if path == "" || key == "" {
			return fmt.Errorf("%w: empty file_to_meta entry", models.ErrCorruptIndex)
		}
	}
	if g.Dimensions < 0 {
		return fmt.Errorf("%w: negative dimensions", models.ErrCorruptIndex)
	}
	return nil
}

// Global returns a snapshot of the global index.
func (s *Store) Global() *models.GlobalIndex {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.global == nil {
		return models.NewGlobalIndex()
	}
	return s.global.Clone()
}

// Paths returns every indexed path in sorted order.
func (s *Store) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.global == nil {
		return nil
	}
	paths := make([]string, 0, len(s.global.FileToMeta))
	for p := range s.global.FileToMeta {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Len returns the number of indexed files.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.global == nil {
		return 0
	}
	return len(s.global.FileToMeta)
}

// GetRecord returns the record for a normalized path. ErrNotFound when the path is not
// indexed or its record belongs to a different path; ErrCorruptIndex when it cannot be decoded.
func (s *Store) GetRecord(ctx context.Context, path string) (*models.FileRecord, error) {
	s.mu.RLock()
	if !s.loaded {
		s.mu.RUnlock()
		return nil, fmt.Errorf("store not loaded")
	}
	if rec, ok := s.records[path]; ok {
		s.mu.RUnlock()
		return cloneRecord(rec), nil
	}
	key, ok := s.global.FileToMeta[path]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, path)
	}

	data, err := s.backend.ReadRecord(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read record %s: %w", key, err)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: record %s for %s", models.ErrNotFound, key, path)
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("record %s for %s: %w", key, path, err)
	}
	// Records written before paths were stored carry no path.
	if rec.Path == "" {
		rec.Path = path
	}
	if rec.Path != path {
		return nil, fmt.Errorf("%w: record %s belongs to %s", models.ErrNotFound, key, rec.Path)
	}

	s.mu.Lock()
	if _, staged := s.records[path]; !staged {
		s.records[path] = rec
	}
	s.mu.Unlock()
	return cloneRecord(rec), nil
}

func decodeRecord(data []byte) (*models.FileRecord, error) {
	var rec models.FileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrCorruptIndex, err)
	}
	if len(rec.VectorIDs) != len(rec.FunctionLines) {
		return nil, fmt.Errorf("%w: %d vector ids for %d functions", models.ErrCorruptIndex, len(rec.VectorIDs), len(rec.FunctionLines))
	}
	return &rec, nil
}

// PutRecord creates or wholesale replaces the record for a normalized path.
func (s *Store) PutRecord(ctx context.Context, path string, rec *models.FileRecord) error {
	if !rec.Valid() {
		return fmt.Errorf("invalid record for %s: %d ids, %d functions", path, len(rec.VectorIDs), len(rec.FunctionLines))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return fmt.Errorf("store not loaded")
	}
	c := cloneRecord(rec)
	c.Path = path
	key := fileid.MetaKey(path)
	s.global.FileToMeta[path] = key
	s.records[path] = c
	s.dirty[path] = struct{}{}
	delete(s.deleted, key)
	return nil
}

// DeleteRecord removes the record for path and returns the vector IDs it held.
// Deleting a path that is not indexed returns nil, nil.
func (s *Store) DeleteRecord(ctx context.Context, path string) ([]uint64, error) {
	rec, err := s.GetRecord(ctx, path)
	if err != nil && !errors.Is(err, models.ErrNotFound) && !errors.Is(err, models.ErrCorruptIndex) {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.global.FileToMeta[path]
	if !ok {
		return nil, nil
	}
	delete(s.global.FileToMeta, path)
	delete(s.records, path)
	delete(s.dirty, path)
	// A colliding path may still own the record stored under key.
	if !s.keyInUseLocked(key) {
		s.deleted[key] = struct{}{}
	}
	if rec == nil {
		return nil, nil
	}
	return rec.VectorIDs, nil
}

func (s *Store) keyInUseLocked(key string) bool {
	for _, k := range s.global.FileToMeta {
		if k == key {
			return true
		}
	}
	return false
}

// SetModel records the embedding model and vector width populating the index.
func (s *Store) SetModel(name string, dims int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global.ModelName = name
	s.global.Dimensions = dims
}

// SetNextVectorID stores the allocator's counter. It never moves backwards.
func (s *Store) SetNextVectorID(next uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next > s.global.NextVectorID {
		s.global.NextVectorID = next
	}
}

// Persist durably writes staged records and the global index.
func (s *Store) Persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return fmt.Errorf("store not loaded")
	}
	s.global.SchemaVersion = models.SchemaVersion
	put := make(map[string][]byte, len(s.dirty))
	for path := range s.dirty {
		rec := s.records[path]
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record for %s: %w", path, err)
		}
		put[s.global.FileToMeta[path]] = data
	}
	del := make([]string, 0, len(s.deleted))
	for key := range s.deleted {
		if _, rewritten := put[key]; !rewritten {
			del = append(del, key)
		}
	}
	sort.Strings(del)
	global, err := json.MarshalIndent(s.global, "", "  ")
	if err != nil {
		return fmt.Errorf("encode global index: %w", err)
	}
	if err := s.backend.Commit(ctx, global, put, del); err != nil {
		return fmt.Errorf("commit %s store: %w", s.backend.Name(), err)
	}
	s.dirty = make(map[string]struct{})
	s.deleted = make(map[string]struct{})
	return nil
}

// DiskUsage returns the bytes used by the backend.
func (s *Store) DiskUsage() (int64, error) {
	return s.backend.DiskUsage()
}

// Backend returns the backend name ("file" or "sqlite").
func (s *Store) Backend() string {
	return s.backend.Name()
}

// Close releases the backend. Unpersisted changes are discarded.
func (s *Store) Close() error {
	return s.backend.Close()
}

func cloneRecord(r *models.FileRecord) *models.FileRecord {
	c := *r
	c.VectorIDs = append([]uint64(nil), r.VectorIDs...)
	c.FunctionLines = append([]models.LineRange(nil), r.FunctionLines...)
	return &c
}
