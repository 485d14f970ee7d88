// Package engine keeps the vector index and the metadata store in step: it adds, replaces
// and removes a file's function vectors, reconciles the two stores after a crash, and
// answers filtered nearest-neighbor queries.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/roojs/semantic-code-search/internal/allocator"
	"github.com/roojs/semantic-code-search/internal/change"
	"github.com/roojs/semantic-code-search/internal/embedding"
	"github.com/roojs/semantic-code-search/internal/fileid"
	"github.com/roojs/semantic-code-search/internal/filter"
	"github.com/roojs/semantic-code-search/internal/models"
	"github.com/roojs/semantic-code-search/internal/storage"
	"github.com/roojs/semantic-code-search/internal/vector"
	"github.com/roojs/semantic-code-search/pkg/utils"
)

// ErrReadOnly is returned by mutating calls on an engine opened with ReadOnly.
var ErrReadOnly = errors.New("engine opened read-only")

// Function is one indexed function: its vector ID and source location.
type Function struct {
	ID    uint64
	Path  string
	Lines models.LineRange
}

type owner struct {
	path  string
	lines models.LineRange
}

// Engine is safe for concurrent use. Mutations are serialized; queries run concurrently
// with each other and never observe a half-applied mutation.
type Engine struct {
	mu        sync.RWMutex
	store     *storage.Store
	index     vector.VectorIndex
	embedder  embedding.Embedder
	alloc     *allocator.Allocator
	logger    *zap.Logger
	lock      *fileLock
	indexPath string
	lockPath  string
	readOnly  bool
	reset     bool
	idLimit   uint64
	batchSize int

	// mismatch is set when the embedder cannot serve this index; every call returns it.
	mismatch error
	owners   map[uint64]owner
	byPath   map[string][]uint64
	// live holds every ID some record owns.
	live *roaring64.Bitmap
	// broken holds indexed paths whose record is unreadable or missing.
	broken map[string]error
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Nil means no logging.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithIndexPath sets where the vector index is loaded from and saved to.
// Without it the vector index lives only in memory.
func WithIndexPath(path string) Option {
	return func(e *Engine) { e.indexPath = path }
}

// WithLock guards the storage location with an advisory file lock at path.
func WithLock(path string) Option {
	return func(e *Engine) { e.lockPath = path }
}

// ReadOnly opens the engine for queries only. The lock, if any, is shared.
func ReadOnly() Option {
	return func(e *Engine) { e.readOnly = true }
}

// WithReset discards an index built by a different model instead of refusing to open it.
func WithReset() Option {
	return func(e *Engine) { e.reset = true }
}

// WithIDLimit lowers the exclusive upper bound of the vector ID space.
func WithIDLimit(limit uint64) Option {
	return func(e *Engine) { e.idLimit = limit }
}

// WithBatchSize caps how many functions are sent to the embedder in one call.
func WithBatchSize(n int) Option {
	return func(e *Engine) { e.batchSize = n }
}

// Open loads the store and vector index and prepares the engine. The engine takes
// ownership of store, index and emb and closes them in Close.
func Open(ctx context.Context, store *storage.Store, index vector.VectorIndex, emb embedding.Embedder, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:    store,
		index:    index,
		embedder: emb,
		idLimit:  allocator.DefaultLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = utils.OrNop(e.logger)
	if e.readOnly && e.reset {
		return nil, fmt.Errorf("reset requires a writable engine")
	}
	if index.Dimensions() != emb.Dimensions() {
		return nil, fmt.Errorf("vector index has %d dimensions, embedder %q produces %d", index.Dimensions(), emb.Model(), emb.Dimensions())
	}
	if e.lockPath != "" {
		lock, err := acquireLock(e.lockPath, !e.readOnly)
		if err != nil {
			return nil, err
		}
		e.lock = lock
	}
	if err := e.load(ctx); err != nil {
		_ = e.lock.release()
		return nil, err
	}
	return e, nil
}

func (e *Engine) load(ctx context.Context) error {
	global, err := e.store.Load(ctx)
	if err != nil {
		return err
	}
	if mm := e.checkModel(global); mm != nil {
		if !e.reset {
			e.mismatch = mm
			e.logger.Warn("index built by a different model", zap.String("indexed", mm.Indexed), zap.String("embedder", mm.Requested))
			e.alloc = allocator.New(global.NextVectorID, allocator.WithLimit(e.idLimit))
			e.owners = make(map[uint64]owner)
			e.byPath = make(map[string][]uint64)
			e.broken = make(map[string]error)
			e.live = roaring64.New()
			return nil
		}
	} else if err := e.index.Load(e.indexPath); err != nil {
		if !errors.Is(err, models.ErrCorruptIndex) {
			return fmt.Errorf("load vector index: %w", err)
		}
		// Records whose vectors are gone become dangling and are re-embedded on the next sync.
		e.logger.Warn("vector index unreadable, starting empty", zap.String("path", e.indexPath), zap.Error(err))
	}

	next, err := e.loadOwnership(ctx, global)
	if err != nil {
		return err
	}
	e.alloc = allocator.New(next, allocator.WithLimit(e.idLimit))

	if e.reset && e.checkModel(global) != nil {
		return e.resetLocked(ctx, global.ModelName)
	}
	if global.ModelName == "" {
		e.store.SetModel(e.embedder.Model(), e.embedder.Dimensions())
	}
	e.logger.Debug("engine opened",
		zap.Int("files", len(e.byPath)),
		zap.Int("vectors", e.index.Size()),
		zap.Uint64("next_id", next),
		zap.String("model", e.embedder.Model()))
	return nil
}

func (e *Engine) checkModel(g *models.GlobalIndex) *models.ModelMismatchError {
	if g.ModelName == "" {
		return nil
	}
	if g.ModelName != e.embedder.Model() || (g.Dimensions != 0 && g.Dimensions != e.embedder.Dimensions()) {
		return &models.ModelMismatchError{Indexed: g.ModelName, Requested: e.embedder.Model()}
	}
	return nil
}

// loadOwnership reads every record and returns the first ID that is safe to allocate:
// past the stored counter, every recorded ID and every ID in the vector index.
func (e *Engine) loadOwnership(ctx context.Context, global *models.GlobalIndex) (uint64, error) {
	e.owners = make(map[uint64]owner)
	e.byPath = make(map[string][]uint64)
	e.broken = make(map[string]error)
	e.live = roaring64.New()
	next := global.NextVectorID
	for _, path := range e.store.Paths() {
		rec, err := e.store.GetRecord(ctx, path)
		if err != nil {
			if errors.Is(err, models.ErrCorruptIndex) || errors.Is(err, models.ErrNotFound) {
				e.logger.Warn("unreadable file record", zap.String("path", path), zap.Error(err))
				e.broken[path] = err
				continue
			}
			return 0, err
		}
		e.own(path, rec)
		for _, id := range rec.VectorIDs {
			if id >= next {
				next = id + 1
			}
		}
	}
	if ids := e.index.IDs(); !ids.IsEmpty() {
		if m := ids.Maximum(); m >= next {
			next = m + 1
		}
	}
	return next, nil
}

func (e *Engine) own(path string, rec *models.FileRecord) {
	e.byPath[path] = append([]uint64(nil), rec.VectorIDs...)
	for i, id := range rec.VectorIDs {
		e.owners[id] = owner{path: path, lines: rec.FunctionLines[i]}
	}
	e.live.AddMany(rec.VectorIDs)
}

func (e *Engine) disown(path string) []uint64 {
	ids := e.byPath[path]
	for _, id := range ids {
		delete(e.owners, id)
		e.live.Remove(id)
	}
	delete(e.byPath, path)
	delete(e.broken, path)
	return ids
}

// resetLocked drops every record and vector so the index can be rebuilt by the current
// embedder. The ID counter keeps its value.
func (e *Engine) resetLocked(ctx context.Context, previous string) error {
	e.logger.Info("resetting index for new model", zap.String("previous", previous), zap.String("model", e.embedder.Model()))
	for _, path := range e.store.Paths() {
		if _, err := e.store.DeleteRecord(ctx, path); err != nil {
			return fmt.Errorf("reset %s: %w", path, err)
		}
		e.disown(path)
	}
	if ids := e.index.IDs(); !ids.IsEmpty() {
		if err := e.index.Remove(ctx, ids.ToArray()); err != nil {
			return fmt.Errorf("reset vector index: %w", err)
		}
	}
	e.store.SetModel(e.embedder.Model(), e.embedder.Dimensions())
	return e.persistLocked(ctx)
}

func (e *Engine) writable() error {
	if e.readOnly {
		return ErrReadOnly
	}
	return e.mismatch
}

// SyncFile brings the index up to date for one file given its extracted functions.
// Unchanged files are skipped. A changed file loses its old vectors before the new ones
// are added, so a failure part way leaves the file absent rather than duplicated.
// Per-file failures are returned as *models.FileError.
func (e *Engine) SyncFile(ctx context.Context, path string, functions []models.FunctionSpan, force bool) (*models.SyncResult, error) {
	if err := e.writable(); err != nil {
		return nil, err
	}
	norm, err := fileid.Normalize(path)
	if err != nil {
		return nil, &models.FileError{Path: path, Err: err}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncLocked(ctx, norm, functions, force)
}

func (e *Engine) syncLocked(ctx context.Context, path string, functions []models.FunctionSpan, force bool) (*models.SyncResult, error) {
	st, err := change.Compute(path)
	if err != nil {
		return nil, &models.FileError{Path: path, Err: err}
	}
	rec, err := e.store.GetRecord(ctx, path)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrCorruptIndex):
		rec = nil
	default:
		return nil, err
	}
	_, indexed := e.byPath[path]
	_, broken := e.broken[path]

	status := change.Detect(rec, st, force)
	e.logger.Debug("change detected", zap.String("path", path), zap.Stringer("status", status))
	if !status.NeedsEmbedding() {
		if status == change.Touched {
			rec.ModifiedTime = st.ModTime
			if err := e.store.PutRecord(ctx, path, rec); err != nil {
				return nil, err
			}
			if err := e.store.Persist(ctx); err != nil {
				return nil, err
			}
		}
		return &models.SyncResult{Path: path, Status: models.SyncSkipped, Functions: len(rec.VectorIDs)}, nil
	}

	var vecs [][]float32
	if len(functions) > 0 {
		texts := make([]string, len(functions))
		for i, fn := range functions {
			texts[i] = fn.Text
		}
		vecs, err = embedding.EmbedInBatches(ctx, e.embedder, texts, e.batchSize)
		if err != nil {
			return nil, &models.FileError{Path: path, Err: fmt.Errorf("embed: %w", err)}
		}
		if len(vecs) != len(functions) {
			return nil, &models.FileError{Path: path, Err: fmt.Errorf("%w: %d vectors for %d functions", models.ErrModelUnavailable, len(vecs), len(functions))}
		}
	}
	ids, err := e.alloc.Allocate(len(functions))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Remove before add.
	if indexed || broken || rec != nil {
		if err := e.evictLocked(ctx, path); err != nil {
			return nil, err
		}
	}
	result := &models.SyncResult{Path: path, Status: models.SyncAdded, Functions: len(functions)}
	if indexed || broken {
		result.Status = models.SyncUpdated
	}
	if len(functions) == 0 {
		if !indexed && !broken {
			result.Status = models.SyncSkipped
		}
		return result, e.persistLocked(ctx)
	}

	newIDs := ids.IDs()
	if err := e.index.Add(ctx, newIDs, vecs); err != nil {
		return nil, errors.Join(fmt.Errorf("add vectors for %s: %w", path, err), e.persistLocked(ctx))
	}
	newRec := &models.FileRecord{
		Path:               path,
		VectorIDs:          newIDs,
		FunctionLines:      make([]models.LineRange, len(functions)),
		ContentFingerprint: st.Fingerprint,
		ModifiedTime:       st.ModTime,
	}
	for i, fn := range functions {
		newRec.FunctionLines[i] = models.LineRange{fn.StartLine, fn.EndLine}
	}
	if err := e.store.PutRecord(ctx, path, newRec); err != nil {
		return nil, errors.Join(err, e.index.Remove(ctx, newIDs), e.persistLocked(ctx))
	}
	e.own(path, newRec)
	if err := e.persistLocked(ctx); err != nil {
		return nil, err
	}
	e.logger.Debug("file synced",
		zap.String("path", path),
		zap.String("status", string(result.Status)),
		zap.Int("functions", len(functions)),
		zap.Uint64("first_id", ids.Start))
	return result, nil
}

// evictLocked deletes the record for path and its vectors.
func (e *Engine) evictLocked(ctx context.Context, path string) error {
	ids, err := e.store.DeleteRecord(ctx, path)
	if err != nil {
		return fmt.Errorf("delete record %s: %w", path, err)
	}
	owned := e.disown(path)
	if len(ids) == 0 {
		ids = owned
	}
	if len(ids) == 0 {
		return nil
	}
	if err := e.index.Remove(ctx, ids); err != nil {
		return fmt.Errorf("remove vectors of %s: %w", path, err)
	}
	return nil
}

// persistLocked saves the vector index, then the metadata store.
func (e *Engine) persistLocked(ctx context.Context) error {
	e.store.SetNextVectorID(e.alloc.Next())
	if err := e.index.Save(e.indexPath); err != nil {
		return fmt.Errorf("save vector index: %w", err)
	}
	if err := e.store.Persist(ctx); err != nil {
		return err
	}
	return nil
}

// RemoveFile drops a file and its vectors from the index. Paths never indexed are a no-op.
func (e *Engine) RemoveFile(ctx context.Context, path string) error {
	if err := e.writable(); err != nil {
		return err
	}
	norm, err := fileid.Normalize(path)
	if err != nil {
		return &models.FileError{Path: path, Err: err}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.knownLocked(norm) {
		return nil
	}
	if err := e.evictLocked(ctx, norm); err != nil {
		return err
	}
	e.logger.Debug("file removed", zap.String("path", norm))
	return e.persistLocked(ctx)
}

func (e *Engine) knownLocked(path string) bool {
	if _, ok := e.byPath[path]; ok {
		return true
	}
	if _, ok := e.broken[path]; ok {
		return true
	}
	_, ok := e.store.Global().FileToMeta[path]
	return ok
}

// ReconcileOrphans repairs the damage an interrupted sync can leave behind. It drops
// unreadable records, records of files no longer on disk and records whose vectors are
// missing, then evicts vectors no record owns.
func (e *Engine) ReconcileOrphans(ctx context.Context) (*models.ReconcileReport, error) {
	if err := e.writable(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	report := &models.ReconcileReport{}
	broken := make([]string, 0, len(e.broken))
	for path := range e.broken {
		broken = append(broken, path)
	}
	sort.Strings(broken)
	for _, path := range broken {
		if err := e.evictLocked(ctx, path); err != nil {
			return nil, err
		}
		report.CorruptRecords = append(report.CorruptRecords, path)
	}

	for _, path := range sortedKeys(e.byPath) {
		if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := e.evictLocked(ctx, path); err != nil {
			return nil, err
		}
		report.MissingFiles = append(report.MissingFiles, path)
	}

	live := e.index.IDs()
	for _, path := range sortedKeys(e.byPath) {
		for _, id := range e.byPath[path] {
			if live.Contains(id) {
				continue
			}
			if err := e.evictLocked(ctx, path); err != nil {
				return nil, err
			}
			report.DanglingFiles = append(report.DanglingFiles, path)
			break
		}
	}

	live = e.index.IDs()
	var orphans []uint64
	it := live.Iterator()
	for it.HasNext() {
		if id := it.Next(); !e.ownedLocked(id) {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) > 0 {
		if err := e.index.Remove(ctx, orphans); err != nil {
			return nil, fmt.Errorf("evict orphan vectors: %w", err)
		}
		report.OrphanVectors = len(orphans)
	}

	if !report.Changed() {
		return report, nil
	}
	e.logger.Info("index reconciled",
		zap.Int("orphan_vectors", report.OrphanVectors),
		zap.Int("missing_files", len(report.MissingFiles)),
		zap.Int("dangling_files", len(report.DanglingFiles)),
		zap.Int("corrupt_records", len(report.CorruptRecords)))
	if err := e.persistLocked(ctx); err != nil {
		return nil, err
	}
	return report, nil
}

func (e *Engine) ownedLocked(id uint64) bool {
	_, ok := e.owners[id]
	return ok
}

func sortedKeys(m map[string][]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SyncBatch reconciles, then syncs every input. Per-file failures are recorded in the
// summary; an error that invalidates the whole index stops the batch and is returned.
func (e *Engine) SyncBatch(ctx context.Context, inputs []models.FileInput, force bool) (*models.BatchSummary, error) {
	summary := &models.BatchSummary{RunID: uuid.NewString()}
	log := e.logger.With(zap.String("run_id", summary.RunID))
	log.Info("sync batch started", zap.Int("files", len(inputs)), zap.Bool("force", force))

	if _, err := e.ReconcileOrphans(ctx); err != nil {
		if models.IsFatal(err) || errors.Is(err, ErrReadOnly) {
			summary.Fatal = err.Error()
			return summary, err
		}
		log.Warn("reconcile before sync failed", zap.Error(err))
	}

	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if in.Err != nil {
			summary.Record(failed(in.Path, in.Err))
			log.Warn("file not synced", zap.String("path", in.Path), zap.Error(in.Err))
			continue
		}
		res, err := e.SyncFile(ctx, in.Path, in.Functions, force)
		if err != nil {
			if models.IsFatal(err) {
				summary.Fatal = err.Error()
				log.Error("sync batch aborted", zap.String("path", in.Path), zap.Error(err))
				return summary, err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return summary, ctxErr
			}
			summary.Record(failed(in.Path, err))
			log.Warn("file not synced", zap.String("path", in.Path), zap.Error(err))
			continue
		}
		summary.Record(res)
	}
	log.Info("sync batch finished",
		zap.Int("added", summary.Added),
		zap.Int("updated", summary.Updated),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

func failed(path string, err error) *models.SyncResult {
	return &models.SyncResult{Path: path, Status: models.SyncFailed, Reason: models.Reason(err), Error: err.Error()}
}

// Query embeds the query text (unless a vector is given) and returns the nearest
// functions. The file and extension filter is resolved to an ID set that restricts the
// search itself, so a filtered query still returns up to Limit hits.
func (e *Engine) Query(ctx context.Context, req *models.QueryRequest) (*models.QueryResponse, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if e.mismatch != nil {
		return nil, e.mismatch
	}
	vec := req.Vector
	if len(vec) == 0 {
		var err error
		if vec, err = e.embedder.Embed(ctx, req.Text); err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
	}
	if len(vec) != e.index.Dimensions() {
		return nil, fmt.Errorf("query vector has %d dimensions, index has %d", len(vec), e.index.Dimensions())
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	var allowed *roaring64.Bitmap
	switch {
	case req.Filtered():
		allowed = filter.Resolve(ownership{e}, filter.Spec{Files: req.Files, Extensions: req.Extensions})
	case uint64(e.index.Size()) != e.live.GetCardinality():
		// Vectors without a record must not take result slots.
		allowed = e.live.Clone()
	}
	results, err := e.index.Search(ctx, vec, req.Limit, allowed)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	resp := &models.QueryResponse{Query: req.Text, Hits: make([]*models.QueryHit, 0, len(results))}
	for _, r := range results {
		o, ok := e.owners[r.ID]
		if !ok {
			continue
		}
		resp.Hits = append(resp.Hits, &models.QueryHit{
			VectorID:  r.ID,
			Path:      o.path,
			StartLine: o.lines[0],
			EndLine:   o.lines[1],
			Score:     r.Score,
		})
	}
	resp.QueryTime = time.Since(start).Milliseconds()
	return resp, nil
}

// ownership exposes the engine's ID map to the filter. Callers hold e.mu.
type ownership struct{ e *Engine }

func (o ownership) Lookup(path string) ([]uint64, bool) {
	ids, ok := o.e.byPath[path]
	return ids, ok
}

func (o ownership) Each(fn func(path string, ids []uint64) bool) {
	for path, ids := range o.e.byPath {
		if !fn(path, ids) {
			return
		}
	}
}

// Stats summarizes the index.
func (e *Engine) Stats(ctx context.Context) (*models.Stats, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	g := e.store.Global()
	usage, err := e.store.DiskUsage()
	if err != nil {
		return nil, fmt.Errorf("disk usage: %w", err)
	}
	if e.indexPath != "" {
		if n, err := storage.DiskUsageBytes(e.indexPath, e.indexPath+".faiss", e.indexPath+".ids"); err == nil {
			usage += n
		}
	}
	return &models.Stats{
		Files:         e.store.Len(),
		Vectors:       e.index.Size(),
		NextVectorID:  e.alloc.Next(),
		ModelName:     g.ModelName,
		Dimensions:    g.Dimensions,
		IndexType:     e.index.Type(),
		Backend:       e.store.Backend(),
		DiskUsage:     usage,
		SchemaVersion: g.SchemaVersion,
	}, nil
}

// Mismatch returns the model mismatch error when the embedder cannot serve this index.
func (e *Engine) Mismatch() error {
	return e.mismatch
}

// Model returns the embedder's model name.
func (e *Engine) Model() string {
	return e.embedder.Model()
}

// Vector returns the stored (normalized) vector for id.
func (e *Engine) Vector(id uint64) ([]float32, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.index.Vector(id)
}

// Functions lists every indexed function ordered by vector ID.
func (e *Engine) Functions() []Function {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Function, 0, len(e.owners))
	for id, o := range e.owners {
		out = append(out, Function{ID: id, Path: o.path, Lines: o.lines})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Record returns the stored record for path.
func (e *Engine) Record(ctx context.Context, path string) (*models.FileRecord, error) {
	norm, err := fileid.Normalize(path)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.GetRecord(ctx, norm)
}

// Close releases the lock and closes the store, vector index and embedder. Every
// mutation has already persisted both stores, so nothing is saved here.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return errors.Join(
		e.store.Close(),
		e.index.Close(),
		e.embedder.Close(),
		e.lock.release(),
	)
}
