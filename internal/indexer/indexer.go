// Package indexer parses source files and feeds their functions to the sync engine.
package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roojs/semantic-code-search/internal/fileid"
	"github.com/roojs/semantic-code-search/internal/models"
	"github.com/roojs/semantic-code-search/internal/parser"
	"github.com/roojs/semantic-code-search/pkg/utils"
)

// Syncer applies parsed files to the index. *engine.Engine implements it.
type Syncer interface {
	SyncBatch(ctx context.Context, inputs []models.FileInput, force bool) (*models.BatchSummary, error)
	RemoveFile(ctx context.Context, path string) error
}

// Indexer parses files concurrently and syncs them in one batch.
type Indexer struct {
	syncer      Syncer
	extractor   *parser.Extractor
	workers     int
	extensions  []string
	excludeDirs map[string]struct{}
	logger      *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output (file parsed, file removed, etc.).
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithWorkers bounds the number of files parsed at once.
func WithWorkers(n int) IndexerOption {
	return func(idx *Indexer) {
		if n > 0 {
			idx.workers = n
		}
	}
}

// WithExtensions restricts directory walks and single-file indexing to these extensions.
func WithExtensions(exts []string) IndexerOption {
	return func(idx *Indexer) { idx.extensions = exts }
}

// WithExcludeDirs names directories skipped while walking.
func WithExcludeDirs(dirs []string) IndexerOption {
	return func(idx *Indexer) {
		for _, d := range dirs {
			idx.excludeDirs[d] = struct{}{}
		}
	}
}

// NewIndexer creates an indexer that syncs through s using extractor.
func NewIndexer(s Syncer, extractor *parser.Extractor, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		syncer:      s,
		extractor:   extractor,
		workers:     runtime.NumCPU(),
		excludeDirs: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.logger = utils.OrNop(idx.logger)
	return idx
}

// Parse extracts the functions of each path concurrently. The result is in input order;
// a file that cannot be parsed carries its error instead of functions.
func (idx *Indexer) Parse(ctx context.Context, paths []string) ([]models.FileInput, error) {
	inputs := make([]models.FileInput, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.workers)
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			norm, err := fileid.Normalize(p)
			if err != nil {
				inputs[i] = models.FileInput{Path: p, Err: err}
				return nil
			}
			fns, err := idx.extractor.Extract(gctx, norm)
			inputs[i] = models.FileInput{Path: norm, Functions: fns, Err: err}
			idx.logger.Debug("indexer parsed file", zap.String("path", norm), zap.Int("functions", len(fns)), zap.Error(err))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return inputs, nil
}

// IndexFiles parses and syncs paths as one batch.
func (idx *Indexer) IndexFiles(ctx context.Context, paths []string, force bool) (*models.BatchSummary, error) {
	inputs, err := idx.Parse(ctx, paths)
	if err != nil {
		return nil, err
	}
	return idx.syncer.SyncBatch(ctx, inputs, force)
}

// IndexFile indexes a single file. The file's extension must be allowed.
func (idx *Indexer) IndexFile(ctx context.Context, path string, force bool) (*models.SyncResult, error) {
	if !idx.Allowed(path) {
		return nil, fmt.Errorf("extension %q not in allowed list", models.LowerExt(path))
	}
	summary, err := idx.IndexFiles(ctx, []string{path}, force)
	if err != nil {
		return nil, err
	}
	if len(summary.Results) == 0 {
		return nil, fmt.Errorf("no result for %s", path)
	}
	return summary.Results[0], nil
}

// IndexManifest syncs the files listed in an embed manifest.
func (idx *Indexer) IndexManifest(ctx context.Context, m *parser.Manifest, force bool) (*models.BatchSummary, error) {
	inputs, err := m.Inputs(ctx, idx.extractor)
	if err != nil {
		return nil, err
	}
	return idx.syncer.SyncBatch(ctx, inputs, force)
}

// IndexDirectory walks dir recursively and syncs every file with an allowed extension
// that a parser can handle. Excluded directories are not entered.
func (idx *Indexer) IndexDirectory(ctx context.Context, dir string, force bool) (*models.BatchSummary, error) {
	files, err := idx.Collect(dir)
	if err != nil {
		return nil, err
	}
	idx.logger.Debug("indexer walking directory", zap.String("dir", dir), zap.Int("files", len(files)))
	return idx.IndexFiles(ctx, files, force)
}

// Collect lists the indexable files under dir.
func (idx *Indexer) Collect(dir string) ([]string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absDir)
	}
	var files []string
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if _, skip := idx.excludeDirs[d.Name()]; skip && path != absDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !idx.Indexable(path) {
			return nil
		}
		// Resolve symlinks so we only index regular files
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

// Allowed reports whether path's extension passes the configured list. An empty list allows all.
func (idx *Indexer) Allowed(path string) bool {
	return len(idx.extensions) == 0 || extensionAllowed(filepath.Ext(path), idx.extensions)
}

// Indexable reports whether path has an allowed extension and a parser that can handle it.
func (idx *Indexer) Indexable(path string) bool {
	return idx.Allowed(path) && idx.extractor.Handles(path)
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	if extNorm == "" {
		return false
	}
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}

// DeleteFile removes a file's functions from the index.
func (idx *Indexer) DeleteFile(ctx context.Context, path string) error {
	idx.logger.Debug("indexer deleting file", zap.String("path", path))
	if err := idx.syncer.RemoveFile(ctx, path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}
