package engine

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/roojs/semantic-code-search/internal/config"
	"github.com/roojs/semantic-code-search/internal/embedding"
	"github.com/roojs/semantic-code-search/internal/models"
	"github.com/roojs/semantic-code-search/internal/storage"
	"github.com/roojs/semantic-code-search/internal/vector"
	"github.com/roojs/semantic-code-search/pkg/utils"
)

// OpenConfig assembles the store, embedder and vector index described by cfg and opens
// an engine on them. Extra options are applied after the ones derived from cfg.
func OpenConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Engine, error) {
	logger = utils.OrNop(logger)
	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	emb, err := NewEmbedder(cfg, logger)
	if err != nil {
		return nil, err
	}

	index, err := vector.NewVectorIndex(cfg.Vector.IndexType, emb.Dimensions())
	if err != nil {
		// FAISS is only compiled in with -tags=faiss.
		if cfg.Vector.IndexType == string(vector.IndexTypeMemory) || cfg.Vector.IndexType == "" {
			_ = emb.Close()
			return nil, fmt.Errorf("failed to initialize vector index: %w", err)
		}
		logger.Warn("failed to create vector index, falling back to memory",
			zap.String("requested_type", cfg.Vector.IndexType),
			zap.Error(err))
		if index, err = vector.NewMemoryIndex(emb.Dimensions()); err != nil {
			_ = emb.Close()
			return nil, fmt.Errorf("failed to initialize vector index: %w", err)
		}
	}

	var store *storage.Store
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		store, err = storage.NewSQLiteStore(cfg.Storage.SQLitePath())
	default:
		store, err = storage.NewFileStore(cfg.Storage.DataDir)
	}
	if err != nil {
		_ = emb.Close()
		_ = index.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	base := []Option{
		WithLogger(logger),
		WithIndexPath(cfg.Storage.VectorIndexPath()),
		WithLock(cfg.Storage.LockPath()),
		WithBatchSize(cfg.Embedding.BatchSize),
	}
	e, err := Open(ctx, store, index, emb, append(base, opts...)...)
	if err != nil {
		_ = errors.Join(store.Close(), index.Close(), emb.Close())
		return nil, err
	}
	logger.Debug("engine initialized",
		zap.String("backend", store.Backend()),
		zap.String("index_type", index.Type()),
		zap.String("model", emb.Model()),
		zap.Bool("faiss_available", vector.IsFAISSAvailable()))
	return e, nil
}

// NewEmbedder builds the configured embedder. When the model cannot be loaded and
// fallback is enabled, a mock embedder of the same width is used instead; it reports its
// own model name, so an index built by the real model refuses it.
func NewEmbedder(cfg *config.Config, logger *zap.Logger) (embedding.Embedder, error) {
	opts := embedding.Options{
		Provider:   cfg.Embedding.Provider,
		ModelName:  cfg.Embedding.ModelName,
		ModelPath:  cfg.Embedding.ModelPath,
		Dimensions: cfg.Embedding.Dimensions,
		MaxTokens:  cfg.Embedding.MaxTokens,
		CacheSize:  cfg.Embedding.CacheSize,
	}
	emb, err := embedding.New(opts)
	if err == nil {
		return emb, nil
	}
	if !errors.Is(err, models.ErrModelUnavailable) || !cfg.Embedding.FallbackOrDefault() || opts.Provider == embedding.ProviderMock {
		return nil, err
	}
	utils.OrNop(logger).Warn("embedding model unavailable, using mock embedder",
		zap.String("model", cfg.Embedding.ModelName),
		zap.Error(err))
	opts.Provider = embedding.ProviderMock
	opts.ModelName = ""
	return embedding.New(opts)
}
