// Package embedding turns function text into fixed-width vectors.
package embedding

import (
	"context"
	"fmt"

	"github.com/roojs/semantic-code-search/internal/models"
)

// Embedder produces vector embeddings for text. Output is deterministic for a given
// model name: the same text under the same model always yields the same vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	// Model names the model whose vectors this embedder produces.
	Model() string
	Close() error
}

const (
	ProviderMock = "mock"
	ProviderONNX = "onnx"
)

// Options selects and configures an embedder.
type Options struct {
	Provider   string
	ModelName  string
	ModelPath  string
	Dimensions int
	MaxTokens  int
	CacheSize  int
}

// New builds the embedder named by opts.Provider. Models that cannot be loaded yield
// ErrModelUnavailable.
func New(opts Options) (Embedder, error) {
	var e Embedder
	switch opts.Provider {
	case ProviderMock, "":
		e = NewMockEmbedder(opts.ModelName, opts.Dimensions)
	case ProviderONNX:
		onnx, err := NewONNXEmbedder(opts.ModelName, opts.ModelPath, opts.Dimensions, opts.MaxTokens)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", models.ErrModelUnavailable, opts.ModelName, err)
		}
		e = onnx
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", models.ErrModelUnavailable, opts.Provider)
	}
	if opts.CacheSize > 0 {
		return NewCachedEmbedder(e, opts.CacheSize), nil
	}
	return e, nil
}

// EmbedInBatches embeds texts in consecutive calls of at most size texts each, keeping
// the input order. A size of zero or less embeds everything in one call.
func EmbedInBatches(ctx context.Context, e Embedder, texts []string, size int) ([][]float32, error) {
	if size <= 0 || len(texts) <= size {
		return e.EmbedBatch(ctx, texts)
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		vecs, err := e.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), end-start)
		}
		out = append(out, vecs...)
	}
	return out, nil
}
