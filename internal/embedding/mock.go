package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/roojs/semantic-code-search/pkg/utils"
)

// DefaultMockModel is the model name reported by a MockEmbedder created without one.
const DefaultMockModel = "mock-hash-v1"

// MockEmbedder is a deterministic embedder for tests and offline use. It hashes the
// identifier words of the text into a signed bag-of-words vector, so texts sharing
// words land close together. The model name seeds the hash.
type MockEmbedder struct {
	model      string
	dimensions int
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(model string, dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	if model == "" {
		model = DefaultMockModel
	}
	return &MockEmbedder{model: model, dimensions: dimensions}
}

// Embed returns a deterministic embedding for text.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emb := make([]float32, e.dimensions)
	words := SplitWords(text)
	for _, w := range words {
		h := e.hash(w)
		idx := int(h % uint64(e.dimensions))
		if h&(1<<63) != 0 {
			emb[idx]--
		} else {
			emb[idx]++
		}
	}
	if len(words) == 0 {
		h := float64(e.hash(text) % 1000003)
		for i := range emb {
			emb[i] = float32(math.Sin(h*float64(i+1))*0.1 + 0.01)
		}
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

func (e *MockEmbedder) hash(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(e.model))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// EmbedBatch calls Embed for each text.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Model returns the model name.
func (e *MockEmbedder) Model() string {
	return e.model
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
