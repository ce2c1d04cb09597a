package model

import (
	"context"
	"errors"
)

// ErrEmbedding marks any failure of the embedding backend. Callers abort
// ingestion or query handling when they see it; chunks are never persisted
// without embeddings.
var ErrEmbedding = errors.New("embedding failed")

// Embedder maps text to fixed-length unit vectors. The underlying model is
// asymmetric: passages and queries are encoded with different prefixes and
// must not be expected to produce identical vectors for the same text.
//
// Implementations are constructed once at startup and injected into call
// sites; concurrent calls must be safe.
type Embedder interface {
	EmbedPassages(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dim() int
}
