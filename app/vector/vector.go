// Package vector adapts the external embedding service and nearest-neighbour
// index used for semantic search.
package vector

import (
	"context"
	"errors"
)

// ErrDimensionMismatch is returned when a vector does not have the configured
// number of dimensions.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Match is one nearest-neighbour hit. Similarity is cosine similarity in
// [-1, 1].
type Match struct {
	EntryID    int64
	Similarity float64
}

type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type Index interface {
	Upsert(ctx context.Context, entryID int64, embedding []float32) error
	Search(ctx context.Context, embedding []float32, topK int) ([]Match, error)
	Delete(ctx context.Context, entryIDs []int64) error
	Dimensions() int
}
