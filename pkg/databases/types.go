package databases

import (
	"errors"
	"fmt"
)

// Point is one vector plus its payload, keyed by a UUID point id.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]interface{}
}

// SearchResult is one scored point from a vector search.
type SearchResult struct {
	ID      string
	Score   float64
	Payload map[string]interface{}
}

// PayloadItem is one point id with its payload, as returned by scrolling.
type PayloadItem struct {
	ID      string
	Payload map[string]interface{}
}

// ErrDimensionMismatch means an existing collection was created with a
// different vector size than the configured embedding dimension.
var ErrDimensionMismatch = errors.New("collection vector dimension mismatch")

// StorageError wraps a vector store failure with an operator hint, so the
// HTTP surface can answer 503 with actionable guidance instead of a bare
// stack of gRPC noise.
type StorageError struct {
	Operation string
	Hint      string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("qdrant %s failed: %v", e.Operation, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
