// Package provider defines the contracts for the remote model services the
// engine depends on: batch embeddings and cross-encoder reranking. Concrete
// clients live in subpackages, one per vendor.
package provider

import (
	"context"
	"fmt"
)

// EmbedMode selects the side of an asymmetric embedding space. Documents are
// embedded once at ingestion time; queries are embedded live. Both must use
// the same model and dimensionality or the index becomes unsearchable.
type EmbedMode string

const (
	EmbedModeDocument EmbedMode = "document"
	EmbedModeQuery    EmbedMode = "query"
)

// Embedder turns texts into vectors. Implementations must preserve order and
// length (output[i] embeds input[i]) and must return an empty result without
// any network call when texts is empty.
type Embedder interface {
	Embed(ctx context.Context, texts []string, mode EmbedMode) ([][]float32, error)
}

// RerankResult is one scored document from a rerank call. Index refers to the
// position in the submitted documents slice.
type RerankResult struct {
	Index          int
	RelevanceScore float64
}

// Reranker scores documents against a query with a cross-encoder and returns
// at most topK results, best first.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error)
}

// StatusError is returned when a provider answers with a non-2xx status. The
// body is retained so operators can see the provider's own error message.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}
